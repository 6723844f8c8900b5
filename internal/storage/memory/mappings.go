package memory

import (
	"context"
	"sync"

	"github.com/ternarybob/gantry/internal/interfaces"
	"github.com/ternarybob/gantry/internal/models"
)

// MappingStore keeps job mappings indexed both ways.
type MappingStore struct {
	mu         sync.RWMutex
	byJobID    map[string]*models.JobMapping
	byPromptID map[string]*models.JobMapping
}

func NewMappingStore() *MappingStore {
	return &MappingStore{
		byJobID:    make(map[string]*models.JobMapping),
		byPromptID: make(map[string]*models.JobMapping),
	}
}

func (s *MappingStore) Save(_ context.Context, mapping *models.JobMapping) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if prev, ok := s.byJobID[mapping.GatewayJobID]; ok {
		delete(s.byPromptID, prev.PromptID)
	}
	copied := *mapping
	s.byJobID[mapping.GatewayJobID] = &copied
	s.byPromptID[mapping.PromptID] = &copied
	return nil
}

func (s *MappingStore) GetByGatewayJobID(_ context.Context, gatewayJobID string) (*models.JobMapping, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	mapping, ok := s.byJobID[gatewayJobID]
	if !ok {
		return nil, interfaces.ErrNotFound
	}
	copied := *mapping
	return &copied, nil
}

func (s *MappingStore) GetByPromptID(_ context.Context, promptID string) (*models.JobMapping, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	mapping, ok := s.byPromptID[promptID]
	if !ok {
		return nil, interfaces.ErrNotFound
	}
	copied := *mapping
	return &copied, nil
}

func (s *MappingStore) Delete(_ context.Context, gatewayJobID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	mapping, ok := s.byJobID[gatewayJobID]
	if !ok {
		return interfaces.ErrNotFound
	}
	delete(s.byPromptID, mapping.PromptID)
	delete(s.byJobID, gatewayJobID)
	return nil
}

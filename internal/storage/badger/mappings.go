package badger

import (
	"context"
	"errors"

	"github.com/timshannon/badgerhold/v4"

	"github.com/ternarybob/gantry/internal/interfaces"
	"github.com/ternarybob/gantry/internal/models"
)

// MappingStore persists job mappings in the cache store.
type MappingStore struct {
	m *Manager
}

func (s *MappingStore) Save(ctx context.Context, mapping *models.JobMapping) error {
	if s.m.isDegraded() {
		return s.m.fallback.Mappings().Save(ctx, mapping)
	}
	if err := s.m.store.Upsert(mapping.GatewayJobID, mapping); err != nil {
		s.m.degrade("save mapping", err)
		return s.m.fallback.Mappings().Save(ctx, mapping)
	}
	return nil
}

func (s *MappingStore) GetByGatewayJobID(ctx context.Context, gatewayJobID string) (*models.JobMapping, error) {
	if s.m.isDegraded() {
		return s.m.fallback.Mappings().GetByGatewayJobID(ctx, gatewayJobID)
	}
	var mapping models.JobMapping
	err := s.m.store.Get(gatewayJobID, &mapping)
	if errors.Is(err, badgerhold.ErrNotFound) {
		return nil, interfaces.ErrNotFound
	}
	if err != nil {
		s.m.degrade("get mapping", err)
		return s.m.fallback.Mappings().GetByGatewayJobID(ctx, gatewayJobID)
	}
	return &mapping, nil
}

func (s *MappingStore) GetByPromptID(ctx context.Context, promptID string) (*models.JobMapping, error) {
	if s.m.isDegraded() {
		return s.m.fallback.Mappings().GetByPromptID(ctx, promptID)
	}
	var mappings []*models.JobMapping
	err := s.m.store.Find(&mappings, badgerhold.Where("PromptID").Eq(promptID))
	if err != nil {
		s.m.degrade("find mapping", err)
		return s.m.fallback.Mappings().GetByPromptID(ctx, promptID)
	}
	if len(mappings) == 0 {
		return nil, interfaces.ErrNotFound
	}
	return mappings[0], nil
}

func (s *MappingStore) Delete(ctx context.Context, gatewayJobID string) error {
	if s.m.isDegraded() {
		return s.m.fallback.Mappings().Delete(ctx, gatewayJobID)
	}
	err := s.m.store.Delete(gatewayJobID, models.JobMapping{})
	if errors.Is(err, badgerhold.ErrNotFound) {
		return interfaces.ErrNotFound
	}
	if err != nil {
		s.m.degrade("delete mapping", err)
		return s.m.fallback.Mappings().Delete(ctx, gatewayJobID)
	}
	return nil
}

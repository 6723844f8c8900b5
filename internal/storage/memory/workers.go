package memory

import (
	"context"
	"sort"
	"sync"

	"github.com/ternarybob/gantry/internal/interfaces"
	"github.com/ternarybob/gantry/internal/models"
)

// WorkerStore keeps worker registrations in a mutex-guarded map.
type WorkerStore struct {
	mu      sync.RWMutex
	workers map[string]*models.WorkerInfo
}

func NewWorkerStore() *WorkerStore {
	return &WorkerStore{workers: make(map[string]*models.WorkerInfo)}
}

func (s *WorkerStore) Save(_ context.Context, worker *models.WorkerInfo) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.workers[worker.WorkerID] = worker.Clone()
	return nil
}

func (s *WorkerStore) Get(_ context.Context, workerID string) (*models.WorkerInfo, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	worker, ok := s.workers[workerID]
	if !ok {
		return nil, interfaces.ErrNotFound
	}
	return worker.Clone(), nil
}

func (s *WorkerStore) List(_ context.Context) ([]*models.WorkerInfo, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*models.WorkerInfo, 0, len(s.workers))
	for _, worker := range s.workers {
		out = append(out, worker.Clone())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].WorkerID < out[j].WorkerID })
	return out, nil
}

func (s *WorkerStore) Delete(_ context.Context, workerID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.workers[workerID]; !ok {
		return interfaces.ErrNotFound
	}
	delete(s.workers, workerID)
	return nil
}

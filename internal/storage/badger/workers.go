package badger

import (
	"context"
	"errors"
	"sort"

	"github.com/timshannon/badgerhold/v4"

	"github.com/ternarybob/gantry/internal/interfaces"
	"github.com/ternarybob/gantry/internal/models"
)

// WorkerStore persists worker registrations in the cache store.
type WorkerStore struct {
	m *Manager
}

func (s *WorkerStore) Save(ctx context.Context, worker *models.WorkerInfo) error {
	if s.m.isDegraded() {
		return s.m.fallback.Workers().Save(ctx, worker)
	}
	if err := s.m.store.Upsert(worker.WorkerID, worker); err != nil {
		s.m.degrade("save worker", err)
		return s.m.fallback.Workers().Save(ctx, worker)
	}
	return nil
}

func (s *WorkerStore) Get(ctx context.Context, workerID string) (*models.WorkerInfo, error) {
	if s.m.isDegraded() {
		return s.m.fallback.Workers().Get(ctx, workerID)
	}
	var worker models.WorkerInfo
	err := s.m.store.Get(workerID, &worker)
	if errors.Is(err, badgerhold.ErrNotFound) {
		return nil, interfaces.ErrNotFound
	}
	if err != nil {
		s.m.degrade("get worker", err)
		return s.m.fallback.Workers().Get(ctx, workerID)
	}
	return &worker, nil
}

func (s *WorkerStore) List(ctx context.Context) ([]*models.WorkerInfo, error) {
	if s.m.isDegraded() {
		return s.m.fallback.Workers().List(ctx)
	}
	var workers []*models.WorkerInfo
	if err := s.m.store.Find(&workers, nil); err != nil {
		s.m.degrade("list workers", err)
		return s.m.fallback.Workers().List(ctx)
	}
	sort.Slice(workers, func(i, j int) bool { return workers[i].WorkerID < workers[j].WorkerID })
	return workers, nil
}

func (s *WorkerStore) Delete(ctx context.Context, workerID string) error {
	if s.m.isDegraded() {
		return s.m.fallback.Workers().Delete(ctx, workerID)
	}
	err := s.m.store.Delete(workerID, models.WorkerInfo{})
	if errors.Is(err, badgerhold.ErrNotFound) {
		return interfaces.ErrNotFound
	}
	if err != nil {
		s.m.degrade("delete worker", err)
		return s.m.fallback.Workers().Delete(ctx, workerID)
	}
	return nil
}

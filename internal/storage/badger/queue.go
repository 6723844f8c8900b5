package badger

import (
	"context"
	"errors"
	"sort"
	"sync"

	"github.com/timshannon/badgerhold/v4"

	"github.com/ternarybob/gantry/internal/interfaces"
	"github.com/ternarybob/gantry/internal/models"
)

// PendingQueueStore persists the admission queue in the cache store. Badger
// transactions do not give us an ordered pop on their own, so a process-wide
// mutex serializes queue mutations; with a single gateway process writing
// the cache that is sufficient for exactly-once pops.
type PendingQueueStore struct {
	m  *Manager
	mu sync.Mutex
}

func (s *PendingQueueStore) Enqueue(ctx context.Context, job *models.QueuedJob) error {
	if s.m.isDegraded() {
		return s.m.fallback.PendingQueue().Enqueue(ctx, job)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.m.store.Upsert(job.GatewayJobID, job); err != nil {
		s.m.degrade("enqueue job", err)
		return s.m.fallback.PendingQueue().Enqueue(ctx, job)
	}
	return nil
}

func (s *PendingQueueStore) Pop(ctx context.Context) (*models.QueuedJob, error) {
	if s.m.isDegraded() {
		return s.m.fallback.PendingQueue().Pop(ctx)
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	jobs, err := s.sorted()
	if err != nil {
		s.m.degrade("pop job", err)
		return s.m.fallback.PendingQueue().Pop(ctx)
	}
	if len(jobs) == 0 {
		return nil, interfaces.ErrQueueEmpty
	}
	head := jobs[0]
	if err := s.m.store.Delete(head.GatewayJobID, models.QueuedJob{}); err != nil {
		s.m.degrade("pop job", err)
		return s.m.fallback.PendingQueue().Pop(ctx)
	}
	return head, nil
}

func (s *PendingQueueStore) Peek(ctx context.Context) (*models.QueuedJob, error) {
	if s.m.isDegraded() {
		return s.m.fallback.PendingQueue().Peek(ctx)
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	jobs, err := s.sorted()
	if err != nil {
		s.m.degrade("peek job", err)
		return s.m.fallback.PendingQueue().Peek(ctx)
	}
	if len(jobs) == 0 {
		return nil, interfaces.ErrQueueEmpty
	}
	return jobs[0], nil
}

func (s *PendingQueueStore) List(ctx context.Context) ([]*models.QueuedJob, error) {
	if s.m.isDegraded() {
		return s.m.fallback.PendingQueue().List(ctx)
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	jobs, err := s.sorted()
	if err != nil {
		s.m.degrade("list queue", err)
		return s.m.fallback.PendingQueue().List(ctx)
	}
	return jobs, nil
}

func (s *PendingQueueStore) Len(ctx context.Context) (int, error) {
	if s.m.isDegraded() {
		return s.m.fallback.PendingQueue().Len(ctx)
	}
	count, err := s.m.store.Count(&models.QueuedJob{}, nil)
	if err != nil {
		s.m.degrade("count queue", err)
		return s.m.fallback.PendingQueue().Len(ctx)
	}
	return int(count), nil
}

func (s *PendingQueueStore) Remove(ctx context.Context, gatewayJobID string) error {
	if s.m.isDegraded() {
		return s.m.fallback.PendingQueue().Remove(ctx, gatewayJobID)
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	err := s.m.store.Delete(gatewayJobID, models.QueuedJob{})
	if errors.Is(err, badgerhold.ErrNotFound) {
		return interfaces.ErrNotFound
	}
	if err != nil {
		s.m.degrade("remove job", err)
		return s.m.fallback.PendingQueue().Remove(ctx, gatewayJobID)
	}
	return nil
}

func (s *PendingQueueStore) sorted() ([]*models.QueuedJob, error) {
	var jobs []*models.QueuedJob
	if err := s.m.store.Find(&jobs, nil); err != nil {
		return nil, err
	}
	sort.SliceStable(jobs, func(i, j int) bool { return jobs[i].Before(jobs[j]) })
	return jobs, nil
}

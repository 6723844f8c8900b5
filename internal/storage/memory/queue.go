package memory

import (
	"context"
	"sort"
	"sync"

	"github.com/ternarybob/gantry/internal/interfaces"
	"github.com/ternarybob/gantry/internal/models"
)

// PendingQueueStore keeps the admission queue as a slice re-sorted on
// enqueue. The queue is small (bounded by admission rate), so a sorted
// slice under a coarse lock is simpler than a heap and gives Pop and
// Peek O(1) access to the head.
type PendingQueueStore struct {
	mu   sync.Mutex
	jobs []*models.QueuedJob
}

func NewPendingQueueStore() *PendingQueueStore {
	return &PendingQueueStore{}
}

func (s *PendingQueueStore) Enqueue(_ context.Context, job *models.QueuedJob) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	copied := *job
	s.jobs = append(s.jobs, &copied)
	sort.SliceStable(s.jobs, func(i, j int) bool { return s.jobs[i].Before(s.jobs[j]) })
	return nil
}

func (s *PendingQueueStore) Pop(_ context.Context) (*models.QueuedJob, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.jobs) == 0 {
		return nil, interfaces.ErrQueueEmpty
	}
	job := s.jobs[0]
	s.jobs = s.jobs[1:]
	return job, nil
}

func (s *PendingQueueStore) Peek(_ context.Context) (*models.QueuedJob, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.jobs) == 0 {
		return nil, interfaces.ErrQueueEmpty
	}
	copied := *s.jobs[0]
	return &copied, nil
}

func (s *PendingQueueStore) List(_ context.Context) ([]*models.QueuedJob, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*models.QueuedJob, 0, len(s.jobs))
	for _, job := range s.jobs {
		copied := *job
		out = append(out, &copied)
	}
	return out, nil
}

func (s *PendingQueueStore) Len(_ context.Context) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.jobs), nil
}

func (s *PendingQueueStore) Remove(_ context.Context, gatewayJobID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i, job := range s.jobs {
		if job.GatewayJobID == gatewayJobID {
			s.jobs = append(s.jobs[:i], s.jobs[i+1:]...)
			return nil
		}
	}
	return interfaces.ErrNotFound
}

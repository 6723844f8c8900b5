package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/ternarybob/gantry/internal/interfaces"
	"github.com/ternarybob/gantry/internal/models"
)

// HistoryStore keeps task records in a mutex-guarded map with a prompt-id
// index for push-channel lookups.
type HistoryStore struct {
	mu         sync.RWMutex
	tasks      map[string]*models.TaskRecord
	byPromptID map[string]string
}

func NewHistoryStore() *HistoryStore {
	return &HistoryStore{
		tasks:      make(map[string]*models.TaskRecord),
		byPromptID: make(map[string]string),
	}
}

func (s *HistoryStore) Save(_ context.Context, task *models.TaskRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if prev, ok := s.tasks[task.TaskID]; ok && prev.PromptID != "" && prev.PromptID != task.PromptID {
		delete(s.byPromptID, prev.PromptID)
	}
	s.tasks[task.TaskID] = task.Clone()
	if task.PromptID != "" {
		s.byPromptID[task.PromptID] = task.TaskID
	}
	return nil
}

func (s *HistoryStore) Get(_ context.Context, taskID string) (*models.TaskRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	task, ok := s.tasks[taskID]
	if !ok {
		return nil, interfaces.ErrNotFound
	}
	return task.Clone(), nil
}

func (s *HistoryStore) GetByPromptID(_ context.Context, promptID string) (*models.TaskRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	taskID, ok := s.byPromptID[promptID]
	if !ok {
		return nil, interfaces.ErrNotFound
	}
	return s.tasks[taskID].Clone(), nil
}

func (s *HistoryStore) List(_ context.Context, opts interfaces.TaskListOptions) ([]*models.TaskRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*models.TaskRecord, 0, len(s.tasks))
	for _, task := range s.tasks {
		if opts.Status != "" && task.Status != opts.Status {
			continue
		}
		if opts.WorkerID != "" && task.WorkerID != opts.WorkerID {
			continue
		}
		out = append(out, task.Clone())
	}
	// Newest first, task id as tie-break for a stable page order.
	sort.Slice(out, func(i, j int) bool {
		if !out[i].SubmittedAt.Equal(out[j].SubmittedAt) {
			return out[i].SubmittedAt.After(out[j].SubmittedAt)
		}
		return out[i].TaskID < out[j].TaskID
	})
	if opts.Offset > 0 {
		if opts.Offset >= len(out) {
			return []*models.TaskRecord{}, nil
		}
		out = out[opts.Offset:]
	}
	if opts.Limit > 0 && opts.Limit < len(out) {
		out = out[:opts.Limit]
	}
	return out, nil
}

func (s *HistoryStore) Delete(_ context.Context, taskID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	task, ok := s.tasks[taskID]
	if !ok {
		return interfaces.ErrNotFound
	}
	if task.PromptID != "" {
		delete(s.byPromptID, task.PromptID)
	}
	delete(s.tasks, taskID)
	return nil
}

func (s *HistoryStore) DeleteOlderThan(_ context.Context, cutoff time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	removed := 0
	for taskID, task := range s.tasks {
		if task.Status.IsTerminal() && task.SubmittedAt.Before(cutoff) {
			if task.PromptID != "" {
				delete(s.byPromptID, task.PromptID)
			}
			delete(s.tasks, taskID)
			removed++
		}
	}
	return removed, nil
}

package badger

import (
	"context"
	"errors"
	"sort"
	"time"

	"github.com/timshannon/badgerhold/v4"

	"github.com/ternarybob/gantry/internal/interfaces"
	"github.com/ternarybob/gantry/internal/models"
)

// HistoryStore persists task lifecycle records in the cache store.
type HistoryStore struct {
	m *Manager
}

func (s *HistoryStore) Save(ctx context.Context, task *models.TaskRecord) error {
	if s.m.isDegraded() {
		return s.m.fallback.History().Save(ctx, task)
	}
	if err := s.m.store.Upsert(task.TaskID, task); err != nil {
		s.m.degrade("save task", err)
		return s.m.fallback.History().Save(ctx, task)
	}
	return nil
}

func (s *HistoryStore) Get(ctx context.Context, taskID string) (*models.TaskRecord, error) {
	if s.m.isDegraded() {
		return s.m.fallback.History().Get(ctx, taskID)
	}
	var task models.TaskRecord
	err := s.m.store.Get(taskID, &task)
	if errors.Is(err, badgerhold.ErrNotFound) {
		return nil, interfaces.ErrNotFound
	}
	if err != nil {
		s.m.degrade("get task", err)
		return s.m.fallback.History().Get(ctx, taskID)
	}
	return &task, nil
}

func (s *HistoryStore) GetByPromptID(ctx context.Context, promptID string) (*models.TaskRecord, error) {
	if s.m.isDegraded() {
		return s.m.fallback.History().GetByPromptID(ctx, promptID)
	}
	var tasks []*models.TaskRecord
	err := s.m.store.Find(&tasks, badgerhold.Where("PromptID").Eq(promptID))
	if err != nil {
		s.m.degrade("find task", err)
		return s.m.fallback.History().GetByPromptID(ctx, promptID)
	}
	if len(tasks) == 0 {
		return nil, interfaces.ErrNotFound
	}
	return tasks[0], nil
}

func (s *HistoryStore) List(ctx context.Context, opts interfaces.TaskListOptions) ([]*models.TaskRecord, error) {
	if s.m.isDegraded() {
		return s.m.fallback.History().List(ctx, opts)
	}
	var tasks []*models.TaskRecord
	if err := s.m.store.Find(&tasks, nil); err != nil {
		s.m.degrade("list tasks", err)
		return s.m.fallback.History().List(ctx, opts)
	}

	filtered := tasks[:0]
	for _, task := range tasks {
		if opts.Status != "" && task.Status != opts.Status {
			continue
		}
		if opts.WorkerID != "" && task.WorkerID != opts.WorkerID {
			continue
		}
		filtered = append(filtered, task)
	}
	sort.Slice(filtered, func(i, j int) bool {
		if !filtered[i].SubmittedAt.Equal(filtered[j].SubmittedAt) {
			return filtered[i].SubmittedAt.After(filtered[j].SubmittedAt)
		}
		return filtered[i].TaskID < filtered[j].TaskID
	})
	if opts.Offset > 0 {
		if opts.Offset >= len(filtered) {
			return []*models.TaskRecord{}, nil
		}
		filtered = filtered[opts.Offset:]
	}
	if opts.Limit > 0 && opts.Limit < len(filtered) {
		filtered = filtered[:opts.Limit]
	}
	return filtered, nil
}

func (s *HistoryStore) Delete(ctx context.Context, taskID string) error {
	if s.m.isDegraded() {
		return s.m.fallback.History().Delete(ctx, taskID)
	}
	err := s.m.store.Delete(taskID, models.TaskRecord{})
	if errors.Is(err, badgerhold.ErrNotFound) {
		return interfaces.ErrNotFound
	}
	if err != nil {
		s.m.degrade("delete task", err)
		return s.m.fallback.History().Delete(ctx, taskID)
	}
	return nil
}

func (s *HistoryStore) DeleteOlderThan(ctx context.Context, cutoff time.Time) (int, error) {
	if s.m.isDegraded() {
		return s.m.fallback.History().DeleteOlderThan(ctx, cutoff)
	}
	var tasks []*models.TaskRecord
	if err := s.m.store.Find(&tasks, badgerhold.Where("SubmittedAt").Lt(cutoff)); err != nil {
		s.m.degrade("prune tasks", err)
		return s.m.fallback.History().DeleteOlderThan(ctx, cutoff)
	}
	removed := 0
	for _, task := range tasks {
		if !task.Status.IsTerminal() {
			continue
		}
		if err := s.m.store.Delete(task.TaskID, models.TaskRecord{}); err != nil {
			s.m.degrade("prune tasks", err)
			return removed, nil
		}
		removed++
	}
	return removed, nil
}

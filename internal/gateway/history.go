package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/ternarybob/arbor"

	"github.com/ternarybob/gantry/internal/common"
	"github.com/ternarybob/gantry/internal/interfaces"
	"github.com/ternarybob/gantry/internal/models"
)

// History owns the task lifecycle state machine on top of the history
// store. Transitions only move forward; progress never decreases; terminal
// states absorb all later updates silently.
type History struct {
	store interfaces.HistoryStore
	log   arbor.ILogger
}

func NewHistory(store interfaces.HistoryStore) *History {
	return &History{store: store, log: common.GetLogger()}
}

// CreatePending records a new priority submission entering the admission
// queue.
func (h *History) CreatePending(ctx context.Context, gatewayJobID string, priority int) error {
	task := &models.TaskRecord{
		TaskID:      gatewayJobID,
		Priority:    priority,
		Status:      models.TaskStatusPending,
		SubmittedAt: time.Now(),
	}
	if err := h.store.Save(ctx, task); err != nil {
		return fmt.Errorf("failed to create task record: %w", err)
	}
	return nil
}

// MarkQueued moves a task from pending into the durable queue.
func (h *History) MarkQueued(ctx context.Context, gatewayJobID string) error {
	return h.transition(ctx, gatewayJobID, models.TaskStatusQueued, nil)
}

// MarkSubmitted records a successful handoff to a worker.
func (h *History) MarkSubmitted(ctx context.Context, gatewayJobID, promptID, workerID string) error {
	return h.transition(ctx, gatewayJobID, models.TaskStatusSubmitted, func(task *models.TaskRecord) {
		task.PromptID = promptID
		task.WorkerID = workerID
	})
}

// UpdateProgress folds a progress event into the task, moving it to
// running on the first event. Progress is clamped monotone.
func (h *History) UpdateProgress(ctx context.Context, taskID string, progress int) error {
	return h.transitionTask(ctx, taskID, func(task *models.TaskRecord) bool {
		if task.Status.IsTerminal() {
			return false
		}
		changed := false
		if task.Status != models.TaskStatusRunning && task.Status.CanTransition(models.TaskStatusRunning) {
			task.Status = models.TaskStatusRunning
			now := time.Now()
			task.StartedAt = &now
			changed = true
		}
		if progress > task.Progress {
			task.Progress = progress
			changed = true
		}
		return changed
	})
}

// MarkCompleted finalizes a task as done with full progress.
func (h *History) MarkCompleted(ctx context.Context, taskID string, result json.RawMessage) error {
	return h.transitionTask(ctx, taskID, func(task *models.TaskRecord) bool {
		if task.Status.IsTerminal() {
			return false
		}
		task.Status = models.TaskStatusDone
		task.Progress = 100
		now := time.Now()
		task.CompletedAt = &now
		if task.StartedAt == nil {
			task.StartedAt = &now
		}
		if len(result) > 0 {
			task.Result = result
		}
		return true
	})
}

// MarkFailed finalizes a task as failed. Progress is left where it was.
func (h *History) MarkFailed(ctx context.Context, taskID, message string) error {
	return h.transitionTask(ctx, taskID, func(task *models.TaskRecord) bool {
		if task.Status.IsTerminal() {
			return false
		}
		task.Status = models.TaskStatusFailed
		task.ErrorMessage = message
		now := time.Now()
		task.CompletedAt = &now
		return true
	})
}

// UpsertByPromptID returns the task tracking promptID, creating a running
// record when none exists. Direct submissions bypass the admission queue,
// so their first sighting is the submission response or a push-channel
// event; the record is keyed by the prompt id itself. An existing record
// keeps its identity but its worker assignment follows the latest
// observation.
func (h *History) UpsertByPromptID(ctx context.Context, promptID, workerID string, priority int) (*models.TaskRecord, error) {
	task, err := h.store.GetByPromptID(ctx, promptID)
	if err == nil {
		if workerID != "" && task.WorkerID != workerID {
			task.WorkerID = workerID
			if err := h.store.Save(ctx, task); err != nil {
				return nil, fmt.Errorf("failed to update task worker: %w", err)
			}
		}
		return task, nil
	}
	if !errors.Is(err, interfaces.ErrNotFound) {
		return nil, fmt.Errorf("failed to look up task by prompt id: %w", err)
	}

	now := time.Now()
	task = &models.TaskRecord{
		TaskID:      promptID,
		PromptID:    promptID,
		WorkerID:    workerID,
		Priority:    priority,
		Status:      models.TaskStatusRunning,
		SubmittedAt: now,
		StartedAt:   &now,
	}
	if err := h.store.Save(ctx, task); err != nil {
		return nil, fmt.Errorf("failed to create task record for prompt: %w", err)
	}
	return task, nil
}

// Get returns one task by its task id.
func (h *History) Get(ctx context.Context, taskID string) (*models.TaskRecord, error) {
	return h.store.Get(ctx, taskID)
}

// GetByPromptID returns the task tracking a worker prompt id.
func (h *History) GetByPromptID(ctx context.Context, promptID string) (*models.TaskRecord, error) {
	return h.store.GetByPromptID(ctx, promptID)
}

// List returns filtered, paged task records, newest first.
func (h *History) List(ctx context.Context, opts interfaces.TaskListOptions) ([]*models.TaskRecord, error) {
	return h.store.List(ctx, opts)
}

// SyncTaskStatus reconciles a non-terminal submitted/running task against
// the worker's actual state: still queued on the worker means no change,
// present in worker history means done, absent from both means failed
// (the worker lost it).
func (h *History) SyncTaskStatus(ctx context.Context, task *models.TaskRecord, queue *models.WorkerQueue, historyEntry json.RawMessage) error {
	if task.Status.IsTerminal() || task.PromptID == "" {
		return nil
	}
	if queue != nil && queue.ContainsPromptID(task.PromptID) {
		return nil
	}
	if len(historyEntry) > 0 {
		return h.MarkCompleted(ctx, task.TaskID, historyEntry)
	}
	return h.MarkFailed(ctx, task.TaskID, "task no longer present on worker")
}

// transition applies a forward status change with optional extra mutation.
func (h *History) transition(ctx context.Context, taskID string, next models.TaskStatus, mutate func(*models.TaskRecord)) error {
	return h.transitionTask(ctx, taskID, func(task *models.TaskRecord) bool {
		if !task.Status.CanTransition(next) {
			return false
		}
		task.Status = next
		if mutate != nil {
			mutate(task)
		}
		return true
	})
}

// transitionTask loads, mutates, and saves one task. A false return from
// apply means the update is absorbed without a write.
func (h *History) transitionTask(ctx context.Context, taskID string, apply func(*models.TaskRecord) bool) error {
	task, err := h.store.Get(ctx, taskID)
	if err != nil {
		return err
	}
	if !apply(task) {
		return nil
	}
	if err := h.store.Save(ctx, task); err != nil {
		return fmt.Errorf("failed to save task %s: %w", taskID, err)
	}
	return nil
}

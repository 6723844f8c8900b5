package models

import (
	"encoding/json"
	"time"
)

// TaskStatus is the lifecycle state of a task in the history store.
type TaskStatus string

const (
	TaskStatusPending   TaskStatus = "pending"
	TaskStatusQueued    TaskStatus = "queued"
	TaskStatusSubmitted TaskStatus = "submitted"
	TaskStatusRunning   TaskStatus = "running"
	TaskStatusDone      TaskStatus = "done"
	TaskStatusFailed    TaskStatus = "failed"
)

// IsTerminal reports whether the status is final.
func (s TaskStatus) IsTerminal() bool {
	return s == TaskStatusDone || s == TaskStatusFailed
}

// rank orders statuses along the lifecycle so transitions can be checked
// for monotonicity. done and failed share the top rank.
func (s TaskStatus) rank() int {
	switch s {
	case TaskStatusPending:
		return 0
	case TaskStatusQueued:
		return 1
	case TaskStatusSubmitted:
		return 2
	case TaskStatusRunning:
		return 3
	case TaskStatusDone, TaskStatusFailed:
		return 4
	default:
		return -1
	}
}

// CanTransition reports whether moving from s to next is a valid forward
// step. Terminal states absorb everything.
func (s TaskStatus) CanTransition(next TaskStatus) bool {
	if s.IsTerminal() {
		return false
	}
	return next.rank() > s.rank()
}

// TaskRecord is one row of the task history. TaskID equals the gateway job
// id for priority-path tasks and the worker prompt id for direct-path tasks.
type TaskRecord struct {
	TaskID       string          `json:"task_id" badgerhold:"key"`
	PromptID     string          `json:"prompt_id,omitempty"`
	WorkerID     string          `json:"worker_id,omitempty"`
	Priority     int             `json:"priority"`
	Status       TaskStatus      `json:"status"`
	Progress     int             `json:"progress"`
	ErrorMessage string          `json:"error_message,omitempty"`
	SubmittedAt  time.Time       `json:"submitted_at"`
	StartedAt    *time.Time      `json:"started_at,omitempty"`
	CompletedAt  *time.Time      `json:"completed_at,omitempty"`
	Result       json.RawMessage `json:"result,omitempty"`
}

// Clone returns a copy safe to mutate without affecting store internals.
func (t *TaskRecord) Clone() *TaskRecord {
	c := *t
	if t.StartedAt != nil {
		started := *t.StartedAt
		c.StartedAt = &started
	}
	if t.CompletedAt != nil {
		completed := *t.CompletedAt
		c.CompletedAt = &completed
	}
	return &c
}

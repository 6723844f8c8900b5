package interfaces

import (
	"context"
	"errors"
	"time"

	"github.com/ternarybob/gantry/internal/models"
)

// ErrNotFound is returned when a requested record does not exist.
var ErrNotFound = errors.New("record not found")

// ErrQueueEmpty is returned by Pop when no job is pending.
var ErrQueueEmpty = errors.New("pending queue is empty")

// WorkerStore persists worker registrations. Load-cache fields are not
// stored; the registry rebuilds them by probing.
type WorkerStore interface {
	Save(ctx context.Context, worker *models.WorkerInfo) error
	Get(ctx context.Context, workerID string) (*models.WorkerInfo, error)
	List(ctx context.Context) ([]*models.WorkerInfo, error)
	Delete(ctx context.Context, workerID string) error
}

// MappingStore persists gateway-job to worker-prompt mappings.
type MappingStore interface {
	Save(ctx context.Context, mapping *models.JobMapping) error
	GetByGatewayJobID(ctx context.Context, gatewayJobID string) (*models.JobMapping, error)
	GetByPromptID(ctx context.Context, promptID string) (*models.JobMapping, error)
	Delete(ctx context.Context, gatewayJobID string) error
}

// PendingQueueStore is the durable admission queue. Pop removes and returns
// the highest-priority job atomically; concurrent Pops never yield the same
// job twice.
type PendingQueueStore interface {
	Enqueue(ctx context.Context, job *models.QueuedJob) error
	Pop(ctx context.Context) (*models.QueuedJob, error)
	Peek(ctx context.Context) (*models.QueuedJob, error)
	List(ctx context.Context) ([]*models.QueuedJob, error)
	Len(ctx context.Context) (int, error)
	Remove(ctx context.Context, gatewayJobID string) error
}

// TaskListOptions filters and pages history listings.
type TaskListOptions struct {
	Status   models.TaskStatus
	WorkerID string
	Limit    int
	Offset   int
}

// HistoryStore persists task lifecycle records.
type HistoryStore interface {
	Save(ctx context.Context, task *models.TaskRecord) error
	Get(ctx context.Context, taskID string) (*models.TaskRecord, error)
	GetByPromptID(ctx context.Context, promptID string) (*models.TaskRecord, error)
	List(ctx context.Context, opts TaskListOptions) ([]*models.TaskRecord, error)
	Delete(ctx context.Context, taskID string) error
	DeleteOlderThan(ctx context.Context, cutoff time.Time) (int, error)
}

// SettingsStore persists small key/value settings such as the global
// worker auth pair.
type SettingsStore interface {
	Set(ctx context.Context, key, value string) error
	Get(ctx context.Context, key string) (string, error)
	Delete(ctx context.Context, key string) error
}

// StorageManager aggregates the per-entity stores over one backend.
type StorageManager interface {
	Workers() WorkerStore
	Mappings() MappingStore
	PendingQueue() PendingQueueStore
	History() HistoryStore
	Settings() SettingsStore
	Backend() string
	Close() error
}

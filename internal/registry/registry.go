// Package registry maintains the in-memory view of the worker fleet and
// the per-worker load cache, backed by the worker store.
package registry

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/ternarybob/arbor"

	"github.com/ternarybob/gantry/internal/common"
	"github.com/ternarybob/gantry/internal/interfaces"
	"github.com/ternarybob/gantry/internal/models"
	"github.com/ternarybob/gantry/internal/settings"
)

// ErrDuplicateURL is returned when a registration's normalized URL collides
// with an existing worker.
var ErrDuplicateURL = errors.New("worker url already registered")

// Registry is the authoritative in-process worker map. Registrations are
// written through to the store; load fields live only in memory.
type Registry struct {
	mu       sync.RWMutex
	workers  map[string]*models.WorkerInfo
	loaded   bool
	store    interfaces.WorkerStore
	settings *settings.Service
	cacheTTL time.Duration
	log      arbor.ILogger
}

func New(store interfaces.WorkerStore, settings *settings.Service, cacheTTL time.Duration) *Registry {
	return &Registry{
		workers:  make(map[string]*models.WorkerInfo),
		store:    store,
		settings: settings,
		cacheTTL: cacheTTL,
		log:      common.GetLogger(),
	}
}

// Load populates the registry from the store. Called once at startup;
// subsequent calls are no-ops.
func (r *Registry) Load(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.loaded {
		return nil
	}
	workers, err := r.store.List(ctx)
	if err != nil {
		return fmt.Errorf("failed to load workers: %w", err)
	}
	for _, worker := range workers {
		r.workers[worker.WorkerID] = worker
	}
	r.loaded = true
	r.log.Info().Int("count", len(workers)).Msg("Worker registry loaded")
	return nil
}

// List returns all workers, enabled or not, sorted by worker id.
func (r *Registry) List() []*models.WorkerInfo {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*models.WorkerInfo, 0, len(r.workers))
	for _, worker := range r.workers {
		out = append(out, worker.Clone())
	}
	sortWorkers(out)
	return out
}

// ListEnabled returns the enabled workers, sorted by worker id.
func (r *Registry) ListEnabled() []*models.WorkerInfo {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*models.WorkerInfo, 0, len(r.workers))
	for _, worker := range r.workers {
		if worker.Enabled {
			out = append(out, worker.Clone())
		}
	}
	sortWorkers(out)
	return out
}

// Get returns one worker by id.
func (r *Registry) Get(workerID string) (*models.WorkerInfo, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	worker, ok := r.workers[workerID]
	if !ok {
		return nil, interfaces.ErrNotFound
	}
	return worker.Clone(), nil
}

// Add registers a new worker. The URL is normalized and checked for
// duplicates; weight defaults to 1.
func (r *Registry) Add(ctx context.Context, worker *models.WorkerInfo) error {
	worker.URL = common.NormalizeWorkerURL(worker.URL)
	if worker.URL == "" {
		return errors.New("worker url is required")
	}
	if worker.WorkerID == "" {
		worker.WorkerID = common.NewWorkerID()
	}
	if worker.Weight <= 0 {
		worker.Weight = 1
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	for _, existing := range r.workers {
		if existing.URL == worker.URL && existing.WorkerID != worker.WorkerID {
			return ErrDuplicateURL
		}
	}
	if err := r.store.Save(ctx, worker); err != nil {
		return fmt.Errorf("failed to persist worker: %w", err)
	}
	r.workers[worker.WorkerID] = worker.Clone()
	r.log.Info().Str("worker_id", worker.WorkerID).Str("url", worker.URL).Msg("Worker registered")
	return nil
}

// Update modifies an existing worker's registration fields, preserving the
// load cache.
func (r *Registry) Update(ctx context.Context, worker *models.WorkerInfo) error {
	worker.URL = common.NormalizeWorkerURL(worker.URL)

	r.mu.Lock()
	defer r.mu.Unlock()
	current, ok := r.workers[worker.WorkerID]
	if !ok {
		return interfaces.ErrNotFound
	}
	for _, existing := range r.workers {
		if existing.URL == worker.URL && existing.WorkerID != worker.WorkerID {
			return ErrDuplicateURL
		}
	}
	if worker.Weight <= 0 {
		worker.Weight = 1
	}

	updated := current.Clone()
	updated.URL = worker.URL
	updated.Name = worker.Name
	updated.Weight = worker.Weight
	updated.Enabled = worker.Enabled
	updated.AuthUsername = worker.AuthUsername
	updated.AuthPassword = worker.AuthPassword

	if err := r.store.Save(ctx, updated); err != nil {
		return fmt.Errorf("failed to persist worker: %w", err)
	}
	r.workers[worker.WorkerID] = updated
	return nil
}

// Remove deletes a worker registration.
func (r *Registry) Remove(ctx context.Context, workerID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.workers[workerID]; !ok {
		return interfaces.ErrNotFound
	}
	if err := r.store.Delete(ctx, workerID); err != nil && !errors.Is(err, interfaces.ErrNotFound) {
		return fmt.Errorf("failed to delete worker: %w", err)
	}
	delete(r.workers, workerID)
	r.log.Info().Str("worker_id", workerID).Msg("Worker removed")
	return nil
}

// UpdateLoad refreshes a worker's load cache after a probe.
func (r *Registry) UpdateLoad(workerID string, running, pending int, healthy bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	worker, ok := r.workers[workerID]
	if !ok {
		return
	}
	worker.QueueRunning = running
	worker.QueuePending = pending
	worker.Healthy = healthy
	worker.CachedAt = time.Now()
}

// MarkUnhealthy records a failed probe without touching queue counts.
func (r *Registry) MarkUnhealthy(workerID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	worker, ok := r.workers[workerID]
	if !ok {
		return
	}
	worker.Healthy = false
	worker.CachedAt = time.Now()
}

// IncrementRunning optimistically bumps the cached running count after a
// successful dispatch so back-to-back selections see the submission before
// the next probe corrects the real numbers.
func (r *Registry) IncrementRunning(workerID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if worker, ok := r.workers[workerID]; ok {
		worker.QueueRunning++
	}
}

// CacheTTL returns the load cache validity window.
func (r *Registry) CacheTTL() time.Duration {
	return r.cacheTTL
}

// CredentialsFor resolves the credentials to use for a worker: per-worker
// auth first, then the global fallback, then none.
func (r *Registry) CredentialsFor(ctx context.Context, worker *models.WorkerInfo) *models.Credentials {
	if creds := worker.Credentials(); creds != nil {
		return creds
	}
	if r.settings == nil {
		return nil
	}
	creds, err := r.settings.GlobalWorkerAuth(ctx)
	if err != nil {
		r.log.Warn().Err(err).Msg("Failed to resolve global worker auth")
		return nil
	}
	return creds
}

func sortWorkers(workers []*models.WorkerInfo) {
	sort.Slice(workers, func(i, j int) bool { return workers[i].WorkerID < workers[j].WorkerID })
}

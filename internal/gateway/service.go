package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"sync"
	"time"

	"github.com/ternarybob/arbor"
	"golang.org/x/time/rate"

	"github.com/ternarybob/gantry/internal/common"
	"github.com/ternarybob/gantry/internal/interfaces"
	"github.com/ternarybob/gantry/internal/models"
	"github.com/ternarybob/gantry/internal/registry"
	"github.com/ternarybob/gantry/internal/workerclient"
)

// Service is the gateway facade the HTTP handlers talk to. It composes the
// selector, admission queue, history, and worker client into the
// submission and status operations.
type Service struct {
	registry *registry.Registry
	selector *Selector
	queue    interfaces.PendingQueueStore
	mappings interfaces.MappingStore
	history  *History
	client   *workerclient.Client
	monitor  *Monitor
	storage  interfaces.StorageManager

	// Throttles fleet-wide live probes triggered by queue reads so a
	// polling dashboard cannot stampede the workers.
	fleetProbe *rate.Limiter

	mu            sync.Mutex
	lastFleetView *FleetQueue

	log arbor.ILogger
}

func NewService(
	reg *registry.Registry,
	selector *Selector,
	queue interfaces.PendingQueueStore,
	mappings interfaces.MappingStore,
	history *History,
	client *workerclient.Client,
	monitor *Monitor,
	storage interfaces.StorageManager,
	fleetProbeInterval time.Duration,
) *Service {
	return &Service{
		registry:   reg,
		selector:   selector,
		queue:      queue,
		mappings:   mappings,
		history:    history,
		client:     client,
		monitor:    monitor,
		storage:    storage,
		fleetProbe: rate.NewLimiter(rate.Every(fleetProbeInterval), 1),
		log:        common.GetLogger(),
	}
}

// History exposes the task history service.
func (s *Service) History() *History { return s.history }

// Registry exposes the worker registry.
func (s *Service) Registry() *registry.Registry { return s.registry }

// DirectResult is the outcome of a direct (unqueued) submission: the
// worker's response is passed through byte-identical.
type DirectResult struct {
	StatusCode int
	Body       []byte
	PromptID   string
	WorkerID   string
}

// SubmitDirect selects a worker and forwards the prompt immediately. The
// worker's response passes through unchanged; on success a running history
// record keyed by the worker's prompt id is created.
func (s *Service) SubmitDirect(ctx context.Context, payload []byte) (*DirectResult, error) {
	worker, err := s.selector.Select(ctx)
	if err != nil {
		return nil, err
	}

	creds := s.registry.CredentialsFor(ctx, worker)
	result, err := s.client.SubmitPrompt(ctx, worker, creds, payload)
	if err != nil {
		return nil, err
	}

	direct := &DirectResult{
		StatusCode: result.StatusCode,
		Body:       result.Body,
		PromptID:   result.PromptID,
		WorkerID:   worker.WorkerID,
	}
	if result.StatusCode == 200 && result.PromptID != "" {
		s.registry.IncrementRunning(worker.WorkerID)
		// Direct-path mappings are keyed by the prompt id itself, matching
		// the task record.
		mapping := &models.JobMapping{
			GatewayJobID: result.PromptID,
			PromptID:     result.PromptID,
			WorkerID:     worker.WorkerID,
		}
		if err := s.mappings.Save(ctx, mapping); err != nil {
			s.log.Warn().Err(err).Str("prompt_id", result.PromptID).Msg("Failed to save direct submission mapping")
		}
		if _, err := s.history.UpsertByPromptID(ctx, result.PromptID, worker.WorkerID, 0); err != nil {
			s.log.Warn().Err(err).Str("prompt_id", result.PromptID).Msg("Failed to track direct submission")
		}
	}
	return direct, nil
}

// SubmitPriority admits a prompt into the durable priority queue and
// returns the gateway job id the caller can poll.
func (s *Service) SubmitPriority(ctx context.Context, payload json.RawMessage, clientID string, priority int) (string, error) {
	gatewayJobID := common.NewGatewayJobID()
	if clientID == "" {
		clientID = common.NewClientID()
	}

	if err := s.history.CreatePending(ctx, gatewayJobID, priority); err != nil {
		return "", err
	}

	job := &models.QueuedJob{
		GatewayJobID: gatewayJobID,
		Prompt:       payload,
		ClientID:     clientID,
		Priority:     priority,
		CreatedAt:    time.Now(),
	}
	if err := s.queue.Enqueue(ctx, job); err != nil {
		if histErr := s.history.MarkFailed(ctx, gatewayJobID, "failed to enqueue"); histErr != nil {
			s.log.Error().Err(histErr).Str("gateway_job_id", gatewayJobID).Msg("Failed to record enqueue failure")
		}
		return "", fmt.Errorf("failed to enqueue job: %w", err)
	}
	if err := s.history.MarkQueued(ctx, gatewayJobID); err != nil {
		s.log.Warn().Err(err).Str("gateway_job_id", gatewayJobID).Msg("Failed to mark job queued")
	}

	s.log.Info().
		Str("gateway_job_id", gatewayJobID).
		Int("priority", priority).
		Msg("Job queued")
	return gatewayJobID, nil
}

// TaskStatus returns the history record for a worker prompt id, first
// reconciling non-terminal records against the worker's live state.
func (s *Service) TaskStatus(ctx context.Context, promptID string) (*models.TaskRecord, error) {
	task, err := s.history.GetByPromptID(ctx, promptID)
	if err != nil {
		return nil, err
	}
	if task.Status.IsTerminal() || task.WorkerID == "" {
		return task, nil
	}
	s.reconcileTask(ctx, task)
	return s.history.GetByPromptID(ctx, promptID)
}

// listReconcileLimit bounds how many stale records one list request will
// probe workers for.
const listReconcileLimit = 20

// ListTasks returns filtered, paged task records. Non-terminal records with
// a worker assignment are first reconciled against their owning workers in
// parallel, so a listing never reports a task as running after the worker
// has finished or dropped it.
func (s *Service) ListTasks(ctx context.Context, opts interfaces.TaskListOptions) ([]*models.TaskRecord, error) {
	tasks, err := s.history.List(ctx, opts)
	if err != nil {
		return nil, err
	}

	stale := make([]*models.TaskRecord, 0, listReconcileLimit)
	for _, task := range tasks {
		if task.Status.IsTerminal() || task.PromptID == "" || task.WorkerID == "" {
			continue
		}
		stale = append(stale, task)
		if len(stale) == listReconcileLimit {
			break
		}
	}
	if len(stale) == 0 {
		return tasks, nil
	}

	var wg sync.WaitGroup
	for _, task := range stale {
		wg.Add(1)
		task := task
		common.SafeGo(s.log, "task-list-reconcile", func() {
			defer wg.Done()
			s.reconcileTask(ctx, task)
		})
	}
	wg.Wait()
	return s.history.List(ctx, opts)
}

// reconcileTask checks one non-terminal record against the owning worker's
// queue and history and syncs the stored status. An unreachable worker
// leaves the record untouched rather than guessing.
func (s *Service) reconcileTask(ctx context.Context, task *models.TaskRecord) {
	worker, err := s.registry.Get(task.WorkerID)
	if err != nil {
		return
	}
	creds := s.registry.CredentialsFor(ctx, worker)

	queue, err := s.client.FetchQueue(ctx, worker, creds)
	if err != nil {
		return
	}
	var historyEntry json.RawMessage
	if !queue.ContainsPromptID(task.PromptID) {
		historyEntry, _ = s.client.GetHistory(ctx, worker, creds, task.PromptID)
	}
	if err := s.history.SyncTaskStatus(ctx, task, queue, historyEntry); err != nil {
		s.log.Warn().Err(err).Str("prompt_id", task.PromptID).Msg("Task reconciliation failed")
	}
}

// GatewayJobStatus returns the history record for a priority submission.
func (s *Service) GatewayJobStatus(ctx context.Context, gatewayJobID string) (*models.TaskRecord, error) {
	task, err := s.history.Get(ctx, gatewayJobID)
	if err != nil {
		return nil, err
	}
	if task.PromptID != "" && !task.Status.IsTerminal() {
		return s.TaskStatus(ctx, task.PromptID)
	}
	return task, nil
}

// WorkerQueueView is one worker's slice of the fleet queue.
type WorkerQueueView struct {
	WorkerID     string `json:"worker_id"`
	Name         string `json:"name,omitempty"`
	URL          string `json:"url"`
	Healthy      bool   `json:"healthy"`
	QueueRunning int    `json:"queue_running"`
	QueuePending int    `json:"queue_pending"`
	CurrentTask  string `json:"current_task,omitempty"`
	Error        string `json:"error,omitempty"`
}

// FleetQueue is the aggregated queue view across workers plus the
// gateway's own admission queue.
type FleetQueue struct {
	TotalRunning   int                        `json:"total_running"`
	TotalPending   int                        `json:"total_pending"`
	GatewayPending int                        `json:"gateway_pending"`
	Workers        []WorkerQueueView          `json:"workers"`
	PendingJobs    []models.GatewayQueueEntry `json:"pending_jobs"`
}

// FleetQueueView probes all enabled workers and merges their queues with
// the gateway admission queue. Probes are rate limited; when the limiter
// rejects, the previous view is served.
func (s *Service) FleetQueueView(ctx context.Context) (*FleetQueue, error) {
	if !s.fleetProbe.Allow() {
		s.mu.Lock()
		cached := s.lastFleetView
		s.mu.Unlock()
		if cached != nil {
			return cached, nil
		}
	}

	workers := s.registry.ListEnabled()
	views := make([]WorkerQueueView, len(workers))
	var wg sync.WaitGroup
	for i, worker := range workers {
		wg.Add(1)
		i, worker := i, worker
		common.SafeGo(s.log, "fleet-queue-probe", func() {
			defer wg.Done()
			view := WorkerQueueView{
				WorkerID: worker.WorkerID,
				Name:     worker.Name,
				URL:      worker.URL,
			}
			creds := s.registry.CredentialsFor(ctx, worker)
			queue, err := s.client.FetchQueue(ctx, worker, creds)
			if err != nil {
				view.Error = err.Error()
				s.registry.MarkUnhealthy(worker.WorkerID)
				views[i] = view
				return
			}
			running, pending := queue.Counts()
			view.Healthy = true
			view.QueueRunning = running
			view.QueuePending = pending
			if current, ok := s.monitor.CurrentTask(worker.WorkerID); ok {
				view.CurrentTask = current
			}
			s.registry.UpdateLoad(worker.WorkerID, running, pending, true)
			views[i] = view
		})
	}
	wg.Wait()

	fleet := &FleetQueue{Workers: views}
	for _, view := range views {
		fleet.TotalRunning += view.QueueRunning
		fleet.TotalPending += view.QueuePending
	}

	jobs, err := s.queue.List(ctx)
	if err != nil {
		s.log.Warn().Err(err).Msg("Failed to list admission queue")
	} else {
		fleet.GatewayPending = len(jobs)
		for _, job := range jobs {
			fleet.PendingJobs = append(fleet.PendingJobs, models.GatewayQueueEntry{
				GatewayJobID: job.GatewayJobID,
				Priority:     job.Priority,
				Status:       models.TaskStatusQueued,
				Source:       "gateway",
			})
		}
	}

	s.mu.Lock()
	s.lastFleetView = fleet
	s.mu.Unlock()
	return fleet, nil
}

// TaskResult fetches a finished task's worker history entry with gateway
// view URLs injected into the image outputs.
func (s *Service) TaskResult(ctx context.Context, taskID string) (*models.TaskRecord, json.RawMessage, error) {
	task, err := s.history.Get(ctx, taskID)
	if errors.Is(err, interfaces.ErrNotFound) && taskID != "" {
		task, err = s.history.GetByPromptID(ctx, taskID)
	}
	if err != nil {
		return nil, nil, err
	}
	if task.PromptID == "" || task.WorkerID == "" {
		return task, nil, nil
	}

	worker, err := s.registry.Get(task.WorkerID)
	if err != nil {
		return task, task.Result, nil
	}
	creds := s.registry.CredentialsFor(ctx, worker)
	entry, err := s.client.GetHistory(ctx, worker, creds, task.PromptID)
	if err != nil || entry == nil {
		return task, task.Result, nil
	}
	return task, InjectViewURLs(entry, task.WorkerID), nil
}

// ResolveViewWorker picks the worker that should serve a /view request:
// the explicit worker_id parameter when present, otherwise the worker that
// executed the referenced prompt.
func (s *Service) ResolveViewWorker(ctx context.Context, workerID, promptID string) (*models.WorkerInfo, error) {
	if workerID != "" {
		return s.registry.Get(workerID)
	}
	if promptID != "" {
		task, err := s.history.GetByPromptID(ctx, promptID)
		if err == nil && task.WorkerID != "" {
			return s.registry.Get(task.WorkerID)
		}
	}
	return nil, interfaces.ErrNotFound
}

// Client exposes the outbound worker client for proxying handlers.
func (s *Service) Client() *workerclient.Client { return s.client }

// CredentialsFor resolves the effective credentials for a worker.
func (s *Service) CredentialsFor(ctx context.Context, worker *models.WorkerInfo) *models.Credentials {
	return s.registry.CredentialsFor(ctx, worker)
}

// StatusSummary is the /api/status payload.
type StatusSummary struct {
	Version        string              `json:"version"`
	Backend        string              `json:"storage_backend"`
	Workers        []WorkerStatusView  `json:"workers"`
	HealthyWorkers int                 `json:"healthy_workers"`
	GatewayPending int                 `json:"gateway_pending"`
	Uptime         string              `json:"uptime"`
	Goroutines     int64               `json:"goroutines"`
	Generated      time.Time           `json:"generated_at"`
	Tasks          map[string]int      `json:"tasks,omitempty"`
	Queue          *FleetQueueSnapshot `json:"queue,omitempty"`
}

// FleetQueueSnapshot is the condensed queue block inside the status view.
type FleetQueueSnapshot struct {
	TotalRunning int `json:"total_running"`
	TotalPending int `json:"total_pending"`
}

// WorkerStatusView is one worker's row in the status view, credentials
// redacted.
type WorkerStatusView struct {
	WorkerID     string `json:"worker_id"`
	Name         string `json:"name,omitempty"`
	URL          string `json:"url"`
	Weight       int    `json:"weight"`
	Enabled      bool   `json:"enabled"`
	Healthy      bool   `json:"healthy"`
	QueueRunning int    `json:"queue_running"`
	QueuePending int    `json:"queue_pending"`
	HasAuth      bool   `json:"has_auth"`
}

var startTime = time.Now()

// Status reports the gateway's own state: fleet summary, queue depth, and
// process details.
func (s *Service) Status(ctx context.Context) *StatusSummary {
	workers := s.registry.List()
	summary := &StatusSummary{
		Version:    common.GetVersion(),
		Backend:    s.storage.Backend(),
		Uptime:     time.Since(startTime).Round(time.Second).String(),
		Goroutines: common.GetGoroutineCount(),
		Generated:  time.Now(),
	}

	totalRunning, totalPending := 0, 0
	for _, worker := range workers {
		summary.Workers = append(summary.Workers, WorkerStatusView{
			WorkerID:     worker.WorkerID,
			Name:         worker.Name,
			URL:          worker.URL,
			Weight:       worker.Weight,
			Enabled:      worker.Enabled,
			Healthy:      worker.Healthy,
			QueueRunning: worker.QueueRunning,
			QueuePending: worker.QueuePending,
			HasAuth:      worker.AuthUsername != "",
		})
		if worker.Healthy {
			summary.HealthyWorkers++
		}
		totalRunning += worker.QueueRunning
		totalPending += worker.QueuePending
	}
	summary.Queue = &FleetQueueSnapshot{TotalRunning: totalRunning, TotalPending: totalPending}

	if pending, err := s.queue.Len(ctx); err == nil {
		summary.GatewayPending = pending
	}
	return summary
}

// InjectViewURLs rewrites a worker history entry so image outputs carry a
// gateway-relative view URL pinned to the worker that produced them.
func InjectViewURLs(entry json.RawMessage, workerID string) json.RawMessage {
	var parsed map[string]any
	if err := json.Unmarshal(entry, &parsed); err != nil {
		return entry
	}
	outputs, ok := parsed["outputs"].(map[string]any)
	if !ok {
		return entry
	}
	for _, nodeOutput := range outputs {
		node, ok := nodeOutput.(map[string]any)
		if !ok {
			continue
		}
		images, ok := node["images"].([]any)
		if !ok {
			continue
		}
		for _, item := range images {
			image, ok := item.(map[string]any)
			if !ok {
				continue
			}
			filename, _ := image["filename"].(string)
			if filename == "" {
				continue
			}
			query := url.Values{}
			query.Set("filename", filename)
			if subfolder, ok := image["subfolder"].(string); ok && subfolder != "" {
				query.Set("subfolder", subfolder)
			}
			if imageType, ok := image["type"].(string); ok && imageType != "" {
				query.Set("type", imageType)
			}
			query.Set("worker_id", workerID)
			image["view_url"] = "/api/view?" + query.Encode()
		}
	}
	rewritten, err := json.Marshal(parsed)
	if err != nil {
		return entry
	}
	return rewritten
}

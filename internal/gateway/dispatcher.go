package gateway

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/ternarybob/arbor"

	"github.com/ternarybob/gantry/internal/common"
	"github.com/ternarybob/gantry/internal/interfaces"
	"github.com/ternarybob/gantry/internal/models"
	"github.com/ternarybob/gantry/internal/registry"
	"github.com/ternarybob/gantry/internal/workerclient"
)

// Dispatcher drains the admission queue onto workers. A single goroutine
// pops jobs in priority order and hands each to the selected worker, so
// queue order is preserved without cross-job locking.
type Dispatcher struct {
	queue    interfaces.PendingQueueStore
	mappings interfaces.MappingStore
	history  *History
	selector *Selector
	registry *registry.Registry
	client   *workerclient.Client

	tick      time.Duration
	batchSize int
	log       arbor.ILogger
}

type DispatcherOptions struct {
	Tick      time.Duration
	BatchSize int
}

func NewDispatcher(
	queue interfaces.PendingQueueStore,
	mappings interfaces.MappingStore,
	history *History,
	selector *Selector,
	reg *registry.Registry,
	client *workerclient.Client,
	opts DispatcherOptions,
) *Dispatcher {
	if opts.Tick <= 0 {
		opts.Tick = 500 * time.Millisecond
	}
	if opts.BatchSize <= 0 {
		opts.BatchSize = 20
	}
	return &Dispatcher{
		queue:     queue,
		mappings:  mappings,
		history:   history,
		selector:  selector,
		registry:  reg,
		client:    client,
		tick:      opts.Tick,
		batchSize: opts.BatchSize,
		log:       common.GetLogger(),
	}
}

// Run drives the dispatch loop until the context is cancelled. An idle
// batch doubles the wait before the next one, so an empty queue costs at
// most one poll per two ticks.
func (d *Dispatcher) Run(ctx context.Context) {
	d.log.Info().
		Str("tick", d.tick.String()).
		Int("batch", d.batchSize).
		Msg("Dispatcher started")

	timer := time.NewTimer(d.tick)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			d.log.Info().Msg("Dispatcher stopped")
			return
		case <-timer.C:
			timer.Reset(d.nextWait(d.runBatch(ctx)))
		}
	}
}

// nextWait picks the delay before the next batch: the configured tick,
// doubled when the last batch dispatched nothing.
func (d *Dispatcher) nextWait(processed int) time.Duration {
	if processed == 0 {
		return 2 * d.tick
	}
	return d.tick
}

// runBatch dispatches up to batchSize jobs and reports how many it
// processed. A capacity signal (no worker available, or a worker answering
// 503) re-enqueues the job and ends the batch early; the fleet is saturated
// and hammering it helps nobody.
func (d *Dispatcher) runBatch(ctx context.Context) int {
	processed := 0
	for i := 0; i < d.batchSize; i++ {
		job, err := d.queue.Pop(ctx)
		if errors.Is(err, interfaces.ErrQueueEmpty) {
			return processed
		}
		if err != nil {
			d.log.Error().Err(err).Msg("Failed to pop pending job")
			return processed
		}
		if !d.dispatchOne(ctx, job) {
			return processed
		}
		processed++
	}
	return processed
}

// dispatchOne submits one job. The return value reports whether the batch
// should continue.
func (d *Dispatcher) dispatchOne(ctx context.Context, job *models.QueuedJob) bool {
	worker, err := d.selector.Select(ctx)
	if err != nil {
		d.requeue(ctx, job, "no worker available")
		return false
	}

	creds := d.registry.CredentialsFor(ctx, worker)
	result, err := d.client.SubmitPrompt(ctx, worker, creds, job.Prompt)
	if err != nil {
		d.requeue(ctx, job, "submit request failed")
		return false
	}

	switch {
	case result.StatusCode == http.StatusOK && result.PromptID != "":
		return d.completeDispatch(ctx, job, worker, result.PromptID)

	case result.StatusCode == http.StatusServiceUnavailable:
		// Worker is at capacity or unreachable; back off until next tick.
		d.requeue(ctx, job, fmt.Sprintf("worker %s returned 503", worker.WorkerID))
		return false

	default:
		// The worker rejected the job itself (bad payload, validation
		// error). Retrying elsewhere would fail the same way.
		message := fmt.Sprintf("worker %s rejected job with http %d", worker.WorkerID, result.StatusCode)
		d.log.Warn().
			Str("gateway_job_id", job.GatewayJobID).
			Str("worker_id", worker.WorkerID).
			Int("status", result.StatusCode).
			Msg("Job rejected by worker")
		if err := d.history.MarkFailed(ctx, job.GatewayJobID, message); err != nil {
			d.log.Error().Err(err).Str("gateway_job_id", job.GatewayJobID).Msg("Failed to record job failure")
		}
		return true
	}
}

func (d *Dispatcher) completeDispatch(ctx context.Context, job *models.QueuedJob, worker *models.WorkerInfo, promptID string) bool {
	mapping := &models.JobMapping{
		GatewayJobID: job.GatewayJobID,
		PromptID:     promptID,
		WorkerID:     worker.WorkerID,
	}
	if err := d.mappings.Save(ctx, mapping); err != nil {
		d.log.Error().Err(err).Str("gateway_job_id", job.GatewayJobID).Msg("Failed to save job mapping")
	}
	if err := d.history.MarkSubmitted(ctx, job.GatewayJobID, promptID, worker.WorkerID); err != nil {
		d.log.Error().Err(err).Str("gateway_job_id", job.GatewayJobID).Msg("Failed to record submission")
	}

	// Reflect the submission in the load cache so the rest of this batch
	// does not pile onto the same worker; the next probe corrects it.
	d.registry.IncrementRunning(worker.WorkerID)

	d.log.Info().
		Str("gateway_job_id", job.GatewayJobID).
		Str("prompt_id", promptID).
		Str("worker_id", worker.WorkerID).
		Int("priority", job.Priority).
		Msg("Job dispatched")
	return true
}

// requeue puts a job back with its original enqueue time so its position
// in the admission order is preserved.
func (d *Dispatcher) requeue(ctx context.Context, job *models.QueuedJob, reason string) {
	d.log.Debug().
		Str("gateway_job_id", job.GatewayJobID).
		Str("reason", reason).
		Msg("Job re-enqueued")
	if err := d.queue.Enqueue(ctx, job); err != nil {
		d.log.Error().Err(err).
			Str("gateway_job_id", job.GatewayJobID).
			Msg("Failed to re-enqueue job, marking failed")
		if histErr := d.history.MarkFailed(ctx, job.GatewayJobID, "lost during re-enqueue: "+reason); histErr != nil {
			d.log.Error().Err(histErr).Str("gateway_job_id", job.GatewayJobID).Msg("Failed to record job loss")
		}
	}
}

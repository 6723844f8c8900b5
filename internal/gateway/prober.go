package gateway

import (
	"context"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/ternarybob/arbor"

	"github.com/ternarybob/gantry/internal/common"
	"github.com/ternarybob/gantry/internal/registry"
	"github.com/ternarybob/gantry/internal/workerclient"
)

// Prober periodically health-checks the whole fleet on a cron schedule and
// refreshes the registry's load cache.
type Prober struct {
	registry *registry.Registry
	client   *workerclient.Client
	schedule string
	cron     *cron.Cron
	log      arbor.ILogger

	// optional hook run after each sweep, used for cache maintenance
	afterSweep func()
}

func NewProber(reg *registry.Registry, client *workerclient.Client, schedule string) *Prober {
	return &Prober{
		registry: reg,
		client:   client,
		schedule: schedule,
		log:      common.GetLogger(),
	}
}

// SetAfterSweep registers a hook invoked after every probe sweep.
func (p *Prober) SetAfterSweep(fn func()) {
	p.afterSweep = fn
}

// Start schedules the probe sweep and runs one immediately so the gateway
// does not serve requests with an empty load cache.
func (p *Prober) Start(ctx context.Context) error {
	p.cron = cron.New()
	if _, err := p.cron.AddFunc(p.schedule, func() { p.Sweep(ctx) }); err != nil {
		return err
	}
	p.cron.Start()
	p.log.Info().Str("schedule", p.schedule).Msg("Health prober started")

	common.SafeGoWithContext(ctx, p.log, "initial-probe", func() {
		p.Sweep(ctx)
	})
	return nil
}

// Stop halts the schedule, waiting for a running sweep to finish.
func (p *Prober) Stop() {
	if p.cron != nil {
		<-p.cron.Stop().Done()
	}
}

// Sweep probes registered workers in parallel and updates health and load
// state. Workers whose load cache was refreshed within the TTL are skipped;
// selection probes keep active workers fresh, so the sweep only has to
// cover the rest. Disabled workers are probed too so the UI can show their
// status, but they are never selected.
func (p *Prober) Sweep(ctx context.Context) {
	workers := p.registry.List()
	if len(workers) == 0 {
		return
	}

	var wg sync.WaitGroup
	healthy := 0
	var mu sync.Mutex

	now := time.Now()
	ttl := p.registry.CacheTTL()
	for _, worker := range workers {
		if worker.Healthy && worker.CacheValid(now, ttl) {
			healthy++
			continue
		}
		wg.Add(1)
		worker := worker
		common.SafeGo(p.log, "health-probe", func() {
			defer wg.Done()
			creds := p.registry.CredentialsFor(ctx, worker)

			queue, err := p.client.FetchQueue(ctx, worker, creds)
			if err == nil {
				running, pending := queue.Counts()
				p.registry.UpdateLoad(worker.WorkerID, running, pending, true)
				mu.Lock()
				healthy++
				mu.Unlock()
				return
			}

			// The queue endpoint can be down while the worker itself is
			// fine; fall back to the liveness probe before declaring it
			// unhealthy.
			result := p.client.HealthProbe(ctx, worker, creds)
			if result.Healthy {
				p.registry.UpdateLoad(worker.WorkerID, worker.QueueRunning, worker.QueuePending, true)
				mu.Lock()
				healthy++
				mu.Unlock()
				return
			}
			p.registry.MarkUnhealthy(worker.WorkerID)
			p.log.Warn().
				Str("worker_id", worker.WorkerID).
				Str("url", worker.URL).
				Str("detail", result.Detail).
				Msg("Worker unhealthy")
		})
	}
	wg.Wait()

	p.log.Debug().
		Int("total", len(workers)).
		Int("healthy", healthy).
		Msg("Probe sweep complete")

	if p.afterSweep != nil {
		p.afterSweep()
	}
}

// Package gateway implements the load-balancing core: worker selection,
// the admission queue dispatcher, health probing, and progress monitoring.
package gateway

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/ternarybob/arbor"

	"github.com/ternarybob/gantry/internal/common"
	"github.com/ternarybob/gantry/internal/models"
	"github.com/ternarybob/gantry/internal/registry"
	"github.com/ternarybob/gantry/internal/workerclient"
)

// ErrNoWorkersAvailable is returned when selection finds no healthy,
// enabled worker.
var ErrNoWorkersAvailable = errors.New("no workers available")

// Selector picks the worker for the next job using live queue state.
type Selector struct {
	registry *registry.Registry
	client   *workerclient.Client
	log      arbor.ILogger
}

func NewSelector(reg *registry.Registry, client *workerclient.Client) *Selector {
	return &Selector{
		registry: reg,
		client:   client,
		log:      common.GetLogger(),
	}
}

// Select returns the best worker for the next job. Every enabled worker
// is probed live in parallel; the load cache is never trusted at dispatch
// time. Workers whose probe fails are excluded and marked unhealthy.
// Preference order:
//
//  1. idle workers (nothing running), highest weight first, then fewest
//     pending jobs
//  2. otherwise lowest total load, highest weight as tie-break
//
// Worker id breaks any remaining tie so selection is deterministic.
func (s *Selector) Select(ctx context.Context) (*models.WorkerInfo, error) {
	workers := s.registry.ListEnabled()
	if len(workers) == 0 {
		return nil, ErrNoWorkersAvailable
	}

	s.probeAll(ctx, workers)

	candidates := make([]*models.WorkerInfo, 0, len(workers))
	for _, worker := range workers {
		if worker.Healthy {
			candidates = append(candidates, worker)
		}
	}
	if len(candidates) == 0 {
		return nil, ErrNoWorkersAvailable
	}

	idle := make([]*models.WorkerInfo, 0, len(candidates))
	for _, worker := range candidates {
		if worker.QueueRunning == 0 {
			idle = append(idle, worker)
		}
	}

	if len(idle) > 0 {
		sort.Slice(idle, func(i, j int) bool {
			if idle[i].Weight != idle[j].Weight {
				return idle[i].Weight > idle[j].Weight
			}
			if idle[i].QueuePending != idle[j].QueuePending {
				return idle[i].QueuePending < idle[j].QueuePending
			}
			return idle[i].WorkerID < idle[j].WorkerID
		})
		return idle[0], nil
	}

	sort.Slice(candidates, func(i, j int) bool {
		if candidates[i].LoadScore() != candidates[j].LoadScore() {
			return candidates[i].LoadScore() < candidates[j].LoadScore()
		}
		if candidates[i].Weight != candidates[j].Weight {
			return candidates[i].Weight > candidates[j].Weight
		}
		return candidates[i].WorkerID < candidates[j].WorkerID
	})
	return candidates[0], nil
}

// probeAll issues a live queue probe to every candidate in parallel and
// folds the results back into both the registry and the local slice used
// for this selection.
func (s *Selector) probeAll(ctx context.Context, workers []*models.WorkerInfo) {
	var wg sync.WaitGroup
	for _, worker := range workers {
		wg.Add(1)
		worker := worker
		common.SafeGo(s.log, "selector-probe", func() {
			defer wg.Done()
			creds := s.registry.CredentialsFor(ctx, worker)
			queue, err := s.client.FetchQueue(ctx, worker, creds)
			if err != nil {
				s.log.Debug().Err(err).Str("worker_id", worker.WorkerID).Msg("Queue probe failed during selection")
				worker.Healthy = false
				s.registry.MarkUnhealthy(worker.WorkerID)
				return
			}
			running, pending := queue.Counts()
			worker.QueueRunning = running
			worker.QueuePending = pending
			worker.Healthy = true
			worker.CachedAt = time.Now()
			s.registry.UpdateLoad(worker.WorkerID, running, pending, true)
		})
	}
	wg.Wait()
}

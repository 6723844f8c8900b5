package gateway

import (
	"context"
	"testing"
	"time"

	"github.com/ternarybob/gantry/internal/workerclient"
)

func TestSweepSkipsFreshlyProbedWorkers(t *testing.T) {
	reg := newTestRegistry(t)
	// Dead endpoint, but the load cache was refreshed moments ago by a
	// selection probe. The sweep must not probe it again.
	addWorker(t, reg, "fresh", "http://127.0.0.1:1", 1)
	reg.UpdateLoad("fresh", 1, 2, true)

	prober := NewProber(reg, workerclient.New(2*time.Second, time.Second), "@every 30s")
	prober.Sweep(context.Background())

	worker, err := reg.Get("fresh")
	if err != nil {
		t.Fatal(err)
	}
	if !worker.Healthy || worker.QueueRunning != 1 || worker.QueuePending != 2 {
		t.Fatalf("freshly cached worker must be left alone: %+v", worker)
	}
}

func TestSweepProbesStaleAndUnhealthyWorkers(t *testing.T) {
	reg := newTestRegistry(t)
	addWorker(t, reg, "stale", queueServer(t, 2, 1).URL, 1)

	// Unhealthy workers are swept regardless of cache age so recovery is
	// noticed.
	reg.MarkUnhealthy("stale")

	prober := NewProber(reg, workerclient.New(2*time.Second, time.Second), "@every 30s")
	prober.Sweep(context.Background())

	worker, err := reg.Get("stale")
	if err != nil {
		t.Fatal(err)
	}
	if !worker.Healthy || worker.QueueRunning != 2 || worker.QueuePending != 1 {
		t.Fatalf("sweep did not refresh the worker: %+v", worker)
	}
}

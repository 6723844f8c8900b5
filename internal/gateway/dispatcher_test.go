package gateway

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/ternarybob/gantry/internal/interfaces"
	"github.com/ternarybob/gantry/internal/models"
	"github.com/ternarybob/gantry/internal/registry"
	"github.com/ternarybob/gantry/internal/storage/memory"
	"github.com/ternarybob/gantry/internal/workerclient"
)

type dispatcherFixture struct {
	dispatcher *Dispatcher
	queue      interfaces.PendingQueueStore
	mappings   interfaces.MappingStore
	history    *History
	registry   *registry.Registry
}

func newDispatcherFixture(t *testing.T, workerURL string) *dispatcherFixture {
	t.Helper()
	store := memory.NewManager()
	reg := registry.New(store.Workers(), nil, 5*time.Second)
	if err := reg.Load(context.Background()); err != nil {
		t.Fatal(err)
	}
	if workerURL != "" {
		if err := reg.Add(context.Background(), &models.WorkerInfo{
			WorkerID: "w-1", URL: workerURL, Weight: 1, Enabled: true,
		}); err != nil {
			t.Fatal(err)
		}
		reg.UpdateLoad("w-1", 0, 0, true)
	}

	client := workerclient.New(2*time.Second, time.Second)
	history := NewHistory(store.History())
	dispatcher := NewDispatcher(
		store.PendingQueue(), store.Mappings(), history,
		NewSelector(reg, client), reg, client,
		DispatcherOptions{Tick: 10 * time.Millisecond, BatchSize: 20},
	)
	return &dispatcherFixture{
		dispatcher: dispatcher,
		queue:      store.PendingQueue(),
		mappings:   store.Mappings(),
		history:    history,
		registry:   reg,
	}
}

func enqueueJob(t *testing.T, f *dispatcherFixture, id string, priority int) {
	t.Helper()
	ctx := context.Background()
	if err := f.history.CreatePending(ctx, id, priority); err != nil {
		t.Fatal(err)
	}
	if err := f.queue.Enqueue(ctx, &models.QueuedJob{
		GatewayJobID: id,
		Prompt:       []byte(`{"prompt":{}}`),
		Priority:     priority,
		CreatedAt:    time.Now(),
	}); err != nil {
		t.Fatal(err)
	}
	if err := f.history.MarkQueued(ctx, id); err != nil {
		t.Fatal(err)
	}
}

func TestDispatchSuccess(t *testing.T) {
	var submissions atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/prompt":
			submissions.Add(1)
			json.NewEncoder(w).Encode(map[string]any{"prompt_id": "p-1", "number": 1})
		case "/queue":
			w.Write([]byte(`{"queue_running":[],"queue_pending":[]}`))
		default:
			http.NotFound(w, r)
		}
	}))
	defer server.Close()

	f := newDispatcherFixture(t, server.URL)
	ctx := context.Background()
	enqueueJob(t, f, "gw-1", 5)

	if processed := f.dispatcher.runBatch(ctx); processed != 1 {
		t.Fatalf("expected 1 processed job, got %d", processed)
	}

	if got := submissions.Load(); got != 1 {
		t.Fatalf("expected 1 submission, got %d", got)
	}
	if n, _ := f.queue.Len(ctx); n != 0 {
		t.Fatalf("queue should be drained, %d left", n)
	}

	mapping, err := f.mappings.GetByGatewayJobID(ctx, "gw-1")
	if err != nil {
		t.Fatal(err)
	}
	if mapping.PromptID != "p-1" || mapping.WorkerID != "w-1" {
		t.Fatalf("unexpected mapping: %+v", mapping)
	}

	task, err := f.history.Get(ctx, "gw-1")
	if err != nil {
		t.Fatal(err)
	}
	if task.Status != models.TaskStatusSubmitted || task.PromptID != "p-1" {
		t.Fatalf("unexpected task state: %+v", task)
	}

	// The cached running count reflects the submission immediately so the
	// worker no longer looks idle to the next selection.
	worker, _ := f.registry.Get("w-1")
	if worker.QueueRunning != 1 {
		t.Fatalf("running count not bumped after dispatch, got %d", worker.QueueRunning)
	}
}

func TestEmptyBatchDoublesWait(t *testing.T) {
	f := newDispatcherFixture(t, "")
	ctx := context.Background()

	processed := f.dispatcher.runBatch(ctx)
	if processed != 0 {
		t.Fatalf("empty queue must process nothing, got %d", processed)
	}
	if wait := f.dispatcher.nextWait(processed); wait != 2*f.dispatcher.tick {
		t.Fatalf("idle batch must double the wait, got %s", wait)
	}
	if wait := f.dispatcher.nextWait(1); wait != f.dispatcher.tick {
		t.Fatalf("busy batch must keep the normal tick, got %s", wait)
	}
}

func TestDispatch503RequeuesAndEndsBatch(t *testing.T) {
	var submissions atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/prompt":
			submissions.Add(1)
			http.Error(w, "queue full", http.StatusServiceUnavailable)
		case "/queue":
			w.Write([]byte(`{"queue_running":[],"queue_pending":[]}`))
		default:
			http.NotFound(w, r)
		}
	}))
	defer server.Close()

	f := newDispatcherFixture(t, server.URL)
	ctx := context.Background()
	enqueueJob(t, f, "gw-1", 9)
	enqueueJob(t, f, "gw-2", 1)

	f.dispatcher.runBatch(ctx)

	// One attempt only: the capacity signal must stop the batch, not burn
	// through every queued job.
	if got := submissions.Load(); got != 1 {
		t.Fatalf("expected 1 submission before backoff, got %d", got)
	}
	if n, _ := f.queue.Len(ctx); n != 2 {
		t.Fatalf("both jobs must remain queued, %d left", n)
	}
	head, err := f.queue.Peek(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if head.GatewayJobID != "gw-1" {
		t.Fatalf("re-enqueued job lost its priority position, head is %s", head.GatewayJobID)
	}
}

func TestDispatchRejectionFailsJobAndContinues(t *testing.T) {
	var submissions atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/prompt":
			n := submissions.Add(1)
			if n == 1 {
				http.Error(w, "invalid prompt graph", http.StatusBadRequest)
				return
			}
			json.NewEncoder(w).Encode(map[string]any{"prompt_id": "p-2"})
		case "/queue":
			w.Write([]byte(`{"queue_running":[],"queue_pending":[]}`))
		default:
			http.NotFound(w, r)
		}
	}))
	defer server.Close()

	f := newDispatcherFixture(t, server.URL)
	ctx := context.Background()
	enqueueJob(t, f, "gw-bad", 9)
	enqueueJob(t, f, "gw-good", 1)

	f.dispatcher.runBatch(ctx)

	if got := submissions.Load(); got != 2 {
		t.Fatalf("rejection must not stop the batch, got %d submissions", got)
	}
	if n, _ := f.queue.Len(ctx); n != 0 {
		t.Fatalf("queue should be drained, %d left", n)
	}

	bad, err := f.history.Get(ctx, "gw-bad")
	if err != nil {
		t.Fatal(err)
	}
	if bad.Status != models.TaskStatusFailed || bad.ErrorMessage == "" {
		t.Fatalf("rejected job must be failed with a reason: %+v", bad)
	}
	good, err := f.history.Get(ctx, "gw-good")
	if err != nil {
		t.Fatal(err)
	}
	if good.Status != models.TaskStatusSubmitted {
		t.Fatalf("second job must still dispatch: %+v", good)
	}
}

func TestDispatchNoWorkersRequeues(t *testing.T) {
	f := newDispatcherFixture(t, "")
	ctx := context.Background()
	enqueueJob(t, f, "gw-1", 5)

	f.dispatcher.runBatch(ctx)

	if n, _ := f.queue.Len(ctx); n != 1 {
		t.Fatalf("job must stay queued with no workers, %d left", n)
	}
	task, err := f.history.Get(ctx, "gw-1")
	if err != nil {
		t.Fatal(err)
	}
	if task.Status != models.TaskStatusQueued {
		t.Fatalf("job must remain queued, got %s", task.Status)
	}
}

func TestDispatchPriorityOrderAcrossBatch(t *testing.T) {
	var order []string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/prompt":
			var body struct {
				Prompt json.RawMessage `json:"prompt"`
				Tag    string          `json:"tag"`
			}
			json.NewDecoder(r.Body).Decode(&body)
			order = append(order, body.Tag)
			json.NewEncoder(w).Encode(map[string]any{"prompt_id": "p-" + body.Tag})
		case "/queue":
			w.Write([]byte(`{"queue_running":[],"queue_pending":[]}`))
		default:
			http.NotFound(w, r)
		}
	}))
	defer server.Close()

	f := newDispatcherFixture(t, server.URL)
	ctx := context.Background()
	base := time.Now()

	jobs := []struct {
		id       string
		priority int
		offset   time.Duration
	}{
		{"low-old", 1, 0},
		{"high-new", 9, time.Second},
		{"high-old", 9, 0},
		{"mid", 5, 0},
	}
	for _, job := range jobs {
		if err := f.history.CreatePending(ctx, job.id, job.priority); err != nil {
			t.Fatal(err)
		}
		prompt, _ := json.Marshal(map[string]any{"prompt": map[string]any{}, "tag": job.id})
		if err := f.queue.Enqueue(ctx, &models.QueuedJob{
			GatewayJobID: job.id,
			Prompt:       prompt,
			Priority:     job.priority,
			CreatedAt:    base.Add(job.offset),
		}); err != nil {
			t.Fatal(err)
		}
	}

	f.dispatcher.runBatch(ctx)

	want := []string{"high-old", "high-new", "mid", "low-old"}
	if len(order) != len(want) {
		t.Fatalf("expected %d submissions, got %v", len(want), order)
	}
	for i := range want {
		if order[i] != want[i] {
			t.Fatalf("dispatch order %v, want %v", order, want)
		}
	}
}

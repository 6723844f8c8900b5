package gateway

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/ternarybob/gantry/internal/interfaces"
	"github.com/ternarybob/gantry/internal/models"
	"github.com/ternarybob/gantry/internal/registry"
	"github.com/ternarybob/gantry/internal/storage/memory"
	"github.com/ternarybob/gantry/internal/workerclient"
)

func newServiceFixture(t *testing.T, workerURL string) (*Service, interfaces.StorageManager) {
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
	monitor := NewMonitor(reg, history, time.Minute)
	monitor.connected = make(map[string]bool)
	monitor.current = make(map[string]string)

	service := NewService(
		reg, NewSelector(reg, client), store.PendingQueue(), store.Mappings(),
		history, client, monitor, store, time.Millisecond,
	)
	return service, store
}

func TestSubmitPriorityQueuesDurably(t *testing.T) {
	service, store := newServiceFixture(t, "")
	ctx := context.Background()

	gatewayJobID, err := service.SubmitPriority(ctx, []byte(`{"prompt":{},"priority":7}`), "", 7)
	if err != nil {
		t.Fatal(err)
	}
	if gatewayJobID == "" {
		t.Fatal("expected a gateway job id")
	}

	job, err := store.PendingQueue().Peek(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if job.GatewayJobID != gatewayJobID || job.Priority != 7 {
		t.Fatalf("queued job mismatch: %+v", job)
	}
	if job.ClientID == "" {
		t.Fatal("client id must be generated when absent")
	}

	task, err := service.GatewayJobStatus(ctx, gatewayJobID)
	if err != nil {
		t.Fatal(err)
	}
	if task.Status != models.TaskStatusQueued || task.Priority != 7 {
		t.Fatalf("unexpected task state: %+v", task)
	}
}

func TestSubmitDirectPassesThrough(t *testing.T) {
	workerResponse := `{"prompt_id":"p-9","number":3,"node_errors":{}}`
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/prompt":
			w.Write([]byte(workerResponse))
		case "/queue":
			w.Write([]byte(`{"queue_running":[],"queue_pending":[]}`))
		default:
			http.NotFound(w, r)
		}
	}))
	defer server.Close()

	service, _ := newServiceFixture(t, server.URL)
	ctx := context.Background()

	result, err := service.SubmitDirect(ctx, []byte(`{"prompt":{}}`))
	if err != nil {
		t.Fatal(err)
	}
	if result.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", result.StatusCode)
	}
	if string(result.Body) != workerResponse {
		t.Fatalf("worker response must pass through byte-identical:\n%s\n%s", workerResponse, result.Body)
	}

	// A running record keyed by the prompt id tracks the direct task.
	task, err := service.History().GetByPromptID(ctx, "p-9")
	if err != nil {
		t.Fatal(err)
	}
	if task.TaskID != "p-9" || task.Status != models.TaskStatusRunning {
		t.Fatalf("direct task not tracked: %+v", task)
	}
}

func TestSubmitDirectRecordsMapping(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/prompt":
			w.Write([]byte(`{"prompt_id":"p-9","number":3}`))
		case "/queue":
			w.Write([]byte(`{"queue_running":[],"queue_pending":[]}`))
		default:
			http.NotFound(w, r)
		}
	}))
	defer server.Close()

	service, store := newServiceFixture(t, server.URL)
	ctx := context.Background()

	if _, err := service.SubmitDirect(ctx, []byte(`{"prompt":{}}`)); err != nil {
		t.Fatal(err)
	}

	// The prompt-to-worker binding must be established at submission, not
	// lazily on the first push event.
	mapping, err := store.Mappings().GetByPromptID(ctx, "p-9")
	if err != nil {
		t.Fatal(err)
	}
	if mapping.WorkerID != "w-1" {
		t.Fatalf("mapping bound to wrong worker: %+v", mapping)
	}

	worker, err := service.Registry().Get("w-1")
	if err != nil {
		t.Fatal(err)
	}
	if worker.QueueRunning != 1 {
		t.Fatalf("running count not bumped after direct submit, got %d", worker.QueueRunning)
	}
}

func TestListTasksReconcilesStaleRecords(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.URL.Path == "/queue":
			w.Write([]byte(`{"queue_running":[],"queue_pending":[]}`))
		case strings.HasPrefix(r.URL.Path, "/history/p-done"):
			w.Write([]byte(`{"p-done":{"outputs":{"9":{"images":[{"filename":"out.png"}]}}}}`))
		case strings.HasPrefix(r.URL.Path, "/history/"):
			w.Write([]byte(`{}`))
		default:
			http.NotFound(w, r)
		}
	}))
	defer server.Close()

	service, _ := newServiceFixture(t, server.URL)
	ctx := context.Background()
	history := service.History()

	// One task the worker finished, one it lost, one already terminal.
	for _, id := range []string{"gw-done", "gw-lost", "gw-final"} {
		if err := history.CreatePending(ctx, id, 0); err != nil {
			t.Fatal(err)
		}
	}
	if err := history.MarkSubmitted(ctx, "gw-done", "p-done", "w-1"); err != nil {
		t.Fatal(err)
	}
	if err := history.MarkSubmitted(ctx, "gw-lost", "p-lost", "w-1"); err != nil {
		t.Fatal(err)
	}
	if err := history.MarkSubmitted(ctx, "gw-final", "p-final", "w-1"); err != nil {
		t.Fatal(err)
	}
	if err := history.MarkCompleted(ctx, "gw-final", nil); err != nil {
		t.Fatal(err)
	}

	tasks, err := service.ListTasks(ctx, interfaces.TaskListOptions{Limit: 50})
	if err != nil {
		t.Fatal(err)
	}
	byID := make(map[string]*models.TaskRecord, len(tasks))
	for _, task := range tasks {
		byID[task.TaskID] = task
	}

	if got := byID["gw-done"]; got == nil || got.Status != models.TaskStatusDone {
		t.Fatalf("finished task must list as done: %+v", got)
	}
	if got := byID["gw-lost"]; got == nil || got.Status != models.TaskStatusFailed {
		t.Fatalf("lost task must list as failed: %+v", got)
	}
	if got := byID["gw-final"]; got == nil || got.Status != models.TaskStatusDone {
		t.Fatalf("terminal task must be untouched: %+v", got)
	}
}

func TestTaskStatusReconcilesLostTask(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.URL.Path == "/queue":
			w.Write([]byte(`{"queue_running":[],"queue_pending":[]}`))
		case strings.HasPrefix(r.URL.Path, "/history/"):
			w.Write([]byte(`{}`))
		default:
			http.NotFound(w, r)
		}
	}))
	defer server.Close()

	service, _ := newServiceFixture(t, server.URL)
	ctx := context.Background()

	history := service.History()
	if err := history.CreatePending(ctx, "gw-1", 0); err != nil {
		t.Fatal(err)
	}
	if err := history.MarkSubmitted(ctx, "gw-1", "p-lost", "w-1"); err != nil {
		t.Fatal(err)
	}

	task, err := service.TaskStatus(ctx, "p-lost")
	if err != nil {
		t.Fatal(err)
	}
	if task.Status != models.TaskStatusFailed {
		t.Fatalf("task absent from queue and history must fail, got %s", task.Status)
	}
}

func TestFleetQueueViewAggregates(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/queue" {
			w.Write([]byte(`{"queue_running":[[0,"p-1"]],"queue_pending":[[1,"p-2"],[2,"p-3"]]}`))
			return
		}
		http.NotFound(w, r)
	}))
	defer server.Close()

	service, store := newServiceFixture(t, server.URL)
	ctx := context.Background()

	if err := store.PendingQueue().Enqueue(ctx, &models.QueuedJob{
		GatewayJobID: "gw-wait", Prompt: []byte(`{}`), Priority: 3, CreatedAt: time.Now(),
	}); err != nil {
		t.Fatal(err)
	}

	fleet, err := service.FleetQueueView(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if fleet.TotalRunning != 1 || fleet.TotalPending != 2 {
		t.Fatalf("fleet totals wrong: %+v", fleet)
	}
	if fleet.GatewayPending != 1 || len(fleet.PendingJobs) != 1 {
		t.Fatalf("gateway queue missing from view: %+v", fleet)
	}
	if len(fleet.Workers) != 1 || !fleet.Workers[0].Healthy {
		t.Fatalf("worker view wrong: %+v", fleet.Workers)
	}
}

func TestFleetQueueViewThrottleServesCachedView(t *testing.T) {
	var probes int
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/queue" {
			probes++
			w.Write([]byte(`{"queue_running":[],"queue_pending":[]}`))
			return
		}
		http.NotFound(w, r)
	}))
	defer server.Close()

	store := memory.NewManager()
	reg := registry.New(store.Workers(), nil, 5*time.Second)
	if err := reg.Load(context.Background()); err != nil {
		t.Fatal(err)
	}
	if err := reg.Add(context.Background(), &models.WorkerInfo{
		WorkerID: "w-1", URL: server.URL, Weight: 1, Enabled: true,
	}); err != nil {
		t.Fatal(err)
	}
	client := workerclient.New(2*time.Second, time.Second)
	history := NewHistory(store.History())
	monitor := NewMonitor(reg, history, time.Minute)
	monitor.connected = make(map[string]bool)
	monitor.current = make(map[string]string)
	// Long probe interval: only the first call may hit the workers.
	service := NewService(reg, NewSelector(reg, client), store.PendingQueue(),
		store.Mappings(), history, client, monitor, store, time.Hour)

	ctx := context.Background()
	for i := 0; i < 5; i++ {
		if _, err := service.FleetQueueView(ctx); err != nil {
			t.Fatal(err)
		}
	}
	if probes != 1 {
		t.Fatalf("expected a single probe sweep, workers saw %d", probes)
	}
}

func TestInjectViewURLs(t *testing.T) {
	entry := json.RawMessage(`{
		"outputs": {
			"9": {"images": [
				{"filename": "img_001.png", "subfolder": "batch", "type": "output"},
				{"filename": "img_002.png", "type": "temp"}
			]},
			"12": {"text": ["no images here"]}
		},
		"status": {"completed": true}
	}`)

	rewritten := InjectViewURLs(entry, "w-42")

	var parsed struct {
		Outputs map[string]struct {
			Images []map[string]any `json:"images"`
		} `json:"outputs"`
	}
	if err := json.Unmarshal(rewritten, &parsed); err != nil {
		t.Fatal(err)
	}
	images := parsed.Outputs["9"].Images
	if len(images) != 2 {
		t.Fatalf("images lost in rewrite: %s", rewritten)
	}
	first, _ := images[0]["view_url"].(string)
	if !strings.HasPrefix(first, "/api/view?") {
		t.Fatalf("expected gateway view url, got %q", first)
	}
	if !strings.Contains(first, "filename=img_001.png") ||
		!strings.Contains(first, "worker_id=w-42") ||
		!strings.Contains(first, "subfolder=batch") {
		t.Fatalf("view url missing parameters: %q", first)
	}
}

func TestInjectViewURLsLeavesUnparseableAlone(t *testing.T) {
	entry := json.RawMessage(`"just a string"`)
	if got := InjectViewURLs(entry, "w-1"); string(got) != string(entry) {
		t.Fatalf("unparseable entries must pass through: %s", got)
	}
}

func TestStatusSummary(t *testing.T) {
	service, store := newServiceFixture(t, "")
	ctx := context.Background()

	if err := store.PendingQueue().Enqueue(ctx, &models.QueuedJob{
		GatewayJobID: "gw-1", Prompt: []byte(`{}`), CreatedAt: time.Now(),
	}); err != nil {
		t.Fatal(err)
	}

	summary := service.Status(ctx)
	if summary.Backend != "memory" {
		t.Fatalf("expected memory backend, got %s", summary.Backend)
	}
	if summary.GatewayPending != 1 {
		t.Fatalf("expected 1 pending, got %d", summary.GatewayPending)
	}
}

package sqlite

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/ternarybob/gantry/internal/common"
	"github.com/ternarybob/gantry/internal/interfaces"
	"github.com/ternarybob/gantry/internal/models"
)

func newTestManager(t *testing.T) *Manager {
	t.Helper()
	manager, err := NewManager(common.SQLiteConfig{
		Path:          filepath.Join(t.TempDir(), "gantry-test.db"),
		BusyTimeoutMS: 1000,
		WALMode:       true,
	})
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { manager.Close() })
	return manager
}

func TestWorkerStoreCRUD(t *testing.T) {
	manager := newTestManager(t)
	ctx := context.Background()
	store := manager.Workers()

	worker := &models.WorkerInfo{
		WorkerID:     "w-1",
		URL:          "http://worker-1:8188",
		Name:         "gpu-1",
		Weight:       3,
		Enabled:      true,
		AuthUsername: "svc",
		AuthPassword: "secret",
	}
	if err := store.Save(ctx, worker); err != nil {
		t.Fatal(err)
	}

	loaded, err := store.Get(ctx, "w-1")
	if err != nil {
		t.Fatal(err)
	}
	if loaded.URL != worker.URL || loaded.Weight != 3 || !loaded.Enabled {
		t.Fatalf("loaded worker mismatch: %+v", loaded)
	}

	worker.Weight = 5
	worker.Enabled = false
	if err := store.Save(ctx, worker); err != nil {
		t.Fatal(err)
	}
	loaded, err = store.Get(ctx, "w-1")
	if err != nil {
		t.Fatal(err)
	}
	if loaded.Weight != 5 || loaded.Enabled {
		t.Fatalf("update not applied: %+v", loaded)
	}

	workers, err := store.List(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(workers) != 1 {
		t.Fatalf("expected 1 worker, got %d", len(workers))
	}

	if err := store.Delete(ctx, "w-1"); err != nil {
		t.Fatal(err)
	}
	if _, err := store.Get(ctx, "w-1"); !errors.Is(err, interfaces.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	if err := store.Delete(ctx, "w-1"); !errors.Is(err, interfaces.ErrNotFound) {
		t.Fatalf("expected ErrNotFound on second delete, got %v", err)
	}
}

func TestPendingQueuePopOrder(t *testing.T) {
	manager := newTestManager(t)
	ctx := context.Background()
	queue := manager.PendingQueue()
	base := time.Date(2026, 8, 1, 9, 0, 0, 0, time.UTC)

	jobs := []*models.QueuedJob{
		{GatewayJobID: "b-high-new", Prompt: []byte(`{"p":2}`), Priority: 10, CreatedAt: base.Add(time.Minute)},
		{GatewayJobID: "a-low", Prompt: []byte(`{"p":1}`), Priority: 1, CreatedAt: base},
		{GatewayJobID: "a-high-old", Prompt: []byte(`{"p":3}`), Priority: 10, CreatedAt: base},
	}
	for _, job := range jobs {
		if err := queue.Enqueue(ctx, job); err != nil {
			t.Fatal(err)
		}
	}

	if n, err := queue.Len(ctx); err != nil || n != 3 {
		t.Fatalf("expected 3 queued, got %d (%v)", n, err)
	}

	for _, expected := range []string{"a-high-old", "b-high-new", "a-low"} {
		job, err := queue.Pop(ctx)
		if err != nil {
			t.Fatal(err)
		}
		if job.GatewayJobID != expected {
			t.Fatalf("expected %s, got %s", expected, job.GatewayJobID)
		}
	}
	if _, err := queue.Pop(ctx); !errors.Is(err, interfaces.ErrQueueEmpty) {
		t.Fatalf("expected ErrQueueEmpty, got %v", err)
	}
}

func TestPendingQueuePromptRoundTrip(t *testing.T) {
	manager := newTestManager(t)
	ctx := context.Background()
	queue := manager.PendingQueue()

	payload := []byte(`{"prompt":{"3":{"class_type":"KSampler","inputs":{"seed":42}}},"client_id":"c1"}`)
	job := &models.QueuedJob{
		GatewayJobID: "job-1",
		Prompt:       payload,
		ClientID:     "c1",
		Priority:     2,
		CreatedAt:    time.Now().UTC(),
	}
	if err := queue.Enqueue(ctx, job); err != nil {
		t.Fatal(err)
	}
	popped, err := queue.Pop(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if string(popped.Prompt) != string(payload) {
		t.Fatalf("prompt payload not preserved byte for byte:\n%s\n%s", payload, popped.Prompt)
	}
	if popped.ClientID != "c1" || popped.Priority != 2 {
		t.Fatalf("job fields not preserved: %+v", popped)
	}
}

func TestHistoryStoreLifecycle(t *testing.T) {
	manager := newTestManager(t)
	ctx := context.Background()
	store := manager.History()
	now := time.Now().UTC().Truncate(time.Second)

	task := &models.TaskRecord{
		TaskID:      "gw-1",
		Priority:    5,
		Status:      models.TaskStatusPending,
		SubmittedAt: now,
	}
	if err := store.Save(ctx, task); err != nil {
		t.Fatal(err)
	}

	task.Status = models.TaskStatusSubmitted
	task.PromptID = "p-1"
	task.WorkerID = "w-1"
	if err := store.Save(ctx, task); err != nil {
		t.Fatal(err)
	}

	byPrompt, err := store.GetByPromptID(ctx, "p-1")
	if err != nil {
		t.Fatal(err)
	}
	if byPrompt.TaskID != "gw-1" || byPrompt.Status != models.TaskStatusSubmitted {
		t.Fatalf("prompt lookup mismatch: %+v", byPrompt)
	}

	started := now.Add(time.Second)
	task.Status = models.TaskStatusDone
	task.Progress = 100
	task.StartedAt = &started
	completed := now.Add(2 * time.Second)
	task.CompletedAt = &completed
	task.Result = []byte(`{"outputs":{}}`)
	if err := store.Save(ctx, task); err != nil {
		t.Fatal(err)
	}

	loaded, err := store.Get(ctx, "gw-1")
	if err != nil {
		t.Fatal(err)
	}
	if loaded.Status != models.TaskStatusDone || loaded.Progress != 100 {
		t.Fatalf("final state mismatch: %+v", loaded)
	}
	if loaded.StartedAt == nil || loaded.CompletedAt == nil {
		t.Fatal("timestamps lost on round trip")
	}
	if len(loaded.Result) == 0 {
		t.Fatal("result payload lost on round trip")
	}
}

func TestHistoryStoreListFilters(t *testing.T) {
	manager := newTestManager(t)
	ctx := context.Background()
	store := manager.History()
	base := time.Now().UTC().Truncate(time.Second)

	records := []*models.TaskRecord{
		{TaskID: "t-1", WorkerID: "w-1", Status: models.TaskStatusDone, SubmittedAt: base},
		{TaskID: "t-2", WorkerID: "w-2", Status: models.TaskStatusFailed, SubmittedAt: base.Add(time.Second)},
		{TaskID: "t-3", WorkerID: "w-1", Status: models.TaskStatusRunning, SubmittedAt: base.Add(2 * time.Second)},
	}
	for _, record := range records {
		if err := store.Save(ctx, record); err != nil {
			t.Fatal(err)
		}
	}

	all, err := store.List(ctx, interfaces.TaskListOptions{})
	if err != nil {
		t.Fatal(err)
	}
	if len(all) != 3 || all[0].TaskID != "t-3" {
		t.Fatalf("expected newest first, got %+v", all)
	}

	byWorker, err := store.List(ctx, interfaces.TaskListOptions{WorkerID: "w-1"})
	if err != nil {
		t.Fatal(err)
	}
	if len(byWorker) != 2 {
		t.Fatalf("expected 2 tasks for w-1, got %d", len(byWorker))
	}

	failed, err := store.List(ctx, interfaces.TaskListOptions{Status: models.TaskStatusFailed})
	if err != nil {
		t.Fatal(err)
	}
	if len(failed) != 1 || failed[0].TaskID != "t-2" {
		t.Fatalf("status filter mismatch: %+v", failed)
	}

	paged, err := store.List(ctx, interfaces.TaskListOptions{Limit: 1, Offset: 1})
	if err != nil {
		t.Fatal(err)
	}
	if len(paged) != 1 || paged[0].TaskID != "t-2" {
		t.Fatalf("paging mismatch: %+v", paged)
	}

	removed, err := store.DeleteOlderThan(ctx, base.Add(10*time.Second))
	if err != nil {
		t.Fatal(err)
	}
	// Only terminal records are pruned.
	if removed != 2 {
		t.Fatalf("expected 2 pruned, got %d", removed)
	}
}

func TestSettingsStore(t *testing.T) {
	manager := newTestManager(t)
	ctx := context.Background()
	store := manager.Settings()

	if _, err := store.Get(ctx, "missing"); !errors.Is(err, interfaces.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	if err := store.Set(ctx, "worker_auth_username", "svc"); err != nil {
		t.Fatal(err)
	}
	if err := store.Set(ctx, "worker_auth_username", "svc2"); err != nil {
		t.Fatal(err)
	}
	value, err := store.Get(ctx, "worker_auth_username")
	if err != nil {
		t.Fatal(err)
	}
	if value != "svc2" {
		t.Fatalf("expected svc2, got %s", value)
	}
	if err := store.Delete(ctx, "worker_auth_username"); err != nil {
		t.Fatal(err)
	}
	if err := store.Delete(ctx, "worker_auth_username"); !errors.Is(err, interfaces.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestMappingStoreBothIndexes(t *testing.T) {
	manager := newTestManager(t)
	ctx := context.Background()
	store := manager.Mappings()

	mapping := &models.JobMapping{GatewayJobID: "gw-1", PromptID: "p-1", WorkerID: "w-1"}
	if err := store.Save(ctx, mapping); err != nil {
		t.Fatal(err)
	}

	byJob, err := store.GetByGatewayJobID(ctx, "gw-1")
	if err != nil {
		t.Fatal(err)
	}
	byPrompt, err := store.GetByPromptID(ctx, "p-1")
	if err != nil {
		t.Fatal(err)
	}
	if byJob.WorkerID != "w-1" || byPrompt.GatewayJobID != "gw-1" {
		t.Fatalf("index mismatch: %+v / %+v", byJob, byPrompt)
	}

	if err := store.Delete(ctx, "gw-1"); err != nil {
		t.Fatal(err)
	}
	if _, err := store.GetByPromptID(ctx, "p-1"); !errors.Is(err, interfaces.ErrNotFound) {
		t.Fatalf("expected ErrNotFound after delete, got %v", err)
	}
}

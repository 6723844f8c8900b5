package memory

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/ternarybob/gantry/internal/interfaces"
	"github.com/ternarybob/gantry/internal/models"
)

func TestPendingQueueOrdering(t *testing.T) {
	store := NewPendingQueueStore()
	ctx := context.Background()
	base := time.Date(2026, 8, 1, 9, 0, 0, 0, time.UTC)

	jobs := []*models.QueuedJob{
		{GatewayJobID: "low-old", Priority: 1, CreatedAt: base},
		{GatewayJobID: "high-new", Priority: 10, CreatedAt: base.Add(time.Minute)},
		{GatewayJobID: "mid", Priority: 5, CreatedAt: base.Add(30 * time.Second)},
		{GatewayJobID: "high-old", Priority: 10, CreatedAt: base},
	}
	for _, job := range jobs {
		if err := store.Enqueue(ctx, job); err != nil {
			t.Fatal(err)
		}
	}

	want := []string{"high-old", "high-new", "mid", "low-old"}
	for _, expected := range want {
		job, err := store.Pop(ctx)
		if err != nil {
			t.Fatal(err)
		}
		if job.GatewayJobID != expected {
			t.Fatalf("expected %s, got %s", expected, job.GatewayJobID)
		}
	}
	if _, err := store.Pop(ctx); !errors.Is(err, interfaces.ErrQueueEmpty) {
		t.Fatalf("expected ErrQueueEmpty, got %v", err)
	}
}

func TestPendingQueueRequeuePreservesPosition(t *testing.T) {
	store := NewPendingQueueStore()
	ctx := context.Background()
	base := time.Date(2026, 8, 1, 9, 0, 0, 0, time.UTC)

	first := &models.QueuedJob{GatewayJobID: "first", Priority: 5, CreatedAt: base}
	second := &models.QueuedJob{GatewayJobID: "second", Priority: 5, CreatedAt: base.Add(time.Second)}
	for _, job := range []*models.QueuedJob{first, second} {
		if err := store.Enqueue(ctx, job); err != nil {
			t.Fatal(err)
		}
	}

	popped, err := store.Pop(ctx)
	if err != nil {
		t.Fatal(err)
	}
	// Put it back with its original timestamp, as the dispatcher does on a
	// capacity signal; it must still be ahead of the younger job.
	if err := store.Enqueue(ctx, popped); err != nil {
		t.Fatal(err)
	}
	head, err := store.Peek(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if head.GatewayJobID != "first" {
		t.Fatalf("re-enqueued job lost its position, head is %s", head.GatewayJobID)
	}
}

func TestPendingQueueConcurrentPopYieldsEachJobOnce(t *testing.T) {
	store := NewPendingQueueStore()
	ctx := context.Background()

	const jobCount = 50
	for i := 0; i < jobCount; i++ {
		job := &models.QueuedJob{
			GatewayJobID: fmt.Sprintf("job-%02d", i),
			Priority:     i % 5,
			CreatedAt:    time.Now(),
		}
		if err := store.Enqueue(ctx, job); err != nil {
			t.Fatal(err)
		}
	}

	var mu sync.Mutex
	seen := make(map[string]int)
	var wg sync.WaitGroup
	for g := 0; g < 8; g++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				job, err := store.Pop(ctx)
				if errors.Is(err, interfaces.ErrQueueEmpty) {
					return
				}
				if err != nil {
					t.Error(err)
					return
				}
				mu.Lock()
				seen[job.GatewayJobID]++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	if len(seen) != jobCount {
		t.Fatalf("expected %d distinct jobs, got %d", jobCount, len(seen))
	}
	for id, count := range seen {
		if count != 1 {
			t.Errorf("job %s popped %d times", id, count)
		}
	}
}

func TestPendingQueueRemove(t *testing.T) {
	store := NewPendingQueueStore()
	ctx := context.Background()

	if err := store.Enqueue(ctx, &models.QueuedJob{GatewayJobID: "keep", CreatedAt: time.Now()}); err != nil {
		t.Fatal(err)
	}
	if err := store.Enqueue(ctx, &models.QueuedJob{GatewayJobID: "drop", CreatedAt: time.Now()}); err != nil {
		t.Fatal(err)
	}
	if err := store.Remove(ctx, "drop"); err != nil {
		t.Fatal(err)
	}
	if err := store.Remove(ctx, "drop"); !errors.Is(err, interfaces.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	if n, _ := store.Len(ctx); n != 1 {
		t.Fatalf("expected 1 remaining job, got %d", n)
	}
}

package sqlite

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"

	"github.com/ternarybob/gantry/internal/interfaces"
)

// Pop must select and delete inside one transaction so two dispatchers can
// never drain the same job.
func TestPendingQueuePopIsTransactional(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatal(err)
	}
	defer db.Close()

	created := time.Date(2026, 8, 1, 9, 0, 0, 0, time.UTC)
	mock.ExpectBegin()
	mock.ExpectQuery("SELECT gateway_job_id, prompt, client_id, priority, created_at").
		WillReturnRows(sqlmock.NewRows(
			[]string{"gateway_job_id", "prompt", "client_id", "priority", "created_at"},
		).AddRow("job-1", []byte(`{}`), "c1", 5, created))
	mock.ExpectExec("DELETE FROM pending_queue WHERE gateway_job_id").
		WithArgs("job-1").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	store := &PendingQueueStore{db: db}
	job, err := store.Pop(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if job.GatewayJobID != "job-1" || job.Priority != 5 {
		t.Fatalf("unexpected job: %+v", job)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatal(err)
	}
}

func TestPendingQueuePopRollsBackWhenEmpty(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatal(err)
	}
	defer db.Close()

	mock.ExpectBegin()
	mock.ExpectQuery("SELECT gateway_job_id, prompt, client_id, priority, created_at").
		WillReturnRows(sqlmock.NewRows(
			[]string{"gateway_job_id", "prompt", "client_id", "priority", "created_at"},
		))
	mock.ExpectRollback()

	store := &PendingQueueStore{db: db}
	if _, err := store.Pop(context.Background()); !errors.Is(err, interfaces.ErrQueueEmpty) {
		t.Fatalf("expected ErrQueueEmpty, got %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatal(err)
	}
}

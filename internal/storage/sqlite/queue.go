package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/ternarybob/gantry/internal/interfaces"
	"github.com/ternarybob/gantry/internal/models"
)

// queueOrder is the admission order: higher priority first, then enqueue
// time, then job id as a deterministic tie-break.
const queueOrder = `ORDER BY priority DESC, created_at ASC, gateway_job_id ASC`

// PendingQueueStore persists the admission queue in the pending_queue table.
type PendingQueueStore struct {
	db *sql.DB
}

func (s *PendingQueueStore) Enqueue(ctx context.Context, job *models.QueuedJob) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO pending_queue (gateway_job_id, prompt, client_id, priority, created_at)
		VALUES (?, ?, ?, ?, ?)`,
		job.GatewayJobID, []byte(job.Prompt), job.ClientID, job.Priority, job.CreatedAt.UTC())
	if err != nil {
		return fmt.Errorf("failed to enqueue job %s: %w", job.GatewayJobID, err)
	}
	return nil
}

// Pop removes and returns the head of the queue. Select and delete run in
// one transaction so concurrent callers never receive the same job.
func (s *PendingQueueStore) Pop(ctx context.Context) (*models.QueuedJob, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin pop transaction: %w", err)
	}
	defer tx.Rollback()

	row := tx.QueryRowContext(ctx, `
		SELECT gateway_job_id, prompt, client_id, priority, created_at
		FROM pending_queue `+queueOrder+` LIMIT 1`)
	job, err := scanQueuedJob(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, interfaces.ErrQueueEmpty
	}
	if err != nil {
		return nil, err
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM pending_queue WHERE gateway_job_id = ?`, job.GatewayJobID); err != nil {
		return nil, fmt.Errorf("failed to remove popped job %s: %w", job.GatewayJobID, err)
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit pop: %w", err)
	}
	return job, nil
}

func (s *PendingQueueStore) Peek(ctx context.Context) (*models.QueuedJob, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT gateway_job_id, prompt, client_id, priority, created_at
		FROM pending_queue `+queueOrder+` LIMIT 1`)
	job, err := scanQueuedJob(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, interfaces.ErrQueueEmpty
	}
	return job, err
}

func (s *PendingQueueStore) List(ctx context.Context) ([]*models.QueuedJob, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT gateway_job_id, prompt, client_id, priority, created_at
		FROM pending_queue `+queueOrder)
	if err != nil {
		return nil, fmt.Errorf("failed to list pending queue: %w", err)
	}
	defer rows.Close()

	var jobs []*models.QueuedJob
	for rows.Next() {
		job, err := scanQueuedJob(rows)
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, job)
	}
	return jobs, rows.Err()
}

func (s *PendingQueueStore) Len(ctx context.Context) (int, error) {
	var count int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM pending_queue`).Scan(&count); err != nil {
		return 0, fmt.Errorf("failed to count pending queue: %w", err)
	}
	return count, nil
}

func (s *PendingQueueStore) Remove(ctx context.Context, gatewayJobID string) error {
	result, err := s.db.ExecContext(ctx, `DELETE FROM pending_queue WHERE gateway_job_id = ?`, gatewayJobID)
	if err != nil {
		return fmt.Errorf("failed to remove job %s: %w", gatewayJobID, err)
	}
	if affected, _ := result.RowsAffected(); affected == 0 {
		return interfaces.ErrNotFound
	}
	return nil
}

func scanQueuedJob(row rowScanner) (*models.QueuedJob, error) {
	var job models.QueuedJob
	var prompt []byte
	if err := row.Scan(&job.GatewayJobID, &prompt, &job.ClientID, &job.Priority, &job.CreatedAt); err != nil {
		return nil, err
	}
	job.Prompt = prompt
	return &job, nil
}

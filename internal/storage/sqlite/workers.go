package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/ternarybob/gantry/internal/interfaces"
	"github.com/ternarybob/gantry/internal/models"
)

// WorkerStore persists worker registrations in the workers table.
type WorkerStore struct {
	db *sql.DB
}

func (s *WorkerStore) Save(ctx context.Context, worker *models.WorkerInfo) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO workers (worker_id, url, name, weight, enabled, auth_username, auth_password)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(worker_id) DO UPDATE SET
			url = excluded.url,
			name = excluded.name,
			weight = excluded.weight,
			enabled = excluded.enabled,
			auth_username = excluded.auth_username,
			auth_password = excluded.auth_password`,
		worker.WorkerID, worker.URL, worker.Name, worker.Weight, worker.Enabled,
		worker.AuthUsername, worker.AuthPassword)
	if err != nil {
		return fmt.Errorf("failed to save worker %s: %w", worker.WorkerID, err)
	}
	return nil
}

func (s *WorkerStore) Get(ctx context.Context, workerID string) (*models.WorkerInfo, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT worker_id, url, name, weight, enabled, auth_username, auth_password
		FROM workers WHERE worker_id = ?`, workerID)
	worker, err := scanWorker(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, interfaces.ErrNotFound
	}
	return worker, err
}

func (s *WorkerStore) List(ctx context.Context) ([]*models.WorkerInfo, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT worker_id, url, name, weight, enabled, auth_username, auth_password
		FROM workers ORDER BY worker_id`)
	if err != nil {
		return nil, fmt.Errorf("failed to list workers: %w", err)
	}
	defer rows.Close()

	var workers []*models.WorkerInfo
	for rows.Next() {
		worker, err := scanWorker(rows)
		if err != nil {
			return nil, err
		}
		workers = append(workers, worker)
	}
	return workers, rows.Err()
}

func (s *WorkerStore) Delete(ctx context.Context, workerID string) error {
	result, err := s.db.ExecContext(ctx, `DELETE FROM workers WHERE worker_id = ?`, workerID)
	if err != nil {
		return fmt.Errorf("failed to delete worker %s: %w", workerID, err)
	}
	if affected, _ := result.RowsAffected(); affected == 0 {
		return interfaces.ErrNotFound
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanWorker(row rowScanner) (*models.WorkerInfo, error) {
	var worker models.WorkerInfo
	err := row.Scan(&worker.WorkerID, &worker.URL, &worker.Name, &worker.Weight,
		&worker.Enabled, &worker.AuthUsername, &worker.AuthPassword)
	if err != nil {
		return nil, err
	}
	return &worker, nil
}

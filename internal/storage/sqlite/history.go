package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/ternarybob/gantry/internal/interfaces"
	"github.com/ternarybob/gantry/internal/models"
)

// HistoryStore persists task lifecycle records in the task_history table.
type HistoryStore struct {
	db *sql.DB
}

const taskColumns = `task_id, prompt_id, worker_id, priority, status, progress, error_message, submitted_at, started_at, completed_at, result`

func (s *HistoryStore) Save(ctx context.Context, task *models.TaskRecord) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO task_history (`+taskColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(task_id) DO UPDATE SET
			prompt_id = excluded.prompt_id,
			worker_id = excluded.worker_id,
			priority = excluded.priority,
			status = excluded.status,
			progress = excluded.progress,
			error_message = excluded.error_message,
			submitted_at = excluded.submitted_at,
			started_at = excluded.started_at,
			completed_at = excluded.completed_at,
			result = excluded.result`,
		task.TaskID, task.PromptID, task.WorkerID, task.Priority, string(task.Status),
		task.Progress, task.ErrorMessage, task.SubmittedAt.UTC(),
		nullableTime(task.StartedAt), nullableTime(task.CompletedAt), []byte(task.Result))
	if err != nil {
		return fmt.Errorf("failed to save task %s: %w", task.TaskID, err)
	}
	return nil
}

func (s *HistoryStore) Get(ctx context.Context, taskID string) (*models.TaskRecord, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+taskColumns+` FROM task_history WHERE task_id = ?`, taskID)
	task, err := scanTask(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, interfaces.ErrNotFound
	}
	return task, err
}

func (s *HistoryStore) GetByPromptID(ctx context.Context, promptID string) (*models.TaskRecord, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+taskColumns+` FROM task_history WHERE prompt_id = ? LIMIT 1`, promptID)
	task, err := scanTask(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, interfaces.ErrNotFound
	}
	return task, err
}

func (s *HistoryStore) List(ctx context.Context, opts interfaces.TaskListOptions) ([]*models.TaskRecord, error) {
	query := `SELECT ` + taskColumns + ` FROM task_history WHERE 1=1`
	args := []any{}
	if opts.Status != "" {
		query += ` AND status = ?`
		args = append(args, string(opts.Status))
	}
	if opts.WorkerID != "" {
		query += ` AND worker_id = ?`
		args = append(args, opts.WorkerID)
	}
	query += ` ORDER BY submitted_at DESC, task_id ASC`
	if opts.Limit > 0 {
		query += ` LIMIT ?`
		args = append(args, opts.Limit)
		if opts.Offset > 0 {
			query += ` OFFSET ?`
			args = append(args, opts.Offset)
		}
	} else if opts.Offset > 0 {
		query += ` LIMIT -1 OFFSET ?`
		args = append(args, opts.Offset)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list tasks: %w", err)
	}
	defer rows.Close()

	var tasks []*models.TaskRecord
	for rows.Next() {
		task, err := scanTask(rows)
		if err != nil {
			return nil, err
		}
		tasks = append(tasks, task)
	}
	return tasks, rows.Err()
}

func (s *HistoryStore) Delete(ctx context.Context, taskID string) error {
	result, err := s.db.ExecContext(ctx, `DELETE FROM task_history WHERE task_id = ?`, taskID)
	if err != nil {
		return fmt.Errorf("failed to delete task %s: %w", taskID, err)
	}
	if affected, _ := result.RowsAffected(); affected == 0 {
		return interfaces.ErrNotFound
	}
	return nil
}

func (s *HistoryStore) DeleteOlderThan(ctx context.Context, cutoff time.Time) (int, error) {
	result, err := s.db.ExecContext(ctx, `
		DELETE FROM task_history
		WHERE status IN (?, ?) AND submitted_at < ?`,
		string(models.TaskStatusDone), string(models.TaskStatusFailed), cutoff.UTC())
	if err != nil {
		return 0, fmt.Errorf("failed to prune task history: %w", err)
	}
	affected, _ := result.RowsAffected()
	return int(affected), nil
}

func scanTask(row rowScanner) (*models.TaskRecord, error) {
	var task models.TaskRecord
	var status string
	var started, completed sql.NullTime
	var result []byte
	err := row.Scan(&task.TaskID, &task.PromptID, &task.WorkerID, &task.Priority, &status,
		&task.Progress, &task.ErrorMessage, &task.SubmittedAt, &started, &completed, &result)
	if err != nil {
		return nil, err
	}
	task.Status = models.TaskStatus(status)
	if started.Valid {
		t := started.Time
		task.StartedAt = &t
	}
	if completed.Valid {
		t := completed.Time
		task.CompletedAt = &t
	}
	if len(result) > 0 {
		task.Result = result
	}
	return &task, nil
}

func nullableTime(t *time.Time) any {
	if t == nil {
		return nil
	}
	return t.UTC()
}

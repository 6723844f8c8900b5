package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/ternarybob/gantry/internal/interfaces"
	"github.com/ternarybob/gantry/internal/models"
)

// MappingStore persists job mappings in the job_mappings table.
type MappingStore struct {
	db *sql.DB
}

func (s *MappingStore) Save(ctx context.Context, mapping *models.JobMapping) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO job_mappings (gateway_job_id, prompt_id, worker_id)
		VALUES (?, ?, ?)
		ON CONFLICT(gateway_job_id) DO UPDATE SET
			prompt_id = excluded.prompt_id,
			worker_id = excluded.worker_id`,
		mapping.GatewayJobID, mapping.PromptID, mapping.WorkerID)
	if err != nil {
		return fmt.Errorf("failed to save mapping %s: %w", mapping.GatewayJobID, err)
	}
	return nil
}

func (s *MappingStore) GetByGatewayJobID(ctx context.Context, gatewayJobID string) (*models.JobMapping, error) {
	return s.get(ctx, `SELECT gateway_job_id, prompt_id, worker_id FROM job_mappings WHERE gateway_job_id = ?`, gatewayJobID)
}

func (s *MappingStore) GetByPromptID(ctx context.Context, promptID string) (*models.JobMapping, error) {
	return s.get(ctx, `SELECT gateway_job_id, prompt_id, worker_id FROM job_mappings WHERE prompt_id = ?`, promptID)
}

func (s *MappingStore) get(ctx context.Context, query, arg string) (*models.JobMapping, error) {
	var mapping models.JobMapping
	err := s.db.QueryRowContext(ctx, query, arg).Scan(&mapping.GatewayJobID, &mapping.PromptID, &mapping.WorkerID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, interfaces.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load mapping: %w", err)
	}
	return &mapping, nil
}

func (s *MappingStore) Delete(ctx context.Context, gatewayJobID string) error {
	result, err := s.db.ExecContext(ctx, `DELETE FROM job_mappings WHERE gateway_job_id = ?`, gatewayJobID)
	if err != nil {
		return fmt.Errorf("failed to delete mapping %s: %w", gatewayJobID, err)
	}
	if affected, _ := result.RowsAffected(); affected == 0 {
		return interfaces.ErrNotFound
	}
	return nil
}

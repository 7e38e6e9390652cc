package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/vietddude/rescue/internal/core/domain"
)

// CheckpointRepo implements storage.CheckpointRepository using PostgreSQL.
type CheckpointRepo struct {
	db *DB
}

// NewCheckpointRepo creates a new PostgreSQL checkpoint repository.
func NewCheckpointRepo(db *DB) *CheckpointRepo {
	return &CheckpointRepo{db: db}
}

type checkpointRow struct {
	ID          string    `db:"id"`
	JobID       string    `db:"job_id"`
	Type        string    `db:"type"`
	Data        []byte    `db:"data"`
	Description string    `db:"description"`
	CanResume   bool      `db:"can_resume_from"`
	RemainingMs int64     `db:"estimated_remaining_ms"`
	CreatedAt   time.Time `db:"created_at"`
}

func (row *checkpointRow) toDomain() (*domain.ProcessingCheckpoint, error) {
	data := make(map[string]any)
	if len(row.Data) > 0 {
		if err := json.Unmarshal(row.Data, &data); err != nil {
			return nil, fmt.Errorf("failed to unmarshal checkpoint data: %w", err)
		}
	}
	return &domain.ProcessingCheckpoint{
		ID:    row.ID,
		JobID: row.JobID,
		Type:  row.Type,
		Data:  data,
		Metadata: domain.CheckpointMetadata{
			Description:            row.Description,
			CanResumeFrom:          row.CanResume,
			EstimatedTimeRemaining: time.Duration(row.RemainingMs) * time.Millisecond,
			CreatedAt:              row.CreatedAt,
		},
	}, nil
}

// Save persists a checkpoint.
func (r *CheckpointRepo) Save(ctx context.Context, cp *domain.ProcessingCheckpoint) error {
	data, err := json.Marshal(cp.Data)
	if err != nil {
		return fmt.Errorf("failed to marshal checkpoint data: %w", err)
	}

	query := `
		INSERT INTO checkpoints (id, job_id, type, data, description, can_resume_from, estimated_remaining_ms, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`
	_, err = r.db.ExecContext(
		ctx,
		query,
		cp.ID,
		cp.JobID,
		cp.Type,
		data,
		cp.Metadata.Description,
		cp.Metadata.CanResumeFrom,
		cp.Metadata.EstimatedTimeRemaining.Milliseconds(),
		cp.Metadata.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to save checkpoint: %w", err)
	}
	return nil
}

// ListByJob returns all checkpoints for a job, oldest first.
func (r *CheckpointRepo) ListByJob(
	ctx context.Context,
	jobID string,
) ([]*domain.ProcessingCheckpoint, error) {
	query := `
		SELECT id, job_id, type, data, description, can_resume_from, estimated_remaining_ms, created_at
		FROM checkpoints
		WHERE job_id = $1
		ORDER BY created_at ASC, id ASC
	`

	var rows []checkpointRow
	if err := r.db.SelectContext(ctx, &rows, query, jobID); err != nil {
		return nil, fmt.Errorf("failed to list checkpoints: %w", err)
	}

	cps := make([]*domain.ProcessingCheckpoint, 0, len(rows))
	for i := range rows {
		cp, err := rows[i].toDomain()
		if err != nil {
			return nil, err
		}
		cps = append(cps, cp)
	}
	return cps, nil
}

// GetByType returns the most recent checkpoint of the given type.
func (r *CheckpointRepo) GetByType(
	ctx context.Context,
	jobID, cpType string,
) (*domain.ProcessingCheckpoint, error) {
	query := `
		SELECT id, job_id, type, data, description, can_resume_from, estimated_remaining_ms, created_at
		FROM checkpoints
		WHERE job_id = $1 AND type = $2
		ORDER BY created_at DESC, id DESC
		LIMIT 1
	`

	var row checkpointRow
	err := r.db.GetContext(ctx, &row, query, jobID, cpType)
	if err == sql.ErrNoRows {
		return nil, nil // No checkpoint of this type
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get checkpoint by type: %w", err)
	}
	return row.toDomain()
}

// GetLatestResumable returns the most recent checkpoint marked resumable.
func (r *CheckpointRepo) GetLatestResumable(
	ctx context.Context,
	jobID string,
) (*domain.ProcessingCheckpoint, error) {
	query := `
		SELECT id, job_id, type, data, description, can_resume_from, estimated_remaining_ms, created_at
		FROM checkpoints
		WHERE job_id = $1 AND can_resume_from
		ORDER BY created_at DESC, id DESC
		LIMIT 1
	`

	var row checkpointRow
	err := r.db.GetContext(ctx, &row, query, jobID)
	if err == sql.ErrNoRows {
		return nil, nil // Nothing to resume from
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get resumable checkpoint: %w", err)
	}
	return row.toDomain()
}

// CountByJob returns the number of checkpoints stored for a job.
func (r *CheckpointRepo) CountByJob(ctx context.Context, jobID string) (int, error) {
	query := `
		SELECT COUNT(*)
		FROM checkpoints
		WHERE job_id = $1
	`
	var count int
	if err := r.db.GetContext(ctx, &count, query, jobID); err != nil {
		return 0, fmt.Errorf("failed to count checkpoints: %w", err)
	}
	return count, nil
}

// DeleteOldest trims a job's checkpoints down to the newest keep entries.
func (r *CheckpointRepo) DeleteOldest(ctx context.Context, jobID string, keep int) error {
	query := `
		DELETE FROM checkpoints
		WHERE job_id = $1 AND id NOT IN (
			SELECT id FROM checkpoints
			WHERE job_id = $1
			ORDER BY created_at DESC, id DESC
			LIMIT $2
		)
	`
	if _, err := r.db.ExecContext(ctx, query, jobID, keep); err != nil {
		return fmt.Errorf("failed to trim checkpoints: %w", err)
	}
	return nil
}

// DeleteExpired removes checkpoints created before the cutoff.
func (r *CheckpointRepo) DeleteExpired(ctx context.Context, before time.Time) (int, error) {
	query := `
		DELETE FROM checkpoints
		WHERE created_at < $1
	`
	res, err := r.db.ExecContext(ctx, query, before)
	if err != nil {
		return 0, fmt.Errorf("failed to delete expired checkpoints: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, nil
	}
	return int(n), nil
}

package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/vietddude/rescue/internal/core/domain"
	"github.com/vietddude/rescue/internal/infra/storage"
)

// ReportRepo implements storage.ErrorReportRepository using PostgreSQL.
type ReportRepo struct {
	db *DB
}

// NewReportRepo creates a new PostgreSQL error report repository.
func NewReportRepo(db *DB) *ReportRepo {
	return &ReportRepo{db: db}
}

type reportRow struct {
	ID               string    `db:"id"`
	UserID           string    `db:"user_id"`
	Error            []byte    `db:"error"`
	Context          []byte    `db:"context"`
	SystemInfo       []byte    `db:"system_info"`
	RecoveryAttempts []byte    `db:"recovery_attempts"`
	UserFeedback     string    `db:"user_feedback"`
	Status           string    `db:"status"`
	CreatedAt        time.Time `db:"created_at"`
	UpdatedAt        time.Time `db:"updated_at"`
}

func (row *reportRow) toDomain() (*domain.ErrorReport, error) {
	report := &domain.ErrorReport{
		ID:           row.ID,
		UserID:       row.UserID,
		UserFeedback: row.UserFeedback,
		Status:       domain.ReportStatus(row.Status),
		CreatedAt:    row.CreatedAt,
		UpdatedAt:    row.UpdatedAt,
	}
	if err := json.Unmarshal(row.Error, &report.Error); err != nil {
		return nil, fmt.Errorf("failed to unmarshal report error: %w", err)
	}
	if err := json.Unmarshal(row.Context, &report.Context); err != nil {
		return nil, fmt.Errorf("failed to unmarshal report context: %w", err)
	}
	if err := json.Unmarshal(row.SystemInfo, &report.SystemInfo); err != nil {
		return nil, fmt.Errorf("failed to unmarshal system info: %w", err)
	}
	if err := json.Unmarshal(row.RecoveryAttempts, &report.RecoveryAttempts); err != nil {
		return nil, fmt.Errorf("failed to unmarshal recovery attempts: %w", err)
	}
	return report, nil
}

const reportColumns = `id, user_id, error, context, system_info, recovery_attempts, user_feedback, status, created_at, updated_at`

// Save persists a report.
func (r *ReportRepo) Save(ctx context.Context, report *domain.ErrorReport) error {
	cerr, err := json.Marshal(report.Error)
	if err != nil {
		return fmt.Errorf("failed to marshal report error: %w", err)
	}
	rctx, err := json.Marshal(report.Context)
	if err != nil {
		return fmt.Errorf("failed to marshal report context: %w", err)
	}
	sysInfo, err := json.Marshal(report.SystemInfo)
	if err != nil {
		return fmt.Errorf("failed to marshal system info: %w", err)
	}
	attempts, err := json.Marshal(report.RecoveryAttempts)
	if err != nil {
		return fmt.Errorf("failed to marshal recovery attempts: %w", err)
	}

	query := `
		INSERT INTO error_reports (` + reportColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`
	_, err = r.db.ExecContext(
		ctx,
		query,
		report.ID,
		report.UserID,
		cerr,
		rctx,
		sysInfo,
		attempts,
		report.UserFeedback,
		string(report.Status),
		report.CreatedAt,
		report.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to save error report: %w", err)
	}
	return nil
}

// Get retrieves a report by id.
func (r *ReportRepo) Get(ctx context.Context, id string) (*domain.ErrorReport, error) {
	query := `
		SELECT ` + reportColumns + `
		FROM error_reports
		WHERE id = $1
	`
	var row reportRow
	err := r.db.GetContext(ctx, &row, query, id)
	if err == sql.ErrNoRows {
		return nil, storage.ErrReportNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get error report: %w", err)
	}
	return row.toDomain()
}

// ListByUser returns recent reports for a user, newest first.
func (r *ReportRepo) ListByUser(
	ctx context.Context,
	userID string,
	limit int,
) ([]*domain.ErrorReport, error) {
	query := `
		SELECT ` + reportColumns + `
		FROM error_reports
		WHERE user_id = $1
		ORDER BY created_at DESC
		LIMIT $2
	`
	return r.list(ctx, query, userID, limit)
}

// ListRecent returns the most recent reports across users, newest first.
func (r *ReportRepo) ListRecent(ctx context.Context, limit int) ([]*domain.ErrorReport, error) {
	query := `
		SELECT ` + reportColumns + `
		FROM error_reports
		ORDER BY created_at DESC
		LIMIT $1
	`
	return r.list(ctx, query, limit)
}

func (r *ReportRepo) list(
	ctx context.Context,
	query string,
	args ...any,
) ([]*domain.ErrorReport, error) {
	var rows []reportRow
	if err := r.db.SelectContext(ctx, &rows, query, args...); err != nil {
		return nil, fmt.Errorf("failed to list error reports: %w", err)
	}

	reports := make([]*domain.ErrorReport, 0, len(rows))
	for i := range rows {
		report, err := rows[i].toDomain()
		if err != nil {
			return nil, err
		}
		reports = append(reports, report)
	}
	return reports, nil
}

// UpdateStatus updates report status.
func (r *ReportRepo) UpdateStatus(
	ctx context.Context,
	id string,
	status domain.ReportStatus,
) error {
	query := `
		UPDATE error_reports
		SET status = $2, updated_at = NOW()
		WHERE id = $1
	`
	res, err := r.db.ExecContext(ctx, query, id, string(status))
	if err != nil {
		return fmt.Errorf("failed to update report status: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return storage.ErrReportNotFound
	}
	return nil
}

// AttachFeedback stores user feedback on a report.
func (r *ReportRepo) AttachFeedback(ctx context.Context, id string, feedback string) error {
	query := `
		UPDATE error_reports
		SET user_feedback = $2, updated_at = NOW()
		WHERE id = $1
	`
	res, err := r.db.ExecContext(ctx, query, id, feedback)
	if err != nil {
		return fmt.Errorf("failed to attach feedback: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return storage.ErrReportNotFound
	}
	return nil
}

// DeleteResolvedOlderThan removes resolved reports updated before the cutoff.
func (r *ReportRepo) DeleteResolvedOlderThan(
	ctx context.Context,
	before time.Time,
) (int, error) {
	query := `
		DELETE FROM error_reports
		WHERE status = 'resolved' AND updated_at < $1
	`
	res, err := r.db.ExecContext(ctx, query, before)
	if err != nil {
		return 0, fmt.Errorf("failed to delete resolved reports: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, nil
	}
	return int(n), nil
}

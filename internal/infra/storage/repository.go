package storage

import (
	"context"
	"errors"
	"time"

	"github.com/vietddude/rescue/internal/core/domain"
)

var (
	// ErrReportNotFound is returned when an error report doesn't exist
	ErrReportNotFound = errors.New("error report not found")
)

// CheckpointRepository handles checkpoint storage operations
type CheckpointRepository interface {
	// Save persists a checkpoint
	Save(ctx context.Context, cp *domain.ProcessingCheckpoint) error

	// ListByJob returns all checkpoints for a job, oldest first
	ListByJob(ctx context.Context, jobID string) ([]*domain.ProcessingCheckpoint, error)

	// GetByType returns the most recent checkpoint of the given type, or nil
	GetByType(ctx context.Context, jobID, cpType string) (*domain.ProcessingCheckpoint, error)

	// GetLatestResumable returns the most recent checkpoint marked resumable, or nil
	GetLatestResumable(ctx context.Context, jobID string) (*domain.ProcessingCheckpoint, error)

	// CountByJob returns the number of checkpoints stored for a job
	CountByJob(ctx context.Context, jobID string) (int, error)

	// DeleteOldest trims a job's checkpoints down to the newest keep entries
	DeleteOldest(ctx context.Context, jobID string, keep int) error

	// DeleteExpired removes checkpoints created before the cutoff
	DeleteExpired(ctx context.Context, before time.Time) (int, error)
}

// ErrorReportRepository handles error report storage operations
type ErrorReportRepository interface {
	// Save persists a report
	Save(ctx context.Context, report *domain.ErrorReport) error

	// Get retrieves a report by id
	Get(ctx context.Context, id string) (*domain.ErrorReport, error)

	// ListByUser returns recent reports for a user, newest first
	ListByUser(ctx context.Context, userID string, limit int) ([]*domain.ErrorReport, error)

	// ListRecent returns the most recent reports across users, newest first
	ListRecent(ctx context.Context, limit int) ([]*domain.ErrorReport, error)

	// UpdateStatus updates report status
	UpdateStatus(ctx context.Context, id string, status domain.ReportStatus) error

	// AttachFeedback stores user feedback on a report
	AttachFeedback(ctx context.Context, id string, feedback string) error

	// DeleteResolvedOlderThan removes resolved reports updated before the cutoff
	DeleteResolvedOlderThan(ctx context.Context, before time.Time) (int, error)
}

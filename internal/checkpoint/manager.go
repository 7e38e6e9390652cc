// Package checkpoint persists named snapshots of in-flight operation state.
//
// # Purpose
//
// Long-running operations (uploads, AI generation steps) record checkpoints
// so that a retry can resume from the last completed step instead of
// repeating everything. A checkpoint belongs to a job, carries an open
// string type tag, and its data map is opaque: the store never interprets
// it beyond size and retention policy.
//
// # Quick Start
//
//	mgr := checkpoint.NewManager(repo, checkpoint.Config{})
//
//	cp, _ := mgr.Create(ctx, "job-42", "upload", map[string]any{"bytes": 1024},
//	    domain.CheckpointMetadata{Description: "chunk 3/10", CanResumeFrom: true})
//
//	res, _ := mgr.RestoreLatest(ctx, "job-42")
//	if res.Success {
//	    resume(res.RestoredData)
//	}
//
// Having nothing to restore is a normal outcome (res.Success == false),
// not an error.
package checkpoint

import (
	"context"
	"crypto/rand"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/vietddude/rescue/internal/core/domain"
	"github.com/vietddude/rescue/internal/infra/storage"
	"github.com/vietddude/rescue/internal/metrics"
)

var (
	// ErrJobIDRequired is returned when a checkpoint operation is missing
	// its job id.
	ErrJobIDRequired = errors.New("job id required")

	// ErrDataTooLarge is returned when serialized checkpoint data exceeds
	// the configured limit.
	ErrDataTooLarge = errors.New("checkpoint data too large")
)

// Config holds checkpoint retention and size policy.
type Config struct {
	Retention       time.Duration `yaml:"retention"`
	MaxPerJob       int           `yaml:"max_per_job"`
	MaxDataBytes    int           `yaml:"max_data_bytes"`
	CleanupInterval time.Duration `yaml:"cleanup_interval"`
}

// Manager handles checkpoint lifecycle operations.
type Manager interface {
	// Create appends a new checkpoint for a job.
	Create(
		ctx context.Context,
		jobID, cpType string,
		data map[string]any,
		meta domain.CheckpointMetadata,
	) (*domain.ProcessingCheckpoint, error)

	// ListByJob returns a job's checkpoints, oldest first.
	ListByJob(ctx context.Context, jobID string) ([]*domain.ProcessingCheckpoint, error)

	// GetByType returns the most recent checkpoint of the given type, or nil.
	GetByType(ctx context.Context, jobID, cpType string) (*domain.ProcessingCheckpoint, error)

	// RestoreLatest returns the most recent resumable checkpoint for a job.
	RestoreLatest(ctx context.Context, jobID string) (*domain.RestoreResult, error)

	// CleanupExpired deletes checkpoints past the retention window.
	CleanupExpired(ctx context.Context) (int, error)
}

// DefaultManager implements Manager over a CheckpointRepository.
type DefaultManager struct {
	repo storage.CheckpointRepository
	cfg  Config

	mu      sync.Mutex
	entropy io.Reader
	now     func() time.Time
}

// Option configures a DefaultManager.
type Option func(*DefaultManager)

// WithClock overrides the manager's clock.
func WithClock(now func() time.Time) Option {
	return func(m *DefaultManager) { m.now = now }
}

// WithEntropy overrides the ULID entropy source.
func WithEntropy(r io.Reader) Option {
	return func(m *DefaultManager) { m.entropy = r }
}

// NewManager creates a checkpoint manager with the given repository and
// policy. Zero config fields fall back to defaults: 24h retention, 20
// checkpoints per job, 256 KiB of serialized data.
func NewManager(repo storage.CheckpointRepository, cfg Config, opts ...Option) *DefaultManager {
	if cfg.Retention <= 0 {
		cfg.Retention = 24 * time.Hour
	}
	if cfg.MaxPerJob <= 0 {
		cfg.MaxPerJob = 20
	}
	if cfg.MaxDataBytes <= 0 {
		cfg.MaxDataBytes = 256 * 1024
	}

	m := &DefaultManager{
		repo:    repo,
		cfg:     cfg,
		entropy: ulid.Monotonic(rand.Reader, 0),
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Create appends a new checkpoint. Ids are monotonic ULIDs so that
// "latest" ordering survives equal creation timestamps.
func (m *DefaultManager) Create(
	ctx context.Context,
	jobID, cpType string,
	data map[string]any,
	meta domain.CheckpointMetadata,
) (*domain.ProcessingCheckpoint, error) {
	if jobID == "" {
		return nil, ErrJobIDRequired
	}
	if cpType == "" {
		cpType = "snapshot"
	}
	if data == nil {
		data = make(map[string]any)
	}

	serialized, err := json.Marshal(data)
	if err != nil {
		return nil, fmt.Errorf("failed to serialize checkpoint data: %w", err)
	}
	if len(serialized) > m.cfg.MaxDataBytes {
		return nil, fmt.Errorf("%w: %d bytes exceeds limit %d",
			ErrDataTooLarge, len(serialized), m.cfg.MaxDataBytes)
	}

	meta.CreatedAt = m.now()

	cp := &domain.ProcessingCheckpoint{
		ID:       m.nextID(meta.CreatedAt),
		JobID:    jobID,
		Type:     cpType,
		Data:     data,
		Metadata: meta,
	}

	if err := m.repo.Save(ctx, cp); err != nil {
		return nil, fmt.Errorf("failed to save checkpoint: %w", err)
	}
	metrics.CheckpointsCreated.Inc()

	// Enforce the per-job cap, newest kept.
	count, err := m.repo.CountByJob(ctx, jobID)
	if err == nil && count > m.cfg.MaxPerJob {
		if err := m.repo.DeleteOldest(ctx, jobID, m.cfg.MaxPerJob); err != nil {
			return nil, fmt.Errorf("failed to trim checkpoints: %w", err)
		}
	}

	return cp, nil
}

// ListByJob returns a job's checkpoints, oldest first.
func (m *DefaultManager) ListByJob(
	ctx context.Context,
	jobID string,
) ([]*domain.ProcessingCheckpoint, error) {
	if jobID == "" {
		return nil, ErrJobIDRequired
	}
	return m.repo.ListByJob(ctx, jobID)
}

// GetByType returns the most recent checkpoint of the given type, or nil
// when none exists.
func (m *DefaultManager) GetByType(
	ctx context.Context,
	jobID, cpType string,
) (*domain.ProcessingCheckpoint, error) {
	if jobID == "" {
		return nil, ErrJobIDRequired
	}
	return m.repo.GetByType(ctx, jobID, cpType)
}

// RestoreLatest selects the most recent checkpoint marked resumable. When
// no checkpoint qualifies the result carries Success=false and a message;
// that is a normal outcome, not an error.
func (m *DefaultManager) RestoreLatest(
	ctx context.Context,
	jobID string,
) (*domain.RestoreResult, error) {
	if jobID == "" {
		return nil, ErrJobIDRequired
	}

	cp, err := m.repo.GetLatestResumable(ctx, jobID)
	if err != nil {
		return nil, fmt.Errorf("failed to look up resumable checkpoint: %w", err)
	}
	if cp == nil {
		return &domain.RestoreResult{
			Success: false,
			Message: fmt.Sprintf("no resumable checkpoint for job %s", jobID),
		}, nil
	}

	metrics.CheckpointsRestored.Inc()
	return &domain.RestoreResult{
		Success:      true,
		Checkpoint:   cp,
		RestoredData: cp.Data,
		Message:      fmt.Sprintf("restored from checkpoint %s (%s)", cp.ID, cp.Type),
	}, nil
}

// CleanupExpired deletes checkpoints created before the retention cutoff.
// Safe to run concurrently and idempotent: the repository delete is a
// single statement keyed only on the cutoff.
func (m *DefaultManager) CleanupExpired(ctx context.Context) (int, error) {
	cutoff := m.now().Add(-m.cfg.Retention)
	n, err := m.repo.DeleteExpired(ctx, cutoff)
	if err != nil {
		return 0, fmt.Errorf("failed to delete expired checkpoints: %w", err)
	}
	if n > 0 {
		metrics.CheckpointsExpired.Add(float64(n))
	}
	return n, nil
}

// nextID generates a monotonic ULID. The entropy source is not safe for
// concurrent use, so it is guarded here.
func (m *DefaultManager) nextID(at time.Time) string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return ulid.MustNew(ulid.Timestamp(at), m.entropy).String()
}

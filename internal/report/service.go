// Package report composes and persists error reports.
//
// A report is the durable record of a terminal failure: the classified
// error plus everything a human needs to debug it later (recent user
// actions, recovery attempts, checkpoint ids, host and network state, and
// process runtime stats), all gathered synchronously at report time.
// Reports are write-once; only their status and user feedback change
// afterward.
//
// Persistence is layered: reports from authenticated users go to the
// repository, falling back to the local spool when the store is down;
// anonymous reports go straight to the spool. Either way the caller gets a
// report id back.
package report

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime"
	"time"

	"github.com/google/uuid"

	"github.com/vietddude/rescue/internal/core/domain"
	"github.com/vietddude/rescue/internal/infra/probe"
	"github.com/vietddude/rescue/internal/infra/storage"
	"github.com/vietddude/rescue/internal/metrics"
)

// Config tunes the reporting service.
type Config struct {
	Retention           time.Duration `yaml:"retention"`
	SpoolDir            string        `yaml:"spool_dir"`
	MaxActions          int           `yaml:"max_actions"`
	MaxRecoveryAttempts int           `yaml:"max_recovery_attempts"`
}

// ReportOptions carries the caller-supplied context of one report.
type ReportOptions struct {
	SessionID    string
	JobID        string
	UserID       string
	Checkpoints  []string
	UserFeedback string
}

// Service builds error reports and routes them to the durable store or the
// local spool.
type Service struct {
	repo    storage.ErrorReportRepository
	probe   probe.EnvironmentProbe
	session Session
	spool   *Spool
	log     *slog.Logger
	now     func() time.Time
	started time.Time
}

// Option configures a Service.
type Option func(*Service)

// WithSpool overrides the fallback spool.
func WithSpool(spool *Spool) Option {
	return func(s *Service) { s.spool = spool }
}

// WithLogger overrides the service logger.
func WithLogger(log *slog.Logger) Option {
	return func(s *Service) { s.log = log }
}

// WithClock overrides the service clock.
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

// NewService creates a reporting service. The session buffers diagnostic
// context between failures; a nil session disables action and attempt
// capture but reporting still works.
func NewService(
	repo storage.ErrorReportRepository,
	p probe.EnvironmentProbe,
	session Session,
	opts ...Option,
) *Service {
	s := &Service{
		repo:    repo,
		probe:   p,
		session: session,
		spool:   NewSpool("spool"),
		log:     slog.Default(),
		now:     time.Now,
		started: time.Now(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Report assembles a full error report for cerr and writes it out. The
// returned id identifies the report in whichever sink accepted it.
//
// Reports without a UserID have no owner to query them by, so they go to
// the local spool only. Reports with a UserID go to the repository; if that
// write fails the report falls back to the spool and the failure is logged,
// not propagated. An error comes back only when every sink rejected the
// report.
func (s *Service) Report(
	ctx context.Context,
	cerr *domain.ClassifiedError,
	opts ReportOptions,
) (string, error) {
	if cerr == nil {
		return "", errors.New("cannot report a nil error")
	}

	now := s.now()
	report := &domain.ErrorReport{
		ID:     uuid.New().String(),
		UserID: opts.UserID,
		Error:  *cerr,
		Context: domain.ReportContext{
			SessionID:   opts.SessionID,
			JobID:       opts.JobID,
			UserActions: s.recentActions(ctx),
			Checkpoints: opts.Checkpoints,
			Network:     s.probe.Network(ctx),
			Performance: s.performance(),
		},
		SystemInfo:       s.probe.System(ctx),
		RecoveryAttempts: s.recentAttempts(ctx),
		UserFeedback:     opts.UserFeedback,
		Status:           domain.ReportStatusOpen,
		CreatedAt:        now,
		UpdatedAt:        now,
	}

	if opts.UserID == "" {
		if err := s.spool.Write(report); err != nil {
			s.log.Error("Failed to spool anonymous report", "report_id", report.ID, "error", err)
			return report.ID, err
		}
		metrics.ReportsTotal.WithLabelValues("spool").Inc()
		s.log.Info("Spooled anonymous error report", "report_id", report.ID, "error_type", cerr.Type)
		return report.ID, nil
	}

	if err := s.repo.Save(ctx, report); err != nil {
		s.log.Error("Failed to persist report, spooling", "report_id", report.ID, "error", err)
		if serr := s.spool.Write(report); serr != nil {
			s.log.Error("Failed to spool report", "report_id", report.ID, "error", serr)
			return report.ID, fmt.Errorf("report rejected by store (%v) and spool: %w", err, serr)
		}
		metrics.ReportsTotal.WithLabelValues("spool").Inc()
		return report.ID, nil
	}

	metrics.ReportsTotal.WithLabelValues("durable").Inc()
	s.log.Info("Created error report",
		"report_id", report.ID,
		"user_id", opts.UserID,
		"error_type", cerr.Type,
	)
	return report.ID, nil
}

// recentActions reads the session's action buffer, tolerating a missing or
// failing session.
func (s *Service) recentActions(ctx context.Context) []domain.UserAction {
	if s.session == nil {
		return nil
	}
	actions, err := s.session.Actions(ctx)
	if err != nil {
		s.log.Warn("Failed to read session actions", "error", err)
		return nil
	}
	return actions
}

func (s *Service) recentAttempts(ctx context.Context) []domain.RecoveryAttempt {
	if s.session == nil {
		return nil
	}
	attempts, err := s.session.RecoveryAttempts(ctx)
	if err != nil {
		s.log.Warn("Failed to read session recovery attempts", "error", err)
		return nil
	}
	return attempts
}

// performance snapshots the process runtime.
func (s *Service) performance() domain.PerformanceSnapshot {
	var ms runtime.MemStats
	runtime.ReadMemStats(&ms)
	return domain.PerformanceSnapshot{
		Goroutines: runtime.NumGoroutine(),
		HeapAlloc:  ms.HeapAlloc,
		HeapSys:    ms.HeapSys,
		Uptime:     time.Since(s.started),
	}
}

// UpdateStatus moves a report to a new lifecycle status.
func (s *Service) UpdateStatus(ctx context.Context, id string, status domain.ReportStatus) error {
	switch status {
	case domain.ReportStatusOpen, domain.ReportStatusInvestigating, domain.ReportStatusResolved:
	default:
		return fmt.Errorf("invalid report status %q", status)
	}
	return s.repo.UpdateStatus(ctx, id, status)
}

// AttachFeedback stores the user's description of what happened.
func (s *Service) AttachFeedback(ctx context.Context, id, feedback string) error {
	return s.repo.AttachFeedback(ctx, id, feedback)
}

// TrackAction records one user interaction in the session buffer.
func (s *Service) TrackAction(ctx context.Context, action domain.UserAction) error {
	if s.session == nil {
		return nil
	}
	if action.Timestamp.IsZero() {
		action.Timestamp = s.now()
	}
	if err := s.session.TrackAction(ctx, action); err != nil {
		return fmt.Errorf("failed to track action: %w", err)
	}
	metrics.UserActionsTracked.Inc()
	return nil
}

// TrackRecoveryAttempt records one recovery action in the session buffer.
func (s *Service) TrackRecoveryAttempt(
	ctx context.Context,
	t domain.RecoveryAttemptType,
	result domain.AttemptResult,
	details string,
	rr *domain.RetryResult,
) error {
	if s.session == nil {
		return nil
	}
	return s.session.TrackRecoveryAttempt(ctx, domain.RecoveryAttempt{
		Type:      t,
		Timestamp: s.now(),
		Result:    result,
		Details:   details,
		Retry:     rr,
	})
}

// ClearRecoveryAttempts empties the attempt buffer after an overall success.
func (s *Service) ClearRecoveryAttempts(ctx context.Context) error {
	if s.session == nil {
		return nil
	}
	return s.session.ClearRecoveryAttempts(ctx)
}

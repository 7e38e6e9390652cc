package worker

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/vietddude/rescue/internal/checkpoint"
	"github.com/vietddude/rescue/internal/infra/storage"
	"github.com/vietddude/rescue/internal/report"
)

// Janitor enforces retention policy in the background: expired checkpoints,
// resolved reports past their retention window, and spooled reports waiting
// for the durable store to come back.
type Janitor struct {
	cpCfg  checkpoint.Config
	repCfg report.Config

	checkpoints checkpoint.Manager
	reports     storage.ErrorReportRepository
	spool       *report.Spool
	log         *slog.Logger
	now         func() time.Time

	mu        sync.Mutex
	lastSweep time.Time
}

// JanitorOption configures a Janitor.
type JanitorOption func(*Janitor)

// WithJanitorLogger overrides the janitor's logger.
func WithJanitorLogger(log *slog.Logger) JanitorOption {
	return func(j *Janitor) { j.log = log }
}

// WithJanitorClock overrides the janitor's clock.
func WithJanitorClock(now func() time.Time) JanitorOption {
	return func(j *Janitor) { j.now = now }
}

// NewJanitor creates a janitor. spool may be nil when no local fallback
// sink is in use.
func NewJanitor(
	cpCfg checkpoint.Config,
	repCfg report.Config,
	checkpoints checkpoint.Manager,
	reports storage.ErrorReportRepository,
	spool *report.Spool,
	opts ...JanitorOption,
) *Janitor {
	j := &Janitor{
		cpCfg:       cpCfg,
		repCfg:      repCfg,
		checkpoints: checkpoints,
		reports:     reports,
		spool:       spool,
		log:         slog.Default(),
		now:         time.Now,
	}
	for _, opt := range opts {
		opt(j)
	}
	return j
}

// Start runs the sweep loop until the context is cancelled.
func (j *Janitor) Start(ctx context.Context) {
	interval := j.interval()
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	j.log.Info("janitor started", "interval", interval)
	j.Sweep(ctx)

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			j.Sweep(ctx)
		}
	}
}

// interval derives the sweep cadence: the configured cleanup interval when
// set, otherwise a tenth of the checkpoint retention clamped to [1m, 1h].
func (j *Janitor) interval() time.Duration {
	if j.cpCfg.CleanupInterval > 0 {
		return j.cpCfg.CleanupInterval
	}
	retention := j.cpCfg.Retention
	if retention <= 0 {
		retention = 24 * time.Hour
	}
	return max(min(retention/10, time.Hour), time.Minute)
}

// Sweep runs one retention pass. Failures are logged, never fatal; the
// next tick tries again.
func (j *Janitor) Sweep(ctx context.Context) {
	if n, err := j.checkpoints.CleanupExpired(ctx); err != nil {
		j.log.Error("checkpoint cleanup failed", "error", err)
	} else if n > 0 {
		j.log.Info("expired checkpoints removed", "count", n)
	}

	if j.repCfg.Retention > 0 {
		cutoff := j.now().Add(-j.repCfg.Retention)
		if n, err := j.reports.DeleteResolvedOlderThan(ctx, cutoff); err != nil {
			j.log.Error("report retention sweep failed", "error", err)
		} else if n > 0 {
			j.log.Info("resolved reports removed", "count", n)
		}
	}

	if j.spool != nil {
		if n, err := j.spool.Drain(ctx, j.reports); err != nil {
			j.log.Warn("spool drain interrupted", "delivered", n, "error", err)
		} else if n > 0 {
			j.log.Info("spooled reports delivered", "count", n)
		}
	}

	j.mu.Lock()
	j.lastSweep = j.now()
	j.mu.Unlock()
}

// LastSweep returns when the janitor last completed a pass, zero before
// the first one.
func (j *Janitor) LastSweep() time.Time {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.lastSweep
}

package recovery

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/vietddude/rescue/internal/checkpoint"
	"github.com/vietddude/rescue/internal/classify"
	"github.com/vietddude/rescue/internal/core/domain"
	"github.com/vietddude/rescue/internal/report"
)

// Reporter is the reporting surface the orchestrator drives. Satisfied by
// report.Service.
type Reporter interface {
	Report(ctx context.Context, cerr *domain.ClassifiedError, opts report.ReportOptions) (string, error)
	TrackRecoveryAttempt(
		ctx context.Context,
		t domain.RecoveryAttemptType,
		result domain.AttemptResult,
		details string,
		rr *domain.RetryResult,
	) error
	ClearRecoveryAttempts(ctx context.Context) error
	TrackAction(ctx context.Context, action domain.UserAction) error
}

// Options controls one orchestrated execution. Start from DefaultOptions;
// a nil *Options passed to ExecuteWithRecovery means exactly that.
type Options struct {
	// AutoRetry runs the operation under the retry executor. When false the
	// operation runs exactly once.
	AutoRetry bool

	// Report files an error report when the operation terminally fails.
	Report bool

	// Retry tunes the retry loop; zero value means DefaultConfig.
	Retry Config

	// CheckpointData, when set alongside a JobID, is saved as an initial
	// checkpoint before the first attempt.
	CheckpointData map[string]any
}

// DefaultOptions returns the standard execution options: retries and
// reporting on.
func DefaultOptions() *Options {
	return &Options{
		AutoRetry: true,
		Report:    true,
		Retry:     DefaultConfig,
	}
}

// RecoveryResult is the orchestrator's summary of one execution.
type RecoveryResult struct {
	Success                bool
	Data                   any
	Err                    *domain.ClassifiedError
	RestoredFromCheckpoint bool
	RetryAttempts          int
	ReportID               string
}

// RecommendedAction is the UI-facing hint for handling a failure.
type RecommendedAction string

const (
	ActionRetry   RecommendedAction = "retry"
	ActionRestore RecommendedAction = "restore"
	ActionReport  RecommendedAction = "report"
	ActionManual  RecommendedAction = "manual"
)

// Recommendation pairs a suggested action with its reason. Advisory only;
// nothing in the orchestrator acts on it.
type Recommendation struct {
	Action    RecommendedAction
	Rationale string
}

// Orchestrator is the single entry point application code calls: it runs
// operations under the retry policy, snapshots initial state, clears or
// records recovery attempts, and files reports for terminal failures.
type Orchestrator struct {
	executor     *Executor
	classifier   *classify.Classifier
	checkpoints  checkpoint.Manager
	reporter     Reporter
	registry     *Registry
	defaultRetry Config
	log          *slog.Logger
}

// OrchestratorOption configures an Orchestrator.
type OrchestratorOption func(*Orchestrator)

// WithOrchestratorLogger overrides the orchestrator's logger.
func WithOrchestratorLogger(log *slog.Logger) OrchestratorOption {
	return func(o *Orchestrator) { o.log = log }
}

// WithDefaultRetry sets the retry config applied to executions whose
// options carry none.
func WithDefaultRetry(cfg Config) OrchestratorOption {
	return func(o *Orchestrator) { o.defaultRetry = cfg }
}

// NewOrchestrator wires the recovery surface together. The checkpoint
// manager and reporter may be nil; the corresponding steps are skipped.
func NewOrchestrator(
	executor *Executor,
	classifier *classify.Classifier,
	checkpoints checkpoint.Manager,
	reporter Reporter,
	registry *Registry,
	opts ...OrchestratorOption,
) *Orchestrator {
	o := &Orchestrator{
		executor:     executor,
		classifier:   classifier,
		checkpoints:  checkpoints,
		reporter:     reporter,
		registry:     registry,
		defaultRetry: DefaultConfig,
		log:          slog.Default(),
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// ExecuteWithRecovery runs op with the full recovery treatment: optional
// initial checkpoint, retries with backoff and circuit breaking, recovery
// attempt tracking, and a report on terminal failure. It never returns nil.
func (o *Orchestrator) ExecuteWithRecovery(
	ctx context.Context,
	op Operation,
	opCtx OperationContext,
	opts *Options,
) *RecoveryResult {
	if opts == nil {
		opts = DefaultOptions()
		opts.Retry = o.defaultRetry
	} else if opts.Retry == (Config{}) {
		withRetry := *opts
		withRetry.Retry = o.defaultRetry
		opts = &withRetry
	}

	if opts.CheckpointData != nil && opCtx.JobID != "" && o.checkpoints != nil {
		cpType := opCtx.CheckpointType
		if cpType == "" {
			cpType = "initial"
		}
		_, err := o.checkpoints.Create(ctx, opCtx.JobID, cpType, opts.CheckpointData,
			domain.CheckpointMetadata{
				Description:   fmt.Sprintf("state before %s", opCtx.Name),
				CanResumeFrom: true,
			})
		if err != nil {
			o.log.Warn("Failed to create initial checkpoint",
				"operation", opCtx.Name,
				"job_id", opCtx.JobID,
				"error", err,
			)
		}
	}

	if !opts.AutoRetry {
		return o.executeOnce(ctx, op, opCtx, opts)
	}

	rr := o.executor.ExecuteWithRetry(ctx, op, opCtx, opts.Retry)
	if rr.Success {
		if o.reporter != nil {
			if err := o.reporter.ClearRecoveryAttempts(ctx); err != nil {
				o.log.Warn("Failed to clear recovery attempts", "error", err)
			}
		}
		return &RecoveryResult{
			Success:                true,
			Data:                   rr.Data,
			RestoredFromCheckpoint: rr.RestoredFromCheckpoint,
			RetryAttempts:          len(rr.Attempts),
		}
	}

	result := &RecoveryResult{
		Err:                    rr.Err,
		RestoredFromCheckpoint: rr.RestoredFromCheckpoint,
		RetryAttempts:          len(rr.Attempts),
	}
	if o.reporter != nil {
		details := fmt.Sprintf("%s failed after %d attempts", opCtx.Name, len(rr.Attempts))
		if err := o.reporter.TrackRecoveryAttempt(
			ctx, domain.RecoveryAttemptRetry, domain.AttemptResultFailure, details, rr,
		); err != nil {
			o.log.Warn("Failed to track recovery attempt", "error", err)
		}
		if opts.Report {
			result.ReportID = o.fileReport(ctx, rr.Err, opCtx)
		}
	}
	return result
}

// executeOnce is the no-retry path: one invocation, classification and an
// optional report on failure.
func (o *Orchestrator) executeOnce(
	ctx context.Context,
	op Operation,
	opCtx OperationContext,
	opts *Options,
) *RecoveryResult {
	data, err := op(ctx)
	if err == nil {
		return &RecoveryResult{Success: true, Data: data, RetryAttempts: 1}
	}

	cerr := o.classifier.Classify(err, domain.ErrorContext{
		Operation: opCtx.Name,
		JobID:     opCtx.JobID,
		SessionID: opCtx.SessionID,
		UserID:    opCtx.UserID,
	})
	result := &RecoveryResult{Err: cerr, RetryAttempts: 1}
	if opts.Report && o.reporter != nil {
		result.ReportID = o.fileReport(ctx, cerr, opCtx)
	}
	return result
}

// fileReport writes a terminal-failure report, attaching the job's
// checkpoint ids. Reporting failures are logged, never propagated; the
// operation outcome stands on its own.
func (o *Orchestrator) fileReport(
	ctx context.Context,
	cerr *domain.ClassifiedError,
	opCtx OperationContext,
) string {
	id, err := o.reporter.Report(ctx, cerr, report.ReportOptions{
		SessionID:   opCtx.SessionID,
		JobID:       opCtx.JobID,
		UserID:      opCtx.UserID,
		Checkpoints: o.checkpointIDs(ctx, opCtx.JobID),
	})
	if err != nil {
		o.log.Error("Failed to file error report",
			"operation", opCtx.Name,
			"report_id", id,
			"error", err,
		)
	}
	return id
}

// checkpointIDs lists the ids of a job's checkpoints, best-effort.
func (o *Orchestrator) checkpointIDs(ctx context.Context, jobID string) []string {
	if jobID == "" || o.checkpoints == nil {
		return nil
	}
	cps, err := o.checkpoints.ListByJob(ctx, jobID)
	if err != nil {
		o.log.Warn("Failed to list job checkpoints", "job_id", jobID, "error", err)
		return nil
	}
	ids := make([]string, 0, len(cps))
	for _, cp := range cps {
		ids = append(ids, cp.ID)
	}
	return ids
}

// ClassifyError exposes classification without running anything.
func (o *Orchestrator) ClassifyError(err error, pctx domain.ErrorContext) *domain.ClassifiedError {
	return o.classifier.Classify(err, pctx)
}

// ReportError files a report for an already-classified error.
func (o *Orchestrator) ReportError(
	ctx context.Context,
	cerr *domain.ClassifiedError,
	opts report.ReportOptions,
) (string, error) {
	if o.reporter == nil {
		return "", errors.New("no reporter configured")
	}
	return o.reporter.Report(ctx, cerr, opts)
}

// RestoreFromCheckpoint restores a job's latest resumable checkpoint and
// records the attempt in the session buffer.
func (o *Orchestrator) RestoreFromCheckpoint(
	ctx context.Context,
	jobID string,
) (*domain.RestoreResult, error) {
	if o.checkpoints == nil {
		return nil, errors.New("no checkpoint manager configured")
	}

	res, err := o.checkpoints.RestoreLatest(ctx, jobID)
	if err != nil {
		return nil, err
	}
	if o.reporter != nil {
		outcome := domain.AttemptResultFailure
		if res.Success {
			outcome = domain.AttemptResultSuccess
		}
		if terr := o.reporter.TrackRecoveryAttempt(
			ctx, domain.RecoveryAttemptCheckpointRestore, outcome, res.Message, nil,
		); terr != nil {
			o.log.Warn("Failed to track restore attempt", "job_id", jobID, "error", terr)
		}
	}
	return res, nil
}

// TrackUserAction records one user interaction for later report context.
func (o *Orchestrator) TrackUserAction(ctx context.Context, action domain.UserAction) error {
	if o.reporter == nil {
		return nil
	}
	return o.reporter.TrackAction(ctx, action)
}

// GetRetryStats snapshots every known circuit.
func (o *Orchestrator) GetRetryStats() map[string]domain.CircuitSnapshot {
	return o.registry.Snapshot()
}

// ResetCircuitBreakers closes every circuit and zeroes failure counts.
func (o *Orchestrator) ResetCircuitBreakers() {
	o.registry.Reset()
}

// IsRecoverable reports whether err classifies as recoverable.
func (o *Orchestrator) IsRecoverable(err error) bool {
	return o.classifier.Classify(err, domain.ErrorContext{}).Recoverable
}

// GetRecoveryRecommendation suggests how a user-facing layer should handle
// err. Purely advisory.
func (o *Orchestrator) GetRecoveryRecommendation(err error) Recommendation {
	cerr := o.classifier.Classify(err, domain.ErrorContext{})
	switch cerr.Strategy {
	case domain.StrategyAutoRetry, domain.StrategyFallbackMethod:
		return Recommendation{
			Action:    ActionRetry,
			Rationale: fmt.Sprintf("%s errors usually clear up on retry", cerr.Type),
		}
	case domain.StrategyCheckpointRestore:
		return Recommendation{
			Action:    ActionRestore,
			Rationale: "resuming from the last checkpoint avoids repeating completed work",
		}
	case domain.StrategyManualIntervention:
		return Recommendation{
			Action:    ActionManual,
			Rationale: fmt.Sprintf("%s errors need the input fixed before retrying", cerr.Type),
		}
	default:
		return Recommendation{
			Action:    ActionReport,
			Rationale: "this failure needs investigation before it can be retried",
		}
	}
}

// WithRecovery wraps op so the returned operation runs under orch with the
// given identity and options. Lets call sites opt in explicitly instead of
// being wrapped by a registry.
func WithRecovery(
	op Operation,
	opCtx OperationContext,
	opts *Options,
	orch *Orchestrator,
) Operation {
	return func(ctx context.Context) (any, error) {
		res := orch.ExecuteWithRecovery(ctx, op, opCtx, opts)
		if res.Success {
			return res.Data, nil
		}
		if res.Err != nil {
			return nil, res.Err
		}
		return nil, errors.New("operation failed")
	}
}

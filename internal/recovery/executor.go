// Package recovery executes operations with bounded retries, exponential
// backoff, per-operation circuit breaking, and checkpoint-based resume.
//
// # Purpose
//
// The executor wraps any asynchronous operation in a retry loop driven by
// error classification: each failure is typed, retryable failures wait out
// an exponential backoff (with per-type floors and ceilings), and a
// consistently failing operation trips its circuit breaker so further
// calls fail fast instead of piling on. On the first retry the executor
// attempts to resume from the job's latest checkpoint so completed work is
// not repeated.
//
// The orchestrator on top combines the executor with error reporting into
// the single entry point application code calls.
package recovery

import (
	"context"
	"fmt"
	"log/slog"
	"math/rand"
	"time"

	"github.com/google/uuid"

	"github.com/vietddude/rescue/internal/checkpoint"
	"github.com/vietddude/rescue/internal/classify"
	"github.com/vietddude/rescue/internal/core/domain"
	"github.com/vietddude/rescue/internal/metrics"
)

// Operation is any caller-supplied unit of work. The executor knows nothing
// about its semantics beyond success or failure.
type Operation func(ctx context.Context) (any, error)

// OperationContext identifies one logical operation for circuit breaking,
// checkpoint lookup, and reporting.
type OperationContext struct {
	Name           string
	JobID          string
	SessionID      string
	UserID         string
	CheckpointType string
}

// restoredDataKey carries checkpoint data restored on retry into the
// operation's context.
type restoredDataKey struct{}

// WithRestoredData attaches restored checkpoint data to a context.
func WithRestoredData(ctx context.Context, data map[string]any) context.Context {
	return context.WithValue(ctx, restoredDataKey{}, data)
}

// RestoredData returns checkpoint data placed in the context by a retry,
// or nil when the operation is running fresh.
func RestoredData(ctx context.Context) map[string]any {
	data, _ := ctx.Value(restoredDataKey{}).(map[string]any)
	return data
}

// Executor runs operations under the retry policy.
type Executor struct {
	registry    *Registry
	classifier  *classify.Classifier
	checkpoints checkpoint.Manager
	log         *slog.Logger
	rng         *rand.Rand
	sleep       func(ctx context.Context, d time.Duration) error
}

// ExecutorOption configures an Executor.
type ExecutorOption func(*Executor)

// WithLogger overrides the executor's logger.
func WithLogger(log *slog.Logger) ExecutorOption {
	return func(e *Executor) { e.log = log }
}

// WithSleep overrides the inter-attempt wait. Tests use this to observe
// computed delays without waiting them out.
func WithSleep(sleep func(ctx context.Context, d time.Duration) error) ExecutorOption {
	return func(e *Executor) { e.sleep = sleep }
}

// WithRand overrides the jitter source.
func WithRand(rng *rand.Rand) ExecutorOption {
	return func(e *Executor) { e.rng = rng }
}

// NewExecutor creates an executor. The checkpoint manager may be nil when
// checkpoint resume is not wanted.
func NewExecutor(
	registry *Registry,
	classifier *classify.Classifier,
	checkpoints checkpoint.Manager,
	opts ...ExecutorOption,
) *Executor {
	e := &Executor{
		registry:    registry,
		classifier:  classifier,
		checkpoints: checkpoints,
		log:         slog.Default(),
		rng:         rand.New(rand.NewSource(time.Now().UnixNano())),
		sleep:       sleepContext,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// sleepContext waits for d or until the context is done.
func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// ExecuteWithRetry runs op under the retry policy and returns the full
// attempt history. It never returns nil and never panics on operation
// errors; terminal failures come back as a structured result, not a raw
// error.
//
// At most cfg.MaxRetries+1 attempts run, strictly sequentially. On the
// second attempt only, when the operation context names a job and a
// checkpoint type, one best-effort restore of the job's latest resumable
// checkpoint is attempted and its data is handed to the operation via
// RestoredData.
func (e *Executor) ExecuteWithRetry(
	ctx context.Context,
	op Operation,
	opCtx OperationContext,
	cfg Config,
) *domain.RetryResult {
	cfg = cfg.withDefaults()

	result := &domain.RetryResult{
		Attempts: make([]domain.RetryAttempt, 0, cfg.MaxRetries+1),
	}
	start := time.Now()
	defer func() {
		result.TotalElapsed = time.Since(start)
	}()

	opName := opCtx.Name
	if opName == "" {
		opName = "operation"
	}

	for attempt := 1; attempt <= cfg.MaxRetries+1; attempt++ {
		allowed, state := e.registry.Allow(opName, cfg.BreakerReset)
		if !allowed {
			cerr := e.circuitOpenError(opName, opCtx, state, attempt)
			result.Err = cerr
			result.Attempts = append(result.Attempts, domain.RetryAttempt{
				Number:    attempt,
				Err:       cerr,
				Timestamp: time.Now(),
			})
			metrics.RetryAttempts.WithLabelValues(opName, "short_circuit").Inc()
			return result
		}

		if attempt == 2 && opCtx.JobID != "" && opCtx.CheckpointType != "" {
			ctx = e.tryRestore(ctx, opCtx, result)
		}

		attemptStart := time.Now()
		data, err := op(ctx)
		elapsed := time.Since(attemptStart)

		if err == nil {
			e.registry.RecordSuccess(opName)
			result.Success = true
			result.Data = data
			result.Err = nil
			result.Attempts = append(result.Attempts, domain.RetryAttempt{
				Number:    attempt,
				Timestamp: attemptStart,
				Success:   true,
				Elapsed:   elapsed,
			})
			metrics.RetryAttempts.WithLabelValues(opName, "success").Inc()
			return result
		}

		cerr := e.classifier.Classify(err, domain.ErrorContext{
			Operation:  opName,
			JobID:      opCtx.JobID,
			SessionID:  opCtx.SessionID,
			UserID:     opCtx.UserID,
			RetryCount: attempt - 1,
		})
		e.registry.RecordFailure(opName, cfg.BreakerThreshold)
		result.Err = cerr
		metrics.RetryAttempts.WithLabelValues(opName, "failure").Inc()

		if !cerr.Retryable || attempt == cfg.MaxRetries+1 {
			result.Attempts = append(result.Attempts, domain.RetryAttempt{
				Number:    attempt,
				Err:       cerr,
				Timestamp: attemptStart,
				Elapsed:   elapsed,
			})
			return result
		}

		delay := computeDelay(cfg, attempt, cerr, e.rng)
		result.Attempts = append(result.Attempts, domain.RetryAttempt{
			Number:    attempt,
			Err:       cerr,
			Delay:     delay,
			Timestamp: attemptStart,
			Elapsed:   elapsed,
		})
		metrics.RetryDelay.WithLabelValues(string(cerr.Type)).Observe(delay.Seconds())

		e.log.Debug("Retrying operation",
			"operation", opName,
			"attempt", attempt,
			"error_type", cerr.Type,
			"delay", delay,
		)

		if err := e.sleep(ctx, delay); err != nil {
			// The wait was cut short by cancellation or deadline; surface
			// it as a classified result like any other failure.
			result.Err = e.classifier.Classify(err, domain.ErrorContext{
				Operation:  opName,
				JobID:      opCtx.JobID,
				SessionID:  opCtx.SessionID,
				UserID:     opCtx.UserID,
				RetryCount: attempt,
			})
			return result
		}
	}

	return result
}

// tryRestore attempts one checkpoint restore for the job. Failures are
// logged and ignored: a missing or broken checkpoint never aborts the
// retry.
func (e *Executor) tryRestore(
	ctx context.Context,
	opCtx OperationContext,
	result *domain.RetryResult,
) context.Context {
	if e.checkpoints == nil {
		return ctx
	}

	res, err := e.checkpoints.RestoreLatest(ctx, opCtx.JobID)
	if err != nil {
		e.log.Warn("Checkpoint restore failed",
			"operation", opCtx.Name,
			"job_id", opCtx.JobID,
			"error", err,
		)
		return ctx
	}
	if !res.Success {
		e.log.Debug("No checkpoint to restore", "job_id", opCtx.JobID, "message", res.Message)
		return ctx
	}

	result.RestoredFromCheckpoint = true
	e.log.Info("Resuming from checkpoint",
		"operation", opCtx.Name,
		"job_id", opCtx.JobID,
		"checkpoint_id", res.Checkpoint.ID,
		"checkpoint_type", res.Checkpoint.Type,
	)
	return WithRestoredData(ctx, res.RestoredData)
}

// circuitOpenError builds the synthetic classified error returned when a
// circuit short-circuits a call. The operation is never invoked.
func (e *Executor) circuitOpenError(
	opName string,
	opCtx OperationContext,
	state domain.CircuitState,
	attempt int,
) *domain.ClassifiedError {
	return &domain.ClassifiedError{
		ID:       uuid.New().String(),
		Type:     domain.ErrorTypeUnknown,
		Severity: domain.SeverityHigh,
		Message:  fmt.Sprintf("circuit breaker open for %s", opName),
		UserMessage: "This operation is temporarily paused after repeated failures. " +
			"Please try again in a minute.",
		Strategy: domain.StrategyUserRetry,
		Context: domain.ErrorContext{
			Operation:  opName,
			JobID:      opCtx.JobID,
			SessionID:  opCtx.SessionID,
			UserID:     opCtx.UserID,
			Timestamp:  time.Now(),
			RetryCount: attempt - 1,
		},
		Recoverable: true,
		Retryable:   false,
		ActionableSteps: []string{
			"Wait for the cool-down window to pass",
			"Retry the operation afterwards",
		},
		Telemetry: map[string]any{"circuit_state": string(state)},
	}
}

package recovery

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/vietddude/rescue/internal/checkpoint"
	"github.com/vietddude/rescue/internal/classify"
	"github.com/vietddude/rescue/internal/core/domain"
	"github.com/vietddude/rescue/internal/infra/probe"
	"github.com/vietddude/rescue/internal/infra/storage/memory"
)

// sleepRecorder captures requested delays instead of waiting them out.
type sleepRecorder struct {
	delays []time.Duration
	err    error
}

func (s *sleepRecorder) sleep(ctx context.Context, d time.Duration) error {
	s.delays = append(s.delays, d)
	return s.err
}

// countingManager counts restores on top of a real manager.
type countingManager struct {
	checkpoint.Manager
	restores int
}

func (m *countingManager) RestoreLatest(ctx context.Context, jobID string) (*domain.RestoreResult, error) {
	m.restores++
	return m.Manager.RestoreLatest(ctx, jobID)
}

func newTestExecutor(cpMgr checkpoint.Manager) (*Executor, *Registry, *sleepRecorder) {
	reg := NewRegistry()
	sr := &sleepRecorder{}
	cls := classify.New(probe.NewStaticProbe())
	exec := NewExecutor(reg, cls, cpMgr, WithSleep(sr.sleep))
	return exec, reg, sr
}

// noBreakerConfig keeps the circuit out of the way for tests that exercise
// only the retry loop.
func noBreakerConfig(maxRetries int) Config {
	return Config{
		MaxRetries:       maxRetries,
		InitialDelay:     100 * time.Millisecond,
		MaxDelay:         30 * time.Second,
		BackoffFactor:    2.0,
		Jitter:           false,
		BreakerThreshold: 100,
		BreakerReset:     time.Minute,
	}
}

func TestExecutor_SucceedsFirstTry(t *testing.T) {
	exec, _, sr := newTestExecutor(nil)

	invocations := 0
	op := func(ctx context.Context) (any, error) {
		invocations++
		return "done", nil
	}

	res := exec.ExecuteWithRetry(context.Background(), op,
		OperationContext{Name: "upload"}, noBreakerConfig(3))

	if !res.Success {
		t.Fatalf("expected success, got %v", res.Err)
	}
	if res.Data != "done" {
		t.Errorf("expected operation data, got %v", res.Data)
	}
	if invocations != 1 {
		t.Errorf("expected 1 invocation, got %d", invocations)
	}
	if len(res.Attempts) != 1 || !res.Attempts[0].Success {
		t.Errorf("expected one successful attempt, got %+v", res.Attempts)
	}
	if len(sr.delays) != 0 {
		t.Errorf("expected no sleeps, got %v", sr.delays)
	}
}

func TestExecutor_AttemptBudget(t *testing.T) {
	exec, _, _ := newTestExecutor(nil)

	invocations := 0
	op := func(ctx context.Context) (any, error) {
		invocations++
		return nil, errors.New("network connection lost")
	}

	res := exec.ExecuteWithRetry(context.Background(), op,
		OperationContext{Name: "fetch"}, noBreakerConfig(2))

	if res.Success {
		t.Fatal("expected failure")
	}
	if invocations != 3 {
		t.Errorf("expected maxRetries+1 = 3 invocations, got %d", invocations)
	}
	if len(res.Attempts) != 3 {
		t.Errorf("expected 3 recorded attempts, got %d", len(res.Attempts))
	}
	if res.Err == nil || res.Err.Type != domain.ErrorTypeNetwork {
		t.Errorf("expected terminal network error, got %+v", res.Err)
	}
}

func TestExecutor_BackoffScenario(t *testing.T) {
	// Two transient network failures, then success: delays double from the
	// initial 100ms and the successful attempt carries no delay.
	exec, _, sr := newTestExecutor(nil)

	invocations := 0
	op := func(ctx context.Context) (any, error) {
		invocations++
		if invocations < 3 {
			return nil, errors.New("network connection lost")
		}
		return "ok", nil
	}

	res := exec.ExecuteWithRetry(context.Background(), op,
		OperationContext{Name: "fetch"}, noBreakerConfig(3))

	if !res.Success {
		t.Fatalf("expected eventual success, got %v", res.Err)
	}
	if len(res.Attempts) != 3 {
		t.Fatalf("expected 3 attempts, got %d", len(res.Attempts))
	}

	wantDelays := []time.Duration{100 * time.Millisecond, 200 * time.Millisecond}
	if len(sr.delays) != len(wantDelays) {
		t.Fatalf("expected %d sleeps, got %v", len(wantDelays), sr.delays)
	}
	for i, want := range wantDelays {
		if sr.delays[i] != want {
			t.Errorf("sleep %d: expected %v, got %v", i, want, sr.delays[i])
		}
		if res.Attempts[i].Delay != want {
			t.Errorf("attempt %d: expected recorded delay %v, got %v",
				i+1, want, res.Attempts[i].Delay)
		}
	}
	if res.Attempts[2].Delay != 0 {
		t.Errorf("successful attempt should carry no delay, got %v", res.Attempts[2].Delay)
	}
}

func TestExecutor_RateLimitExhaustion(t *testing.T) {
	exec, _, sr := newTestExecutor(nil)

	invocations := 0
	op := func(ctx context.Context) (any, error) {
		invocations++
		return nil, &domain.StatusError{Code: 429, Message: "too many requests"}
	}

	res := exec.ExecuteWithRetry(context.Background(), op,
		OperationContext{Name: "generate"}, noBreakerConfig(2))

	if res.Success {
		t.Fatal("expected exhaustion")
	}
	if invocations != 3 {
		t.Errorf("expected 3 invocations, got %d", invocations)
	}
	if res.Err.Type != domain.ErrorTypeRateLimit {
		t.Errorf("expected api_rate_limit, got %s", res.Err.Type)
	}
	for i, d := range sr.delays {
		if d < 30*time.Second {
			t.Errorf("sleep %d: rate limit delay %v below the 30s floor", i, d)
		}
	}
}

func TestExecutor_NonRetryableStopsImmediately(t *testing.T) {
	exec, _, sr := newTestExecutor(nil)

	invocations := 0
	op := func(ctx context.Context) (any, error) {
		invocations++
		return nil, errors.New("invalid input: missing required field email")
	}

	res := exec.ExecuteWithRetry(context.Background(), op,
		OperationContext{Name: "validate"}, noBreakerConfig(3))

	if res.Success {
		t.Fatal("expected failure")
	}
	if invocations != 1 {
		t.Errorf("expected a single invocation for a non-retryable error, got %d", invocations)
	}
	if res.Err.Type != domain.ErrorTypeValidation {
		t.Errorf("expected validation error, got %s", res.Err.Type)
	}
	if len(sr.delays) != 0 {
		t.Errorf("expected no backoff for a non-retryable error, got %v", sr.delays)
	}
}

func TestExecutor_RestoresOnSecondAttempt(t *testing.T) {
	store := memory.NewMemoryStorage()
	mgr := &countingManager{
		Manager: checkpoint.NewManager(memory.NewCheckpointRepo(store), checkpoint.Config{}),
	}
	exec, _, _ := newTestExecutor(mgr)
	ctx := context.Background()

	_, err := mgr.Create(ctx, "job-1", "render", map[string]any{"progress": 50},
		domain.CheckpointMetadata{CanResumeFrom: true})
	if err != nil {
		t.Fatalf("checkpoint setup failed: %v", err)
	}

	var sawRestored []bool
	invocations := 0
	op := func(ctx context.Context) (any, error) {
		invocations++
		sawRestored = append(sawRestored, RestoredData(ctx) != nil)
		if invocations < 3 {
			return nil, errors.New("network connection lost")
		}
		if got := RestoredData(ctx)["progress"]; got != 50 {
			t.Errorf("expected restored progress 50, got %v", got)
		}
		return "ok", nil
	}

	res := exec.ExecuteWithRetry(ctx, op,
		OperationContext{Name: "render", JobID: "job-1", CheckpointType: "render"},
		noBreakerConfig(3))

	if !res.Success {
		t.Fatalf("expected success, got %v", res.Err)
	}
	if !res.RestoredFromCheckpoint {
		t.Error("expected RestoredFromCheckpoint to be set")
	}
	if mgr.restores != 1 {
		t.Errorf("expected exactly one restore, got %d", mgr.restores)
	}
	// Fresh on attempt 1; restored data visible from attempt 2 onward.
	want := []bool{false, true, true}
	for i := range want {
		if sawRestored[i] != want[i] {
			t.Errorf("attempt %d: restored data present=%v, want %v", i+1, sawRestored[i], want[i])
		}
	}
}

func TestExecutor_NoRestoreWithoutCheckpointType(t *testing.T) {
	store := memory.NewMemoryStorage()
	mgr := &countingManager{
		Manager: checkpoint.NewManager(memory.NewCheckpointRepo(store), checkpoint.Config{}),
	}
	exec, _, _ := newTestExecutor(mgr)
	ctx := context.Background()

	_, _ = mgr.Create(ctx, "job-1", "render", map[string]any{"progress": 50},
		domain.CheckpointMetadata{CanResumeFrom: true})

	invocations := 0
	op := func(ctx context.Context) (any, error) {
		invocations++
		if invocations < 2 {
			return nil, errors.New("network connection lost")
		}
		return "ok", nil
	}

	res := exec.ExecuteWithRetry(ctx, op,
		OperationContext{Name: "render", JobID: "job-1"}, noBreakerConfig(3))

	if !res.Success {
		t.Fatalf("expected success, got %v", res.Err)
	}
	if res.RestoredFromCheckpoint {
		t.Error("expected no restore without a checkpoint type")
	}
	if mgr.restores != 0 {
		t.Errorf("expected no restore calls, got %d", mgr.restores)
	}
}

func TestExecutor_RestoreMissReportsFailure(t *testing.T) {
	store := memory.NewMemoryStorage()
	mgr := &countingManager{
		Manager: checkpoint.NewManager(memory.NewCheckpointRepo(store), checkpoint.Config{}),
	}
	exec, _, _ := newTestExecutor(mgr)

	invocations := 0
	op := func(ctx context.Context) (any, error) {
		invocations++
		if invocations < 2 {
			return nil, errors.New("network connection lost")
		}
		if RestoredData(ctx) != nil {
			t.Error("expected no restored data for a job without checkpoints")
		}
		return "ok", nil
	}

	res := exec.ExecuteWithRetry(context.Background(), op,
		OperationContext{Name: "render", JobID: "job-none", CheckpointType: "render"},
		noBreakerConfig(3))

	if !res.Success {
		t.Fatalf("expected success, got %v", res.Err)
	}
	if res.RestoredFromCheckpoint {
		t.Error("a restore miss must not mark the result as restored")
	}
	if mgr.restores != 1 {
		t.Errorf("expected one restore lookup, got %d", mgr.restores)
	}
}

func TestExecutor_CircuitOpenShortCircuits(t *testing.T) {
	exec, reg, sr := newTestExecutor(nil)

	for i := 0; i < 5; i++ {
		reg.RecordFailure("flaky", 5)
	}

	invocations := 0
	op := func(ctx context.Context) (any, error) {
		invocations++
		return "ok", nil
	}

	cfg := noBreakerConfig(3)
	cfg.BreakerThreshold = 5
	res := exec.ExecuteWithRetry(context.Background(), op,
		OperationContext{Name: "flaky"}, cfg)

	if res.Success {
		t.Fatal("expected short-circuit failure")
	}
	if invocations != 0 {
		t.Errorf("expected the operation to never run, got %d invocations", invocations)
	}
	if !strings.Contains(res.Err.Message, "circuit breaker open for flaky") {
		t.Errorf("unexpected message: %s", res.Err.Message)
	}
	if res.Err.Retryable {
		t.Error("short-circuit errors must not be retryable")
	}
	if len(res.Attempts) != 1 || res.Attempts[0].Delay != 0 {
		t.Errorf("expected one zero-delay attempt, got %+v", res.Attempts)
	}
	if len(sr.delays) != 0 {
		t.Errorf("expected no sleeps, got %v", sr.delays)
	}
}

func TestExecutor_BreakerTripsMidRun(t *testing.T) {
	exec, reg, _ := newTestExecutor(nil)

	invocations := 0
	op := func(ctx context.Context) (any, error) {
		invocations++
		return nil, errors.New("network connection lost")
	}

	cfg := noBreakerConfig(5)
	cfg.BreakerThreshold = 3
	cfg.BreakerReset = time.Hour

	res := exec.ExecuteWithRetry(context.Background(), op,
		OperationContext{Name: "fetch"}, cfg)

	if res.Success {
		t.Fatal("expected failure")
	}
	// Three real failures trip the breaker; the fourth attempt is refused.
	if invocations != 3 {
		t.Errorf("expected 3 invocations before the trip, got %d", invocations)
	}
	if snap := reg.Snapshot()["fetch"]; snap.State != domain.CircuitOpen {
		t.Errorf("expected open circuit, got %s", snap.State)
	}
	last := res.Attempts[len(res.Attempts)-1]
	if last.Err == nil || !strings.Contains(last.Err.Message, "circuit breaker open") {
		t.Errorf("expected a short-circuit final attempt, got %+v", last)
	}
}

func TestExecutor_SuccessClosesCircuit(t *testing.T) {
	exec, reg, _ := newTestExecutor(nil)

	invocations := 0
	op := func(ctx context.Context) (any, error) {
		invocations++
		if invocations < 3 {
			return nil, errors.New("network connection lost")
		}
		return "ok", nil
	}

	res := exec.ExecuteWithRetry(context.Background(), op,
		OperationContext{Name: "fetch"}, noBreakerConfig(3))
	if !res.Success {
		t.Fatalf("expected success, got %v", res.Err)
	}

	snap := reg.Snapshot()["fetch"]
	if snap.State != domain.CircuitClosed || snap.Failures != 0 {
		t.Errorf("expected closed/0 after success, got %s/%d", snap.State, snap.Failures)
	}
}

func TestExecutor_CancelledDuringBackoff(t *testing.T) {
	exec, _, sr := newTestExecutor(nil)
	sr.err = context.Canceled

	invocations := 0
	op := func(ctx context.Context) (any, error) {
		invocations++
		return nil, errors.New("network connection lost")
	}

	res := exec.ExecuteWithRetry(context.Background(), op,
		OperationContext{Name: "fetch"}, noBreakerConfig(3))

	if res.Success {
		t.Fatal("expected failure after cancellation")
	}
	if invocations != 1 {
		t.Errorf("expected the loop to stop after the interrupted sleep, got %d invocations",
			invocations)
	}
	if res.Err == nil || res.Err.Type != domain.ErrorTypeUnknown {
		t.Errorf("expected the cancellation to be classified, got %+v", res.Err)
	}
}

func TestExecutor_ZeroConfigUsesDefaults(t *testing.T) {
	exec, _, sr := newTestExecutor(nil)

	invocations := 0
	op := func(ctx context.Context) (any, error) {
		invocations++
		return nil, errors.New("network connection lost")
	}

	res := exec.ExecuteWithRetry(context.Background(), op,
		OperationContext{Name: "fetch"}, Config{})

	if res.Success {
		t.Fatal("expected failure")
	}
	if invocations != DefaultConfig.MaxRetries+1 {
		t.Errorf("expected %d invocations under defaults, got %d",
			DefaultConfig.MaxRetries+1, invocations)
	}
	for i, d := range sr.delays {
		if d <= 0 {
			t.Errorf("sleep %d: expected a positive jittered delay, got %v", i, d)
		}
	}
}

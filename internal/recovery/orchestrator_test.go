package recovery

import (
	"context"
	"errors"
	"testing"

	"github.com/vietddude/rescue/internal/checkpoint"
	"github.com/vietddude/rescue/internal/classify"
	"github.com/vietddude/rescue/internal/core/domain"
	"github.com/vietddude/rescue/internal/infra/probe"
	"github.com/vietddude/rescue/internal/infra/storage/memory"
	"github.com/vietddude/rescue/internal/report"
)

type orchFixture struct {
	orch    *Orchestrator
	repo    *memory.ReportRepo
	session *report.MemorySession
	cps     checkpoint.Manager
	reg     *Registry
	sleeps  *sleepRecorder
}

func newTestOrchestrator(t *testing.T) *orchFixture {
	t.Helper()

	store := memory.NewMemoryStorage()
	repo := memory.NewReportRepo(store)
	cpMgr := checkpoint.NewManager(memory.NewCheckpointRepo(store), checkpoint.Config{})
	session := report.NewMemorySession(50, 10)
	p := probe.NewStaticProbe()
	svc := report.NewService(repo, p, session,
		report.WithSpool(report.NewSpool(t.TempDir())))

	reg := NewRegistry()
	sr := &sleepRecorder{}
	cls := classify.New(p)
	exec := NewExecutor(reg, cls, cpMgr, WithSleep(sr.sleep))

	return &orchFixture{
		orch:    NewOrchestrator(exec, cls, cpMgr, svc, reg),
		repo:    repo,
		session: session,
		cps:     cpMgr,
		reg:     reg,
		sleeps:  sr,
	}
}

func (f *orchFixture) options() *Options {
	opts := DefaultOptions()
	opts.Retry = noBreakerConfig(2)
	return opts
}

func TestOrchestrator_SuccessClearsRecoveryAttempts(t *testing.T) {
	f := newTestOrchestrator(t)
	ctx := context.Background()

	// Leftover attempt from an earlier failure in the same session.
	_ = f.session.TrackRecoveryAttempt(ctx, domain.RecoveryAttempt{
		Type:   domain.RecoveryAttemptRetry,
		Result: domain.AttemptResultFailure,
	})

	op := func(ctx context.Context) (any, error) { return 42, nil }
	res := f.orch.ExecuteWithRecovery(ctx, op, OperationContext{Name: "upload"}, f.options())

	if !res.Success {
		t.Fatalf("expected success, got %v", res.Err)
	}
	if res.Data != 42 {
		t.Errorf("expected data 42, got %v", res.Data)
	}
	if res.ReportID != "" {
		t.Errorf("expected no report on success, got %s", res.ReportID)
	}

	attempts, _ := f.session.RecoveryAttempts(ctx)
	if len(attempts) != 0 {
		t.Errorf("expected cleared attempt buffer, got %d entries", len(attempts))
	}
}

func TestOrchestrator_FailureFilesReport(t *testing.T) {
	f := newTestOrchestrator(t)
	ctx := context.Background()

	op := func(ctx context.Context) (any, error) {
		return nil, errors.New("network connection lost")
	}
	res := f.orch.ExecuteWithRecovery(ctx, op, OperationContext{
		Name:      "fetch",
		JobID:     "job-1",
		SessionID: "sess-1",
		UserID:    "user-1",
	}, f.options())

	if res.Success {
		t.Fatal("expected failure")
	}
	if res.RetryAttempts != 3 {
		t.Errorf("expected 3 attempts, got %d", res.RetryAttempts)
	}
	if res.ReportID == "" {
		t.Fatal("expected a report id")
	}

	stored, err := f.repo.Get(ctx, res.ReportID)
	if err != nil {
		t.Fatalf("report not persisted: %v", err)
	}
	if stored.UserID != "user-1" {
		t.Errorf("expected report owner user-1, got %s", stored.UserID)
	}
	if stored.Error.Type != domain.ErrorTypeNetwork {
		t.Errorf("expected network error in report, got %s", stored.Error.Type)
	}
	if stored.Context.SessionID != "sess-1" || stored.Context.JobID != "job-1" {
		t.Errorf("report context incomplete: %+v", stored.Context)
	}
	if len(stored.RecoveryAttempts) == 0 {
		t.Fatal("expected the failed retry run in the report")
	}
	last := stored.RecoveryAttempts[len(stored.RecoveryAttempts)-1]
	if last.Type != domain.RecoveryAttemptRetry || last.Result != domain.AttemptResultFailure {
		t.Errorf("unexpected recovery attempt: %+v", last)
	}
	if last.Retry == nil || len(last.Retry.Attempts) != 3 {
		t.Errorf("expected full retry history attached, got %+v", last.Retry)
	}
}

func TestOrchestrator_InitialCheckpoint(t *testing.T) {
	f := newTestOrchestrator(t)
	ctx := context.Background()

	opts := f.options()
	opts.CheckpointData = map[string]any{"stage": "start"}

	op := func(ctx context.Context) (any, error) {
		return nil, errors.New("invalid input")
	}
	res := f.orch.ExecuteWithRecovery(ctx, op, OperationContext{
		Name:   "render",
		JobID:  "job-1",
		UserID: "user-1",
	}, opts)

	cps, err := f.cps.ListByJob(ctx, "job-1")
	if err != nil {
		t.Fatalf("ListByJob failed: %v", err)
	}
	if len(cps) != 1 {
		t.Fatalf("expected the initial checkpoint, got %d", len(cps))
	}
	if cps[0].Type != "initial" {
		t.Errorf("expected type initial, got %s", cps[0].Type)
	}
	if !cps[0].Metadata.CanResumeFrom {
		t.Error("initial checkpoint should be resumable")
	}

	// The report references the job's checkpoints by id.
	stored, err := f.repo.Get(ctx, res.ReportID)
	if err != nil {
		t.Fatalf("report not persisted: %v", err)
	}
	if len(stored.Context.Checkpoints) != 1 || stored.Context.Checkpoints[0] != cps[0].ID {
		t.Errorf("expected checkpoint id %s in report, got %v",
			cps[0].ID, stored.Context.Checkpoints)
	}
}

func TestOrchestrator_NoAutoRetry(t *testing.T) {
	f := newTestOrchestrator(t)
	ctx := context.Background()

	opts := f.options()
	opts.AutoRetry = false
	opts.Report = false

	invocations := 0
	op := func(ctx context.Context) (any, error) {
		invocations++
		return nil, errors.New("network connection lost")
	}
	res := f.orch.ExecuteWithRecovery(ctx, op, OperationContext{Name: "fetch"}, opts)

	if res.Success {
		t.Fatal("expected failure")
	}
	if invocations != 1 {
		t.Errorf("expected a single invocation, got %d", invocations)
	}
	if res.Err == nil || res.Err.Type != domain.ErrorTypeNetwork {
		t.Errorf("expected classified network error, got %+v", res.Err)
	}
	if res.ReportID != "" {
		t.Errorf("expected no report, got %s", res.ReportID)
	}
	if reports, _ := f.repo.ListRecent(ctx, 10); len(reports) != 0 {
		t.Errorf("expected empty report store, got %d", len(reports))
	}
}

func TestOrchestrator_ReportOptOut(t *testing.T) {
	f := newTestOrchestrator(t)
	ctx := context.Background()

	opts := f.options()
	opts.Report = false

	op := func(ctx context.Context) (any, error) {
		return nil, errors.New("invalid input")
	}
	res := f.orch.ExecuteWithRecovery(ctx, op, OperationContext{
		Name:   "validate",
		UserID: "user-1",
	}, opts)

	if res.Success {
		t.Fatal("expected failure")
	}
	if res.ReportID != "" {
		t.Errorf("expected no report id, got %s", res.ReportID)
	}
	if reports, _ := f.repo.ListRecent(ctx, 10); len(reports) != 0 {
		t.Errorf("expected empty report store, got %d", len(reports))
	}

	// The failed run is still tracked for a later report.
	attempts, _ := f.session.RecoveryAttempts(ctx)
	if len(attempts) != 1 {
		t.Errorf("expected the attempt to be tracked, got %d", len(attempts))
	}
}

func TestOrchestrator_NilOptionsMeanDefaults(t *testing.T) {
	f := newTestOrchestrator(t)

	invocations := 0
	op := func(ctx context.Context) (any, error) {
		invocations++
		return nil, errors.New("network connection lost")
	}
	res := f.orch.ExecuteWithRecovery(context.Background(), op,
		OperationContext{Name: "fetch"}, nil)

	if res.Success {
		t.Fatal("expected failure")
	}
	if invocations != DefaultConfig.MaxRetries+1 {
		t.Errorf("expected %d invocations under defaults, got %d",
			DefaultConfig.MaxRetries+1, invocations)
	}
	// Anonymous failure: reported to the spool, id still minted.
	if res.ReportID == "" {
		t.Error("expected a report id even without a user")
	}
}

func TestOrchestrator_ConfiguredDefaultRetry(t *testing.T) {
	f := newTestOrchestrator(t)
	orch := NewOrchestrator(f.orch.executor, f.orch.classifier, f.cps, f.orch.reporter, f.reg,
		WithDefaultRetry(noBreakerConfig(1)))

	invocations := 0
	op := func(ctx context.Context) (any, error) {
		invocations++
		return nil, errors.New("network connection lost")
	}

	// Nil options pick up the orchestrator-wide retry config.
	res := orch.ExecuteWithRecovery(context.Background(), op,
		OperationContext{Name: "fetch"}, nil)
	if res.Success {
		t.Fatal("expected failure")
	}
	if invocations != 2 {
		t.Errorf("expected 2 invocations under the configured default, got %d", invocations)
	}

	// So do options that leave Retry at its zero value.
	invocations = 0
	caller := &Options{AutoRetry: true}
	orch.ExecuteWithRecovery(context.Background(), op, OperationContext{Name: "fetch"}, caller)
	if invocations != 2 {
		t.Errorf("expected 2 invocations for zero-value Retry, got %d", invocations)
	}
	if caller.Retry != (Config{}) {
		t.Error("expected the caller's options to stay untouched")
	}
}

func TestOrchestrator_RestoreFromCheckpoint(t *testing.T) {
	f := newTestOrchestrator(t)
	ctx := context.Background()

	_, err := f.cps.Create(ctx, "job-1", "render", map[string]any{"progress": 80},
		domain.CheckpointMetadata{CanResumeFrom: true})
	if err != nil {
		t.Fatalf("checkpoint setup failed: %v", err)
	}

	res, err := f.orch.RestoreFromCheckpoint(ctx, "job-1")
	if err != nil {
		t.Fatalf("RestoreFromCheckpoint failed: %v", err)
	}
	if !res.Success {
		t.Fatalf("expected restore success, got %q", res.Message)
	}
	if res.RestoredData["progress"] != 80 {
		t.Errorf("expected restored progress 80, got %v", res.RestoredData["progress"])
	}

	attempts, _ := f.session.RecoveryAttempts(ctx)
	if len(attempts) != 1 {
		t.Fatalf("expected one tracked attempt, got %d", len(attempts))
	}
	if attempts[0].Type != domain.RecoveryAttemptCheckpointRestore ||
		attempts[0].Result != domain.AttemptResultSuccess {
		t.Errorf("unexpected attempt: %+v", attempts[0])
	}

	// A miss is tracked as a failed attempt.
	res, err = f.orch.RestoreFromCheckpoint(ctx, "job-none")
	if err != nil {
		t.Fatalf("RestoreFromCheckpoint failed: %v", err)
	}
	if res.Success {
		t.Error("expected restore miss")
	}
	attempts, _ = f.session.RecoveryAttempts(ctx)
	if len(attempts) != 2 || attempts[1].Result != domain.AttemptResultFailure {
		t.Errorf("expected a tracked failed attempt, got %+v", attempts)
	}
}

func TestOrchestrator_TrackUserAction(t *testing.T) {
	f := newTestOrchestrator(t)
	ctx := context.Background()

	_ = f.orch.TrackUserAction(ctx, domain.UserAction{Type: "click", Target: "generate-button"})
	_ = f.orch.TrackUserAction(ctx, domain.UserAction{Type: "upload", Target: "cv.pdf"})

	op := func(ctx context.Context) (any, error) {
		return nil, errors.New("invalid input")
	}
	res := f.orch.ExecuteWithRecovery(ctx, op, OperationContext{
		Name:   "validate",
		UserID: "user-1",
	}, f.options())

	stored, err := f.repo.Get(ctx, res.ReportID)
	if err != nil {
		t.Fatalf("report not persisted: %v", err)
	}
	if len(stored.Context.UserActions) != 2 {
		t.Fatalf("expected 2 user actions in report, got %d", len(stored.Context.UserActions))
	}
	if stored.Context.UserActions[0].Type != "click" ||
		stored.Context.UserActions[1].Target != "cv.pdf" {
		t.Errorf("unexpected actions: %+v", stored.Context.UserActions)
	}
}

func TestOrchestrator_RecoveryRecommendation(t *testing.T) {
	f := newTestOrchestrator(t)

	tests := []struct {
		name string
		err  error
		want RecommendedAction
	}{
		{"network retries", errors.New("network connection lost"), ActionRetry},
		{"storage retries via fallback", errors.New("bucket not accessible"), ActionRetry},
		{"processing restores", errors.New("generation failed midway"), ActionRestore},
		{"validation is manual", errors.New("invalid input"), ActionManual},
		{"auth is manual", &domain.StatusError{Code: 401}, ActionManual},
		{"quota reports", errors.New("quota exceeded for plan"), ActionReport},
		{"unknown reports", errors.New("something odd happened"), ActionReport},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := f.orch.GetRecoveryRecommendation(tt.err)
			if rec.Action != tt.want {
				t.Errorf("expected action %s, got %s", tt.want, rec.Action)
			}
			if rec.Rationale == "" {
				t.Error("expected a rationale")
			}
		})
	}
}

func TestOrchestrator_IsRecoverable(t *testing.T) {
	f := newTestOrchestrator(t)

	if !f.orch.IsRecoverable(errors.New("network connection lost")) {
		t.Error("network errors are recoverable")
	}
	if f.orch.IsRecoverable(errors.New("quota exceeded for plan")) {
		t.Error("quota errors are not recoverable")
	}
}

func TestOrchestrator_RetryStatsAndReset(t *testing.T) {
	f := newTestOrchestrator(t)

	op := func(ctx context.Context) (any, error) {
		return nil, errors.New("network connection lost")
	}
	opts := f.options()
	opts.Report = false
	_ = f.orch.ExecuteWithRecovery(context.Background(), op,
		OperationContext{Name: "fetch"}, opts)

	stats := f.orch.GetRetryStats()
	if stats["fetch"].Failures == 0 {
		t.Error("expected recorded failures for fetch")
	}

	f.orch.ResetCircuitBreakers()
	stats = f.orch.GetRetryStats()
	if stats["fetch"].Failures != 0 || stats["fetch"].State != domain.CircuitClosed {
		t.Errorf("expected reset circuit, got %+v", stats["fetch"])
	}
}

func TestWithRecovery(t *testing.T) {
	f := newTestOrchestrator(t)

	calls := 0
	wrapped := WithRecovery(func(ctx context.Context) (any, error) {
		calls++
		if calls == 1 {
			return nil, errors.New("network connection lost")
		}
		return "ok", nil
	}, OperationContext{Name: "fetch"}, f.options(), f.orch)

	data, err := wrapped(context.Background())
	if err != nil {
		t.Fatalf("expected wrapped success, got %v", err)
	}
	if data != "ok" {
		t.Errorf("expected data ok, got %v", data)
	}
	if calls != 2 {
		t.Errorf("expected retry inside the wrapper, got %d calls", calls)
	}

	failing := WithRecovery(func(ctx context.Context) (any, error) {
		return nil, errors.New("invalid input")
	}, OperationContext{Name: "validate"}, f.options(), f.orch)

	_, err = failing(context.Background())
	var cerr *domain.ClassifiedError
	if !errors.As(err, &cerr) {
		t.Fatalf("expected a classified error, got %T", err)
	}
	if cerr.Type != domain.ErrorTypeValidation {
		t.Errorf("expected validation error, got %s", cerr.Type)
	}
}

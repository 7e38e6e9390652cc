package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/joho/godotenv"

	"github.com/vietddude/rescue/internal/checkpoint"
	"github.com/vietddude/rescue/internal/classify"
	"github.com/vietddude/rescue/internal/core/domain"
	"github.com/vietddude/rescue/internal/infra/probe"
	"github.com/vietddude/rescue/internal/infra/storage/memory"
	"github.com/vietddude/rescue/internal/recovery"
	"github.com/vietddude/rescue/internal/report"
)

func main() {
	err := godotenv.Load()
	if err != nil {
		log.Println("No .env file found")
	}

	ctx := context.Background()

	// 1. Build the in-memory recovery stack
	store := memory.NewMemoryStorage()
	envProbe := probe.NewStaticProbe()
	classifier := classify.New(envProbe)
	registry := recovery.NewRegistry()
	checkpoints := checkpoint.NewManager(memory.NewCheckpointRepo(store), checkpoint.Config{})

	// 2. Reporting with a session buffer for user actions
	session := report.NewMemorySession(0, 0)
	reporter := report.NewService(memory.NewReportRepo(store), envProbe, session)

	// 3. Executor + orchestrator
	executor := recovery.NewExecutor(registry, classifier, checkpoints)
	orch := recovery.NewOrchestrator(executor, classifier, checkpoints, reporter, registry)

	// 4. Record what the user was doing, for report context
	_ = orch.TrackUserAction(ctx, domain.UserAction{
		Type:      "click",
		Target:    "upload-button",
		Timestamp: time.Now(),
	})

	fmt.Println("=== Flaky upload with checkpoint resume ===")

	// 5. An upload that fails twice on the network, then succeeds from
	// the restored checkpoint
	calls := 0
	upload := func(ctx context.Context) (any, error) {
		calls++
		if restored := recovery.RestoredData(ctx); restored != nil {
			fmt.Printf("🔄 Attempt %d resuming from chunk %v of %v\n",
				calls, restored["chunk"], restored["total"])
		}
		if calls <= 2 {
			return nil, errors.New("connection refused by storage gateway")
		}
		return "uploaded 10/10 chunks", nil
	}

	opts := recovery.DefaultOptions()
	opts.Retry = recovery.Config{
		MaxRetries:    3,
		InitialDelay:  200 * time.Millisecond,
		MaxDelay:      2 * time.Second,
		BackoffFactor: 2.0,
	}
	opts.CheckpointData = map[string]any{"chunk": 4, "total": 10}

	res := orch.ExecuteWithRecovery(ctx, upload, recovery.OperationContext{
		Name:           "upload-dataset",
		JobID:          "job-demo-1",
		SessionID:      "demo-session",
		CheckpointType: "upload",
	}, opts)

	fmt.Printf("Success: %v after %d attempts (restored from checkpoint: %v)\n",
		res.Success, res.RetryAttempts, res.RestoredFromCheckpoint)
	fmt.Printf("Result: %v\n", res.Data)
	fmt.Println()

	fmt.Println("=== Rate-limited call with error report ===")

	// 6. A quota sync that hits the rate limit; run once, classify, report
	rateLimited := func(ctx context.Context) (any, error) {
		return nil, &domain.StatusError{Code: 429, Message: "too many requests"}
	}

	res2 := orch.ExecuteWithRecovery(ctx, rateLimited, recovery.OperationContext{
		Name:      "sync-quota",
		SessionID: "demo-session",
		UserID:    "user-42",
	}, &recovery.Options{Report: true})

	fmt.Printf("Success: %v, classified as %s (%s)\n",
		res2.Success, res2.Err.Type, res2.Err.Severity)
	fmt.Printf("User message: %s\n", res2.Err.UserMessage)
	fmt.Printf("Report filed: %s\n", res2.ReportID)

	rec := orch.GetRecoveryRecommendation(res2.Err)
	fmt.Printf("Recommended action: %s (%s)\n", rec.Action, rec.Rationale)
	fmt.Println()

	// 7. Show circuit state per operation
	fmt.Println("=== Circuit stats ===")
	for name, snap := range orch.GetRetryStats() {
		fmt.Printf("%s: state=%s failures=%d\n", name, snap.State, snap.Failures)
	}
}

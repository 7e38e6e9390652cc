package worker

import (
	"context"
	"testing"
	"time"

	"github.com/vietddude/rescue/internal/checkpoint"
	"github.com/vietddude/rescue/internal/core/domain"
	"github.com/vietddude/rescue/internal/infra/storage/memory"
	"github.com/vietddude/rescue/internal/report"
)

func TestJanitor_SweepRemovesExpiredCheckpoints(t *testing.T) {
	current := time.Now()
	clock := func() time.Time { return current }

	store := memory.NewMemoryStorage()
	cpRepo := memory.NewCheckpointRepo(store)
	repRepo := memory.NewReportRepo(store)
	cpCfg := checkpoint.Config{Retention: time.Hour}
	mgr := checkpoint.NewManager(cpRepo, cpCfg, checkpoint.WithClock(clock))

	if _, err := mgr.Create(context.Background(), "job-1", "progress",
		map[string]any{"step": 1}, domain.CheckpointMetadata{}); err != nil {
		t.Fatalf("Create failed: %v", err)
	}

	current = current.Add(2 * time.Hour)
	j := NewJanitor(cpCfg, report.Config{}, mgr, repRepo, nil, WithJanitorClock(clock))
	j.Sweep(context.Background())

	cps, err := mgr.ListByJob(context.Background(), "job-1")
	if err != nil {
		t.Fatalf("ListByJob failed: %v", err)
	}
	if len(cps) != 0 {
		t.Errorf("expected expired checkpoints removed, found %d", len(cps))
	}
	if j.LastSweep().IsZero() {
		t.Error("expected LastSweep to be set after a pass")
	}
}

func TestJanitor_SweepDeletesResolvedReports(t *testing.T) {
	current := time.Now()
	clock := func() time.Time { return current }

	store := memory.NewMemoryStorage()
	cpRepo := memory.NewCheckpointRepo(store)
	repRepo := memory.NewReportRepo(store)
	mgr := checkpoint.NewManager(cpRepo, checkpoint.Config{})

	ctx := context.Background()
	resolved := &domain.ErrorReport{
		ID:        "r-resolved",
		Status:    domain.ReportStatusResolved,
		UpdatedAt: current.Add(-48 * time.Hour),
	}
	open := &domain.ErrorReport{
		ID:        "r-open",
		Status:    domain.ReportStatusOpen,
		UpdatedAt: current.Add(-48 * time.Hour),
	}
	if err := repRepo.Save(ctx, resolved); err != nil {
		t.Fatalf("Save failed: %v", err)
	}
	if err := repRepo.Save(ctx, open); err != nil {
		t.Fatalf("Save failed: %v", err)
	}

	j := NewJanitor(checkpoint.Config{}, report.Config{Retention: 24 * time.Hour},
		mgr, repRepo, nil, WithJanitorClock(clock))
	j.Sweep(ctx)

	if _, err := repRepo.Get(ctx, "r-resolved"); err == nil {
		t.Error("expected resolved report past retention to be removed")
	}
	if _, err := repRepo.Get(ctx, "r-open"); err != nil {
		t.Errorf("expected open report to survive the sweep: %v", err)
	}
}

func TestJanitor_SweepDrainsSpool(t *testing.T) {
	store := memory.NewMemoryStorage()
	cpRepo := memory.NewCheckpointRepo(store)
	repRepo := memory.NewReportRepo(store)
	mgr := checkpoint.NewManager(cpRepo, checkpoint.Config{})

	spool := report.NewSpool(t.TempDir())
	if err := spool.Write(&domain.ErrorReport{
		ID:     "spooled-1",
		Status: domain.ReportStatusOpen,
	}); err != nil {
		t.Fatalf("spool write failed: %v", err)
	}

	j := NewJanitor(checkpoint.Config{}, report.Config{}, mgr, repRepo, spool)
	j.Sweep(context.Background())

	if got := spool.Backlog(); got != 0 {
		t.Errorf("expected drained spool, backlog %d", got)
	}
	if _, err := repRepo.Get(context.Background(), "spooled-1"); err != nil {
		t.Errorf("expected spooled report in the store: %v", err)
	}
}

func TestJanitor_Interval(t *testing.T) {
	tests := []struct {
		name string
		cfg  checkpoint.Config
		want time.Duration
	}{
		{"explicit interval wins", checkpoint.Config{CleanupInterval: 5 * time.Minute}, 5 * time.Minute},
		{"long retention capped at 1h", checkpoint.Config{Retention: 24 * time.Hour}, time.Hour},
		{"short retention floored at 1m", checkpoint.Config{Retention: 5 * time.Minute}, time.Minute},
		{"mid retention takes a tenth", checkpoint.Config{Retention: 5 * time.Hour}, 30 * time.Minute},
		{"zero config uses default retention", checkpoint.Config{}, time.Hour},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			j := NewJanitor(tt.cfg, report.Config{}, nil, nil, nil)
			if got := j.interval(); got != tt.want {
				t.Errorf("interval() = %s, want %s", got, tt.want)
			}
		})
	}
}

func TestJanitor_StartRunsInitialSweep(t *testing.T) {
	store := memory.NewMemoryStorage()
	cpRepo := memory.NewCheckpointRepo(store)
	repRepo := memory.NewReportRepo(store)
	mgr := checkpoint.NewManager(cpRepo, checkpoint.Config{})

	j := NewJanitor(checkpoint.Config{}, report.Config{}, mgr, repRepo, nil)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		j.Start(ctx)
		close(done)
	}()

	for i := 0; i < 200 && j.LastSweep().IsZero(); i++ {
		time.Sleep(5 * time.Millisecond)
	}
	if j.LastSweep().IsZero() {
		t.Error("expected an initial sweep shortly after start")
	}

	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Error("janitor did not stop on context cancel")
	}
}

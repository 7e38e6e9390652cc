package memory

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/vietddude/rescue/internal/core/domain"
	"github.com/vietddude/rescue/internal/infra/storage"
)

func seedReports(t *testing.T, repo *ReportRepo, userID string, n int, base time.Time) {
	t.Helper()
	for i := 0; i < n; i++ {
		err := repo.Save(context.Background(), &domain.ErrorReport{
			ID:        fmt.Sprintf("%s-r%d", userID, i),
			UserID:    userID,
			Status:    domain.ReportStatusOpen,
			CreatedAt: base.Add(time.Duration(i) * time.Minute),
		})
		if err != nil {
			t.Fatalf("Save failed: %v", err)
		}
	}
}

func TestReportRepo_ListByUser(t *testing.T) {
	repo := NewReportRepo(NewMemoryStorage())
	base := time.Now()
	seedReports(t, repo, "user-1", 3, base)
	seedReports(t, repo, "user-2", 2, base)

	reports, err := repo.ListByUser(context.Background(), "user-1", 10)
	if err != nil {
		t.Fatalf("ListByUser failed: %v", err)
	}
	if len(reports) != 3 {
		t.Fatalf("expected 3 reports for user-1, got %d", len(reports))
	}
	for _, r := range reports {
		if r.UserID != "user-1" {
			t.Errorf("expected only user-1 reports, got %s", r.UserID)
		}
	}
	// Newest first.
	if reports[0].ID != "user-1-r2" {
		t.Errorf("expected user-1-r2 first, got %s", reports[0].ID)
	}

	// Limit truncates after ordering.
	limited, err := repo.ListByUser(context.Background(), "user-1", 2)
	if err != nil {
		t.Fatalf("ListByUser failed: %v", err)
	}
	if len(limited) != 2 || limited[0].ID != "user-1-r2" {
		t.Errorf("expected the 2 newest reports, got %+v", limited)
	}

	none, err := repo.ListByUser(context.Background(), "user-none", 10)
	if err != nil {
		t.Fatalf("ListByUser failed: %v", err)
	}
	if len(none) != 0 {
		t.Errorf("expected no reports for unknown user, got %d", len(none))
	}
}

func TestReportRepo_ListRecent(t *testing.T) {
	repo := NewReportRepo(NewMemoryStorage())
	base := time.Now()
	seedReports(t, repo, "user-1", 2, base)
	seedReports(t, repo, "user-2", 2, base.Add(time.Hour))

	reports, err := repo.ListRecent(context.Background(), 3)
	if err != nil {
		t.Fatalf("ListRecent failed: %v", err)
	}
	if len(reports) != 3 {
		t.Fatalf("expected limit of 3 reports, got %d", len(reports))
	}
	if reports[0].ID != "user-2-r1" {
		t.Errorf("expected the newest report first, got %s", reports[0].ID)
	}
}

func TestReportRepo_NotFound(t *testing.T) {
	repo := NewReportRepo(NewMemoryStorage())
	ctx := context.Background()

	if _, err := repo.Get(ctx, "absent"); !errors.Is(err, storage.ErrReportNotFound) {
		t.Errorf("Get: expected ErrReportNotFound, got %v", err)
	}
	if err := repo.UpdateStatus(ctx, "absent", domain.ReportStatusResolved); !errors.Is(err, storage.ErrReportNotFound) {
		t.Errorf("UpdateStatus: expected ErrReportNotFound, got %v", err)
	}
	if err := repo.AttachFeedback(ctx, "absent", "hello"); !errors.Is(err, storage.ErrReportNotFound) {
		t.Errorf("AttachFeedback: expected ErrReportNotFound, got %v", err)
	}
}

func TestCheckpointRepo_DeleteOldest(t *testing.T) {
	repo := NewCheckpointRepo(NewMemoryStorage())
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		err := repo.Save(ctx, &domain.ProcessingCheckpoint{
			ID:    fmt.Sprintf("cp-%d", i),
			JobID: "job-1",
			Type:  "step",
		})
		if err != nil {
			t.Fatalf("Save failed: %v", err)
		}
	}

	if err := repo.DeleteOldest(ctx, "job-1", 2); err != nil {
		t.Fatalf("DeleteOldest failed: %v", err)
	}

	cps, err := repo.ListByJob(ctx, "job-1")
	if err != nil {
		t.Fatalf("ListByJob failed: %v", err)
	}
	if len(cps) != 2 {
		t.Fatalf("expected 2 surviving checkpoints, got %d", len(cps))
	}
	if cps[0].ID != "cp-3" || cps[1].ID != "cp-4" {
		t.Errorf("expected the newest checkpoints to survive, got %s, %s", cps[0].ID, cps[1].ID)
	}

	// Keeping more than exist is a no-op.
	if err := repo.DeleteOldest(ctx, "job-1", 10); err != nil {
		t.Fatalf("DeleteOldest failed: %v", err)
	}
	if n, _ := repo.CountByJob(ctx, "job-1"); n != 2 {
		t.Errorf("expected count unchanged, got %d", n)
	}
}

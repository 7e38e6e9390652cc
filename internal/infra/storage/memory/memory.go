package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/vietddude/rescue/internal/core/domain"
	"github.com/vietddude/rescue/internal/infra/storage"
)

// MemoryStorage backs the repositories with plain maps. Used by tests, the
// demo harness, and database-less deployments.
type MemoryStorage struct {
	checkpoints map[string][]*domain.ProcessingCheckpoint // keyed by job id, creation order
	reports     map[string]*domain.ErrorReport
	mu          sync.RWMutex
}

func NewMemoryStorage() *MemoryStorage {
	return &MemoryStorage{
		checkpoints: make(map[string][]*domain.ProcessingCheckpoint),
		reports:     make(map[string]*domain.ErrorReport),
	}
}

// -----------------------------------------------------------------------------
// Checkpoint Repository
// -----------------------------------------------------------------------------

type CheckpointRepo struct {
	store *MemoryStorage
}

func NewCheckpointRepo(store *MemoryStorage) *CheckpointRepo {
	return &CheckpointRepo{store: store}
}

func (r *CheckpointRepo) Save(ctx context.Context, cp *domain.ProcessingCheckpoint) error {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	r.store.checkpoints[cp.JobID] = append(r.store.checkpoints[cp.JobID], cp)
	return nil
}

func (r *CheckpointRepo) ListByJob(
	ctx context.Context,
	jobID string,
) ([]*domain.ProcessingCheckpoint, error) {
	r.store.mu.RLock()
	defer r.store.mu.RUnlock()
	cps := r.store.checkpoints[jobID]
	out := make([]*domain.ProcessingCheckpoint, len(cps))
	copy(out, cps)
	return out, nil
}

func (r *CheckpointRepo) GetByType(
	ctx context.Context,
	jobID, cpType string,
) (*domain.ProcessingCheckpoint, error) {
	r.store.mu.RLock()
	defer r.store.mu.RUnlock()
	cps := r.store.checkpoints[jobID]
	for i := len(cps) - 1; i >= 0; i-- {
		if cps[i].Type == cpType {
			return cps[i], nil
		}
	}
	return nil, nil
}

func (r *CheckpointRepo) GetLatestResumable(
	ctx context.Context,
	jobID string,
) (*domain.ProcessingCheckpoint, error) {
	r.store.mu.RLock()
	defer r.store.mu.RUnlock()
	cps := r.store.checkpoints[jobID]
	for i := len(cps) - 1; i >= 0; i-- {
		if cps[i].Metadata.CanResumeFrom {
			return cps[i], nil
		}
	}
	return nil, nil
}

func (r *CheckpointRepo) CountByJob(ctx context.Context, jobID string) (int, error) {
	r.store.mu.RLock()
	defer r.store.mu.RUnlock()
	return len(r.store.checkpoints[jobID]), nil
}

func (r *CheckpointRepo) DeleteOldest(ctx context.Context, jobID string, keep int) error {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	cps := r.store.checkpoints[jobID]
	if keep < 0 {
		keep = 0
	}
	if len(cps) > keep {
		r.store.checkpoints[jobID] = append(
			[]*domain.ProcessingCheckpoint(nil),
			cps[len(cps)-keep:]...)
	}
	return nil
}

func (r *CheckpointRepo) DeleteExpired(ctx context.Context, before time.Time) (int, error) {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	removed := 0
	for jobID, cps := range r.store.checkpoints {
		kept := cps[:0]
		for _, cp := range cps {
			if cp.Metadata.CreatedAt.Before(before) {
				removed++
				continue
			}
			kept = append(kept, cp)
		}
		if len(kept) == 0 {
			delete(r.store.checkpoints, jobID)
		} else {
			r.store.checkpoints[jobID] = kept
		}
	}
	return removed, nil
}

// -----------------------------------------------------------------------------
// Error Report Repository
// -----------------------------------------------------------------------------

type ReportRepo struct {
	store *MemoryStorage
}

func NewReportRepo(store *MemoryStorage) *ReportRepo {
	return &ReportRepo{store: store}
}

func (r *ReportRepo) Save(ctx context.Context, report *domain.ErrorReport) error {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	r.store.reports[report.ID] = report
	return nil
}

func (r *ReportRepo) Get(ctx context.Context, id string) (*domain.ErrorReport, error) {
	r.store.mu.RLock()
	defer r.store.mu.RUnlock()
	report, ok := r.store.reports[id]
	if !ok {
		return nil, storage.ErrReportNotFound
	}
	return report, nil
}

func (r *ReportRepo) ListByUser(
	ctx context.Context,
	userID string,
	limit int,
) ([]*domain.ErrorReport, error) {
	r.store.mu.RLock()
	defer r.store.mu.RUnlock()
	var out []*domain.ErrorReport
	for _, report := range r.store.reports {
		if report.UserID == userID {
			out = append(out, report)
		}
	}
	sortNewestFirst(out)
	return truncate(out, limit), nil
}

func (r *ReportRepo) ListRecent(ctx context.Context, limit int) ([]*domain.ErrorReport, error) {
	r.store.mu.RLock()
	defer r.store.mu.RUnlock()
	out := make([]*domain.ErrorReport, 0, len(r.store.reports))
	for _, report := range r.store.reports {
		out = append(out, report)
	}
	sortNewestFirst(out)
	return truncate(out, limit), nil
}

func (r *ReportRepo) UpdateStatus(
	ctx context.Context,
	id string,
	status domain.ReportStatus,
) error {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	report, ok := r.store.reports[id]
	if !ok {
		return storage.ErrReportNotFound
	}
	report.Status = status
	report.UpdatedAt = time.Now()
	return nil
}

func (r *ReportRepo) AttachFeedback(ctx context.Context, id string, feedback string) error {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	report, ok := r.store.reports[id]
	if !ok {
		return storage.ErrReportNotFound
	}
	report.UserFeedback = feedback
	report.UpdatedAt = time.Now()
	return nil
}

func (r *ReportRepo) DeleteResolvedOlderThan(
	ctx context.Context,
	before time.Time,
) (int, error) {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	removed := 0
	for id, report := range r.store.reports {
		if report.Status == domain.ReportStatusResolved && report.UpdatedAt.Before(before) {
			delete(r.store.reports, id)
			removed++
		}
	}
	return removed, nil
}

func sortNewestFirst(reports []*domain.ErrorReport) {
	sort.Slice(reports, func(i, j int) bool {
		return reports[i].CreatedAt.After(reports[j].CreatedAt)
	})
}

func truncate(reports []*domain.ErrorReport, limit int) []*domain.ErrorReport {
	if limit > 0 && len(reports) > limit {
		return reports[:limit]
	}
	return reports
}

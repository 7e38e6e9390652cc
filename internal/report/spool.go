package report

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"

	"github.com/vietddude/rescue/internal/core/domain"
	"github.com/vietddude/rescue/internal/infra/storage"
)

// Spool is the local fallback sink: one JSON file per report under a
// directory. Reports land here when there is no durable store for them
// (anonymous reports) or when the durable store is down. The janitor drains
// the spool back into the repository once it recovers.
type Spool struct {
	dir string
	log *slog.Logger

	mu sync.Mutex
}

// NewSpool creates a spool rooted at dir. The directory is created lazily
// on first write.
func NewSpool(dir string) *Spool {
	return &Spool{
		dir: dir,
		log: slog.Default(),
	}
}

// Dir returns the spool directory.
func (s *Spool) Dir() string {
	return s.dir
}

func (s *Spool) path(id string) string {
	return filepath.Join(s.dir, id+".json")
}

// Write stores one report as a JSON file named after its id.
func (s *Spool) Write(report *domain.ErrorReport) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := os.MkdirAll(s.dir, 0o755); err != nil {
		return fmt.Errorf("failed to create spool dir: %w", err)
	}
	data, err := json.MarshalIndent(report, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal report: %w", err)
	}
	if err := os.WriteFile(s.path(report.ID), data, 0o644); err != nil {
		return fmt.Errorf("failed to write spool file: %w", err)
	}
	return nil
}

// Backlog returns the number of reports waiting in the spool.
func (s *Spool) Backlog() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	matches, err := filepath.Glob(filepath.Join(s.dir, "*.json"))
	if err != nil {
		return 0
	}
	return len(matches)
}

// Drain re-submits spooled reports to the repository, removing each file
// once its report is saved. It stops at the first save failure (the sink is
// presumably still down) and reports how many it moved. Files that no
// longer parse are renamed aside so they stop blocking the queue.
func (s *Spool) Drain(ctx context.Context, repo storage.ErrorReportRepository) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	matches, err := filepath.Glob(filepath.Join(s.dir, "*.json"))
	if err != nil {
		return 0, fmt.Errorf("failed to list spool dir: %w", err)
	}

	drained := 0
	for _, path := range matches {
		if err := ctx.Err(); err != nil {
			return drained, err
		}

		data, err := os.ReadFile(path)
		if err != nil {
			s.log.Warn("Failed to read spooled report", "path", path, "error", err)
			continue
		}
		var report domain.ErrorReport
		if err := json.Unmarshal(data, &report); err != nil || report.ID == "" {
			s.log.Warn("Skipping corrupt spool file", "path", path, "error", err)
			if renameErr := os.Rename(path, path+".bad"); renameErr != nil {
				s.log.Warn("Failed to set aside corrupt spool file", "path", path, "error", renameErr)
			}
			continue
		}

		if err := repo.Save(ctx, &report); err != nil {
			return drained, fmt.Errorf("failed to re-submit report %s: %w", report.ID, err)
		}
		if err := os.Remove(path); err != nil {
			s.log.Warn("Failed to remove drained spool file", "path", path, "error", err)
		}
		drained++
	}
	return drained, nil
}

package cli

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/vietddude/rescue/internal/core/config"
	"github.com/vietddude/rescue/internal/infra/storage/postgres"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show stored checkpoints and error report counts",
	Run:   runStatus,
}

func init() {
	rootCmd.AddCommand(statusCmd)
}

func runStatus(cmd *cobra.Command, args []string) {
	cfg, err := config.Load(cfgPath)
	if err != nil {
		slog.Error("Failed to load config", "error", err)
		os.Exit(1)
	}

	ctx := context.Background()
	db, err := postgres.NewDB(ctx, cfg.Database)
	if err != nil {
		slog.Error("Failed to connect to database", "error", err)
		os.Exit(1)
	}
	defer func() {
		_ = db.Close()
	}()

	rows, err := db.QueryContext(ctx, `
		SELECT job_id, COUNT(*), MAX(created_at)
		FROM checkpoints
		GROUP BY job_id
		ORDER BY MAX(created_at) DESC
	`)
	if err != nil {
		slog.Error("Failed to query checkpoints", "error", err)
		os.Exit(1)
	}
	defer func() {
		_ = rows.Close()
	}()

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 3, ' ', tabwriter.Debug)
	_, _ = fmt.Fprintln(w, "JOB\tCHECKPOINTS\tLATEST")

	for rows.Next() {
		var jobID string
		var count int64
		var latest time.Time
		if err := rows.Scan(&jobID, &count, &latest); err != nil {
			continue
		}
		_, _ = fmt.Fprintf(w, "%s\t%d\t%s\n", jobID, count, latest.Format(time.RFC3339))
	}
	_ = w.Flush()

	reportRows, err := db.QueryContext(ctx, `
		SELECT status, COUNT(*)
		FROM error_reports
		GROUP BY status
		ORDER BY status
	`)
	if err != nil {
		slog.Error("Failed to query error reports", "error", err)
		os.Exit(1)
	}
	defer func() {
		_ = reportRows.Close()
	}()

	fmt.Println()
	_, _ = fmt.Fprintln(w, "REPORT STATUS\tCOUNT")
	for reportRows.Next() {
		var status string
		var count int64
		if err := reportRows.Scan(&status, &count); err != nil {
			continue
		}
		_, _ = fmt.Fprintf(w, "%s\t%d\n", status, count)
	}
	_ = w.Flush()
}

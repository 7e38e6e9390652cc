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
	"github.com/vietddude/rescue/internal/core/domain"
	"github.com/vietddude/rescue/internal/infra/storage/postgres"
)

var (
	reportsLimit int
	reportsUser  string
)

var reportsCmd = &cobra.Command{
	Use:   "reports",
	Short: "List the most recent error reports",
	Run:   runReports,
}

func init() {
	reportsCmd.Flags().IntVar(&reportsLimit, "limit", 20, "maximum number of reports to list")
	reportsCmd.Flags().StringVar(&reportsUser, "user", "", "only list reports owned by this user id")
	rootCmd.AddCommand(reportsCmd)
}

func runReports(cmd *cobra.Command, args []string) {
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

	repo := postgres.NewReportRepo(db)
	var reports []*domain.ErrorReport
	if reportsUser != "" {
		reports, err = repo.ListByUser(ctx, reportsUser, reportsLimit)
	} else {
		reports, err = repo.ListRecent(ctx, reportsLimit)
	}
	if err != nil {
		slog.Error("Failed to list error reports", "error", err)
		os.Exit(1)
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 3, ' ', tabwriter.Debug)
	_, _ = fmt.Fprintln(w, "ID\tUSER\tTYPE\tSEVERITY\tSTATUS\tCREATED")

	for _, r := range reports {
		user := r.UserID
		if user == "" {
			user = "-"
		}
		_, _ = fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\n",
			r.ID,
			user,
			r.Error.Type,
			r.Error.Severity,
			r.Status,
			r.CreatedAt.Format(time.RFC3339),
		)
	}
	_ = w.Flush()
}

package cli

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/vietddude/rescue/internal/checkpoint"
	"github.com/vietddude/rescue/internal/core/config"
	"github.com/vietddude/rescue/internal/infra/storage/postgres"
)

var cleanupCmd = &cobra.Command{
	Use:   "cleanup",
	Short: "Delete checkpoints past their retention window",
	Run:   runCleanup,
}

func init() {
	rootCmd.AddCommand(cleanupCmd)
}

func runCleanup(cmd *cobra.Command, args []string) {
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

	manager := checkpoint.NewManager(postgres.NewCheckpointRepo(db), cfg.Checkpoints)
	removed, err := manager.CleanupExpired(ctx)
	if err != nil {
		slog.Error("Failed to clean up checkpoints", "error", err)
		os.Exit(1)
	}

	fmt.Printf("Successfully removed %d expired checkpoints\n", removed)
}

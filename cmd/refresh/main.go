package main

import (
	"context"
	"fmt"
	"os"

	"epiviz-pipeline/internal/model"
	"epiviz-pipeline/internal/pipeline"
	"epiviz-pipeline/internal/render"
	"epiviz-pipeline/internal/store"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
)

var (
	cfgPath string
	force   bool
)

var rootCmd = &cobra.Command{
	Use:   "refresh",
	Short: "Run one dataset refresh and publication cycle",
	Long: `Fetches every configured dataset with tiered fallback, regenerates the
output artifacts, and atomically publishes them unless the candidate is
incomplete. The live output set is preserved untouched on any failure.`,
	SilenceUsage: true,
	RunE:         run,
}

func run(cmd *cobra.Command, args []string) error {
	cfg, err := model.LoadConfig(cfgPath)
	if err != nil {
		return err
	}

	db, err := store.Open(cfg.DBPath)
	if err != nil {
		return fmt.Errorf("failed to open run store: %w", err)
	}
	defer db.Close()

	coord, err := pipeline.NewCoordinator(cfg, render.NewHTMLRenderer(), db)
	if err != nil {
		return err
	}

	runID := uuid.New().String()
	if err := db.CreateRun(runID); err != nil {
		return fmt.Errorf("failed to register run: %w", err)
	}

	outcome, err := coord.Run(context.Background(), runID, force)
	if err != nil {
		return err
	}

	// Exit code 2 signals "ran, but preserved the previous publication"
	// so the scheduler can alert without treating it as a crash.
	if !outcome.Published {
		os.Exit(2)
	}
	return nil
}

func main() {
	rootCmd.Flags().StringVarP(&cfgPath, "config", "c", "config.yaml", "path to the pipeline configuration")
	rootCmd.Flags().BoolVarP(&force, "force", "f", false, "skip the backup tier probe (fresh-only refresh)")

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

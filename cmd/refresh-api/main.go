package main

import (
	"fmt"
	"os"

	"epiviz-pipeline/internal/api"
	"epiviz-pipeline/internal/api/handler"
	"epiviz-pipeline/internal/model"
	"epiviz-pipeline/internal/pipeline"
	"epiviz-pipeline/internal/render"
	"epiviz-pipeline/internal/store"
	"epiviz-pipeline/pkg/router"

	"github.com/spf13/cobra"

	_ "epiviz-pipeline/docs" // swagger spec registration
)

var (
	cfgPath string
	addr    string
)

var rootCmd = &cobra.Command{
	Use:          "refresh-api",
	Short:        "Serve the refresh pipeline status and trigger API",
	SilenceUsage: true,
	RunE: func(cmd *cobra.Command, args []string) error {
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

		r := router.New()
		api.RegisterRoutes(r, handler.New(db, coord, cfg))
		r.Start(addr)
		return nil
	},
}

func main() {
	rootCmd.Flags().StringVarP(&cfgPath, "config", "c", "config.yaml", "path to the pipeline configuration")
	rootCmd.Flags().StringVarP(&addr, "addr", "a", ":8080", "listen address")

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

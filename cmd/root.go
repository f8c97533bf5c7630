package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/spatial-research/gwr-cli/internal/config"
)

var cfg *config.Config

var rootCmd = &cobra.Command{
	Use:   "gwr-cli",
	Short: "Spatially varying regression toolkit",
	Long:  "Imports point observation datasets, associates them with dissolved administrative regions, and fits global, per-region, grid-cell, and geographically weighted regression models.",
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		c, err := config.Load()
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}
		cfg = c

		if err := config.InitLogger(cfg.Log); err != nil {
			return fmt.Errorf("init logger: %w", err)
		}

		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		_ = zap.L().Sync()
	},
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

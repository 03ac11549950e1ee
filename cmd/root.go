package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/cholette-research/tract-cli/internal/config"
)

var cfg *config.Config

var rootCmd = &cobra.Command{
	Use:   "tract-cli",
	Short: "Census tract food access and vulnerability analysis",
	Long:  "Downloads ACS demographics and TIGER tract geometry, resolves distances to grocery and transit candidates, classifies tracts by access, and builds a composite vulnerability index.",
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

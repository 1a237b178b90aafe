package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/menu-extract/internal/config"
)

var cfg *config.Config

var rootCmd = &cobra.Command{
	Use:   "menu-extract",
	Short: "Restaurant menu extraction pipeline",
	Long:  "Turns menu documents (PDFs, spreadsheets, images) into structured menu data via tiered Claude models: structure analysis, item extraction, size and modifier enrichment.",
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

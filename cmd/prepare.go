package main

import (
	"encoding/json"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var prepareManifest string

var prepareCmd = &cobra.Command{
	Use:   "prepare [files...]",
	Short: "Run document preparation only and print the normalized output",
	Long:  "Fetches, converts, and paginates the given documents without making any model calls. Useful for inspecting what the pipeline would actually send.",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		docs, err := loadDocuments(prepareManifest, args)
		if err != nil {
			return err
		}

		env, err := initPipeline(ctx)
		if err != nil {
			return err
		}

		prepared, stats := env.Preparer.Prepare(ctx, docs)

		zap.L().Info("preparation complete",
			zap.Int("documents", stats.Documents),
			zap.Int("dropped", stats.Dropped),
			zap.Int("pages", stats.Pages),
			zap.Int("sheets", stats.Sheets),
			zap.Int("total_tokens", stats.TotalTokens),
		)

		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(struct {
			Stats     any `json:"stats"`
			Documents any `json:"documents"`
		}{stats, prepared})
	},
}

func init() {
	prepareCmd.Flags().StringVar(&prepareManifest, "manifest", "", "JSON manifest of documents")
	rootCmd.AddCommand(prepareCmd)
}

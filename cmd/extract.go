package main

import (
	"encoding/json"
	"os"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/menu-extract/internal/model"
)

var (
	extractManifest string
	extractOut      string
)

var extractCmd = &cobra.Command{
	Use:   "extract [files...]",
	Short: "Run the full extraction pipeline over menu documents",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		docs, err := loadDocuments(extractManifest, args)
		if err != nil {
			return err
		}

		env, err := initPipeline(ctx)
		if err != nil {
			return err
		}

		result, err := env.Pipeline.Run(ctx, docs)
		if err != nil {
			// The result still carries partial costs and logs; write it
			// before surfacing the error.
			writeResult(result)
			return eris.Wrap(err, "extraction run")
		}

		zap.L().Info("extraction complete",
			zap.String("run_id", result.RunID),
			zap.Int("items", len(result.Items)),
			zap.Float64("total_cost", result.Costs.Total),
			zap.Int64("processing_ms", result.ProcessingTimeMs),
		)
		return writeResult(result)
	},
}

func writeResult(result *model.ExtractionResult) error {
	if result == nil {
		return nil
	}
	out := os.Stdout
	if extractOut != "" {
		f, err := os.Create(extractOut)
		if err != nil {
			return eris.Wrapf(err, "create %s", extractOut)
		}
		defer f.Close()
		out = f
	}
	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")
	return enc.Encode(result)
}

func init() {
	extractCmd.Flags().StringVar(&extractManifest, "manifest", "", "JSON manifest of documents")
	extractCmd.Flags().StringVar(&extractOut, "out", "", "write result JSON to file instead of stdout")
	rootCmd.AddCommand(extractCmd)
}

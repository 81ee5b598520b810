package main

import (
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/sells-group/dropout-risk/internal/bundle"
	"github.com/sells-group/dropout-risk/internal/config"
	"github.com/sells-group/dropout-risk/internal/scorer"
)

var trainCmd = &cobra.Command{
	Use:   "train",
	Short: "Train a model bundle from a labelled student table",
	Long: `Train a random forest on a labelled CSV or XLSX table and write the
bundle atomically to --out. The label column defaults to train.label_column.

Examples:
  train --csv data/students.csv --out models/dropout_model.json
  train --csv data/students.csv --trees 500 --max-depth 20`,
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		data, _ := cmd.Flags().GetString("csv")
		out, _ := cmd.Flags().GetString("out")
		if data == "" {
			data = cfg.Train.CSVPath
		}
		if out == "" {
			out = cfg.Model.Path
		}

		tc := applyTrainOverrides(cmd, cfg.Train)
		cfg.Train = tc
		if err := cfg.Validate("train"); err != nil {
			return err
		}
		if err := bundle.ValidateTrainConfig(tc); err != nil {
			return err
		}

		norm, err := initNormalizer(cfg.Model)
		if err != nil {
			return err
		}

		mv, report, err := scorer.New(norm).Retrain(ctx, tc, data, out)
		if err != nil {
			return err
		}

		fmt.Printf("Model:    %s\n", mv.Version)
		fmt.Printf("Written:  %s\n", mv.Path)
		fmt.Printf("Rows:     %d (%d train / %d test)\n", report.Rows, report.TrainRows, report.TestRows)
		fmt.Printf("Classes:  %v\n", report.Classes)
		fmt.Printf("Features: %d\n", mv.Features)
		if report.TestRows > 0 {
			fmt.Printf("Accuracy: %.3f\n", report.TestAccuracy)
		}
		fmt.Printf("Elapsed:  %s\n", report.Duration)

		if verbose, _ := cmd.Flags().GetBool("report"); verbose {
			enc := json.NewEncoder(os.Stdout)
			enc.SetIndent("", "  ")
			return enc.Encode(report)
		}
		return nil
	},
}

// applyTrainOverrides returns a copy of the base config with CLI flag overrides applied.
func applyTrainOverrides(cmd *cobra.Command, base config.TrainConfig) config.TrainConfig {
	c := base

	if v, _ := cmd.Flags().GetInt("trees"); v > 0 {
		c.Trees = v
	}
	if v, _ := cmd.Flags().GetInt("max-depth"); v > 0 {
		c.MaxDepth = v
	}
	if v, _ := cmd.Flags().GetString("label"); v != "" {
		c.LabelColumn = v
	}
	if cmd.Flags().Changed("seed") {
		v, _ := cmd.Flags().GetUint64("seed")
		c.Seed = v
	}
	if cmd.Flags().Changed("test-fraction") {
		v, _ := cmd.Flags().GetFloat64("test-fraction")
		c.TestFraction = v
	}

	return c
}

func init() {
	f := trainCmd.Flags()
	f.String("csv", "", "labelled training table (default from config)")
	f.String("out", "", "bundle output path (default: model.path)")
	f.Int("trees", 0, "number of trees (overrides config)")
	f.Int("max-depth", 0, "maximum tree depth (overrides config)")
	f.String("label", "", "label column (overrides config)")
	f.Uint64("seed", 0, "random seed (overrides config)")
	f.Float64("test-fraction", 0, "held-out fraction for accuracy (overrides config)")
	f.Bool("report", false, "print the full training report as JSON")

	rootCmd.AddCommand(trainCmd)
}

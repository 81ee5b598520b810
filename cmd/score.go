package main

import (
	"context"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/dropout-risk/internal/ingest"
	"github.com/sells-group/dropout-risk/internal/model"
	"github.com/sells-group/dropout-risk/internal/scorer"
)

var scoreCmd = &cobra.Command{
	Use:   "score",
	Short: "Score student records from a file",
	Long: `Score student records read from a CSV, XLSX, or JSON file against the
configured model bundle.

A JSON object is scored as a single record and includes the top feature
attributions. Tables and JSON arrays are scored as a batch.

Examples:
  # Score a class roster and print a table
  score --input roster.csv

  # Export results as CSV
  score --input roster.xlsx --format csv --output risk.csv

  # Explain one student and keep the prediction in history
  score --input student.json --format json --save`,
	RunE: runScore,
}

func init() {
	f := scoreCmd.Flags()
	f.String("input", "", "input file (.csv, .xlsx, or .json)")
	f.String("model", "", "model bundle path (default from config)")
	f.String("output", "", "output file path (default: stdout)")
	f.String("format", "table", "output format: table, csv, or json")
	f.Bool("save", false, "save predictions to the configured store")
	_ = scoreCmd.MarkFlagRequired("input")

	rootCmd.AddCommand(scoreCmd)
}

// scoredRow pairs an assessment with the student it belongs to.
type scoredRow struct {
	StudentID string `json:"student_id,omitempty"`
	model.Assessment
}

func runScore(cmd *cobra.Command, _ []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	input, _ := cmd.Flags().GetString("input")
	modelPath, _ := cmd.Flags().GetString("model")
	outputPath, _ := cmd.Flags().GetString("output")
	format, _ := cmd.Flags().GetString("format")
	save, _ := cmd.Flags().GetBool("save")

	if modelPath != "" {
		cfg.Model.Path = modelPath
	}
	if err := cfg.Validate("score"); err != nil {
		return err
	}
	if format != "table" && format != "csv" && format != "json" {
		return eris.Errorf("score: --format must be table, csv, or json (got %q)", format)
	}

	norm, err := initNormalizer(cfg.Model)
	if err != nil {
		return err
	}
	sc := scorer.New(norm)
	if _, err := sc.Reload(ctx, cfg.Model.Path); err != nil {
		return err
	}

	rows, err := scoreFile(ctx, sc, input)
	if err != nil {
		return err
	}
	zap.L().Info("score: complete", zap.String("input", input), zap.Int("rows", len(rows)))

	if err := outputScoredRows(rows, format, outputPath); err != nil {
		return err
	}

	if save {
		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		recs := make([]model.PredictionRecord, len(rows))
		for i, r := range rows {
			recs[i] = model.NewPredictionRecord(r.StudentID, r.Assessment, model.SourceCLI)
		}
		if err := st.SavePredictions(ctx, recs); err != nil {
			return eris.Wrap(err, "score: save")
		}
		fmt.Fprintf(os.Stderr, "Saved %d predictions\n", len(recs))
	}

	return nil
}

// scoreFile reads path and scores its records. A single JSON object is
// scored with an explanation.
func scoreFile(ctx context.Context, sc *scorer.Scorer, path string) ([]scoredRow, error) {
	recs, batch, err := ingest.ReadFile(ctx, path)
	if err != nil {
		return nil, err
	}

	if !batch {
		a, err := sc.ScoreRecord(ctx, recs[0])
		if err != nil {
			return nil, err
		}
		return []scoredRow{{StudentID: ingest.StudentID(recs[0]), Assessment: *a}}, nil
	}

	if len(recs) == 0 {
		return nil, eris.Errorf("score: %s has no records", path)
	}
	out, err := sc.ScoreBatch(ctx, recs)
	if err != nil {
		return nil, err
	}
	rows := make([]scoredRow, len(out))
	for i, a := range out {
		rows[i] = scoredRow{StudentID: ingest.StudentID(recs[i]), Assessment: a}
	}
	return rows, nil
}

func outputScoredRows(rows []scoredRow, format, outputPath string) error {
	var w io.Writer = os.Stdout
	if outputPath != "" {
		f, err := os.Create(outputPath)
		if err != nil {
			return eris.Wrapf(err, "score: create output file %s", outputPath)
		}
		defer f.Close() //nolint:errcheck
		w = f
	}

	switch format {
	case "csv":
		return writeScoreCSV(w, rows)
	case "json":
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(rows)
	case "table":
		return writeScoreTable(w, rows)
	default:
		return eris.Errorf("score: unsupported format %q", format)
	}
}

func writeScoreCSV(w io.Writer, rows []scoredRow) error {
	cw := csv.NewWriter(w)

	header := []string{"student_id", "probability", "risk_tier", "low_confidence", "model_version", "recommendations"}
	if err := cw.Write(header); err != nil {
		return eris.Wrap(err, "score: write CSV header")
	}

	for _, r := range rows {
		row := []string{
			r.StudentID,
			fmt.Sprintf("%.3f", r.Probability),
			string(r.RiskTier),
			fmt.Sprintf("%v", r.LowConfidence),
			r.ModelVersion,
			strings.Join(r.Recommendations, "; "),
		}
		if err := cw.Write(row); err != nil {
			return eris.Wrap(err, "score: write CSV row")
		}
	}
	cw.Flush()
	if err := cw.Error(); err != nil {
		return eris.Wrap(err, "score: flush CSV")
	}
	return nil
}

func writeScoreTable(w io.Writer, rows []scoredRow) error {
	header := fmt.Sprintf("%-14s %11s %-10s %s\n", "Student", "Probability", "Tier", "First step")
	if _, err := fmt.Fprint(w, header); err != nil {
		return eris.Wrap(err, "score: write table header")
	}
	if _, err := fmt.Fprintln(w, strings.Repeat("-", 80)); err != nil {
		return eris.Wrap(err, "score: write table separator")
	}

	for i, r := range rows {
		id := r.StudentID
		if id == "" {
			id = fmt.Sprintf("#%d", i+1)
		}
		if len(id) > 14 {
			id = id[:11] + "..."
		}
		var step string
		if len(r.Recommendations) > 0 {
			step = r.Recommendations[0]
		}
		tier := string(r.RiskTier)
		if r.LowConfidence {
			tier += "*"
		}
		line := fmt.Sprintf("%-14s %11.3f %-10s %s\n", id, r.Probability, tier, step)
		if _, err := fmt.Fprint(w, line); err != nil {
			return eris.Wrap(err, "score: write table row")
		}
	}

	if len(rows) == 1 && len(rows[0].Explanation) > 0 {
		if _, err := fmt.Fprintln(w, "\nTop factors:"); err != nil {
			return eris.Wrap(err, "score: write explanation")
		}
		for _, a := range rows[0].Explanation {
			if _, err := fmt.Fprintf(w, "  %-40s %+.3f\n", a.Feature, a.Value); err != nil {
				return eris.Wrap(err, "score: write explanation")
			}
		}
	}
	return nil
}

package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"text/tabwriter"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/sells-group/dropout-risk/internal/model"
	"github.com/sells-group/dropout-risk/internal/monitoring"
	"github.com/sells-group/dropout-risk/internal/store"
)

var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "List recent predictions",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		if err := cfg.Validate("history"); err != nil {
			return err
		}

		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		if hours, _ := cmd.Flags().GetInt("stats"); hours > 0 {
			snap, err := monitoring.NewCollector(st, nil).Collect(ctx, hours)
			if err != nil {
				return eris.Wrap(err, "history stats")
			}
			enc := json.NewEncoder(os.Stdout)
			enc.SetIndent("", "  ")
			return enc.Encode(snap)
		}

		limit, _ := cmd.Flags().GetInt("limit")
		tier, _ := cmd.Flags().GetString("tier")
		student, _ := cmd.Flags().GetString("student")

		filter := store.PredictionFilter{
			Tier:      model.Tier(tier),
			StudentID: student,
			Limit:     limit,
		}
		if tier != "" && !filter.Tier.Valid() {
			return eris.Errorf("history: unknown tier %q", tier)
		}

		recs, err := st.ListPredictions(ctx, filter)
		if err != nil {
			return eris.Wrap(err, "history list")
		}

		if len(recs) == 0 {
			fmt.Fprintln(os.Stderr, "No predictions found.")
			return nil
		}

		formatHistory(os.Stdout, recs)
		return nil
	},
}

func formatHistory(w io.Writer, recs []model.PredictionRecord) {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "CREATED\tSTUDENT\tPROBABILITY\tTIER\tSOURCE\tMODEL")
	for _, r := range recs {
		student := r.StudentID
		if student == "" {
			student = "-"
		}
		tier := string(r.RiskTier)
		if r.LowConfidence {
			tier += "*"
		}
		fmt.Fprintf(tw, "%s\t%s\t%.3f\t%s\t%s\t%s\n",
			r.CreatedAt.Format("2006-01-02 15:04:05"),
			student,
			r.Probability,
			tier,
			r.Source,
			r.ModelVersion,
		)
	}
	tw.Flush() //nolint:errcheck
}

func init() {
	f := historyCmd.Flags()
	f.Int("limit", store.DefaultListLimit, "max number of predictions to list")
	f.String("tier", "", "filter by risk tier")
	f.String("student", "", "filter by student ID")
	f.Int("stats", 0, "print a tier summary over the last N hours instead of a list")

	rootCmd.AddCommand(historyCmd)
}

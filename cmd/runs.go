package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"text/tabwriter"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/cholette-research/tract-cli/internal/model"
	"github.com/cholette-research/tract-cli/internal/store"
)

var runsCmd = &cobra.Command{
	Use:   "runs",
	Short: "Inspect analysis run history",
	Long:  "Commands for listing, viewing, and summarizing analysis runs.",
}

// -- runs list --

var runsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List analysis runs",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck
		if err := st.Migrate(ctx); err != nil {
			return err
		}

		status, _ := cmd.Flags().GetString("status")
		scheme, _ := cmd.Flags().GetString("scheme")
		limit, _ := cmd.Flags().GetInt("limit")

		filter := store.RunFilter{
			Status: model.RunStatus(status),
			Scheme: scheme,
			Limit:  limit,
		}

		runs, err := st.ListRuns(ctx, filter)
		if err != nil {
			return eris.Wrap(err, "runs list")
		}

		if len(runs) == 0 {
			fmt.Fprintln(os.Stderr, "No runs found.")
			return nil
		}

		formatRunsList(os.Stdout, runs)
		return nil
	},
}

// -- runs show --

var runsShowCmd = &cobra.Command{
	Use:   "show <run-id>",
	Short: "Show full details of a run",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck
		if err := st.Migrate(ctx); err != nil {
			return err
		}

		run, err := st.GetRun(ctx, args[0])
		if err != nil {
			return eris.Wrap(err, "runs show")
		}

		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(run)
	},
}

// -- runs excluded --

var runsExcludedCmd = &cobra.Command{
	Use:   "excluded <run-id>",
	Short: "List tracts excluded from a run's aggregates",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck
		if err := st.Migrate(ctx); err != nil {
			return err
		}

		rows, err := st.ListExclusions(ctx, args[0])
		if err != nil {
			return eris.Wrap(err, "runs excluded")
		}

		if len(rows) == 0 {
			fmt.Fprintln(os.Stderr, "No exclusions.")
			return nil
		}

		w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
		_, _ = fmt.Fprintln(w, "GEOID\tREASON\tFIELD")
		for _, r := range rows {
			_, _ = fmt.Fprintf(w, "%s\t%s\t%s\n", r.GEOID, r.Reason, r.Field)
		}
		return w.Flush()
	},
}

func init() {
	runsListCmd.Flags().String("status", "", "filter by run status (running, complete, failed)")
	runsListCmd.Flags().String("scheme", "", "filter by classification scheme")
	runsListCmd.Flags().Int("limit", 50, "max number of runs to display")

	runsCmd.AddCommand(runsListCmd)
	runsCmd.AddCommand(runsShowCmd)
	runsCmd.AddCommand(runsExcludedCmd)
	rootCmd.AddCommand(runsCmd)
}

// formatRunsList writes a tabular list of runs to w.
func formatRunsList(out io.Writer, runs []model.AnalysisRun) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "ID\tSCHEME\tSTATUS\tTRACTS\tCREATED\tDURATION")
	for _, r := range runs {
		dur := "-"
		if r.Status != model.RunStatusRunning {
			dur = r.UpdatedAt.Sub(r.CreatedAt).Round(time.Millisecond).String()
		}
		_, _ = fmt.Fprintf(w, "%s\t%s\t%s\t%d\t%s\t%s\n",
			r.ID, r.Scheme, r.Status, r.Tracts,
			r.CreatedAt.Format(time.RFC3339), dur)
	}
	_ = w.Flush()
}

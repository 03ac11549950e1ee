package main

import (
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/cholette-research/tract-cli/internal/report"
	"github.com/cholette-research/tract-cli/internal/store"
)

// Stage commands expose one run's stored tables. The pipeline writes them
// during "run"; these read them back without recomputing anything.

var distancesCmd = &cobra.Command{
	Use:   "distances <run-id>",
	Short: "Show a run's resolved distance records",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withStore(cmd, func(st store.Store) error {
			rows, err := st.ListDistances(cmd.Context(), args[0])
			if err != nil {
				return eris.Wrap(err, "distances")
			}
			w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
			_, _ = fmt.Fprintln(w, "GEOID\tGROCERY_MI\tNEAREST_GROCERY\tTRANSIT_MI\tNEAREST_STOP\tSTOPS_NEARBY")
			for _, r := range rows {
				_, _ = fmt.Fprintf(w, "%s\t%.3f\t%s\t%.3f\t%s\t%d\n",
					r.GEOID, r.GroceryDistance, r.NearestGroceryID,
					r.TransitDistance, r.NearestTransitID, r.TransitStopsNearby)
			}
			return w.Flush()
		})
	},
}

var classifyCmd = &cobra.Command{
	Use:   "classify <run-id>",
	Short: "Show a run's tract classifications",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withStore(cmd, func(st store.Store) error {
			rows, err := st.ListClassifications(cmd.Context(), args[0])
			if err != nil {
				return eris.Wrap(err, "classify")
			}
			w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
			_, _ = fmt.Fprintln(w, "GEOID\tLABEL\tRULE\tGROCERY_MI\tTRANSIT_MI\tSTOPS")
			for _, r := range rows {
				_, _ = fmt.Fprintf(w, "%s\t%s\t%s\t%.3f\t%.3f\t%d\n",
					r.GEOID, r.Label, r.Matched,
					r.GroceryDistance, r.TransitDistance, r.TransitStopsNearby)
			}
			return w.Flush()
		})
	},
}

var indexCmd = &cobra.Command{
	Use:   "index <run-id>",
	Short: "Show a run's vulnerability index rows",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withStore(cmd, func(st store.Store) error {
			rows, err := st.ListIndexRows(cmd.Context(), args[0])
			if err != nil {
				return eris.Wrap(err, "index")
			}
			w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
			_, _ = fmt.Fprintln(w, "GEOID\tSCORE\tQUINTILE")
			for _, r := range rows {
				_, _ = fmt.Fprintf(w, "%s\t%.4f\t%d\n", r.GEOID, r.Score, r.Quintile)
			}
			return w.Flush()
		})
	},
}

var summaryOut string

var summaryCmd = &cobra.Command{
	Use:   "summary <run-id>",
	Short: "Rebuild and print a run's summary report",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withStore(cmd, func(st store.Store) error {
			ctx := cmd.Context()
			runID := args[0]

			run, err := st.GetRun(ctx, runID)
			if err != nil {
				return eris.Wrap(err, "summary")
			}
			tractRows, err := st.ListTracts(ctx)
			if err != nil {
				return err
			}
			cls, err := st.ListClassifications(ctx, runID)
			if err != nil {
				return err
			}
			indexRows, err := st.ListIndexRows(ctx, runID)
			if err != nil {
				return err
			}
			excluded, err := st.ListExclusions(ctx, runID)
			if err != nil {
				return err
			}

			rep, err := report.Build(report.Input{
				Scheme:          run.Scheme,
				Tracts:          tractRows,
				Classifications: cls,
				IndexRows:       indexRows,
				Excluded:        excluded,
				Regions:         cfg.Report.Regions,
			})
			if err != nil {
				return err
			}

			if summaryOut != "" {
				if err := os.MkdirAll(summaryOut, 0o755); err != nil {
					return eris.Wrapf(err, "summary: create output dir %s", summaryOut)
				}
				if err := rep.WriteCSV(summaryOut); err != nil {
					return err
				}
			}
			return rep.WriteText(os.Stdout)
		})
	},
}

// withStore opens the configured store, migrates it, and closes it after fn.
func withStore(cmd *cobra.Command, fn func(store.Store) error) error {
	ctx := cmd.Context()
	st, err := initStore(ctx)
	if err != nil {
		return err
	}
	defer st.Close() //nolint:errcheck
	if err := st.Migrate(ctx); err != nil {
		return err
	}
	return fn(st)
}

func init() {
	summaryCmd.Flags().StringVar(&summaryOut, "out", "", "also write the report CSVs to this directory")
	rootCmd.AddCommand(distancesCmd)
	rootCmd.AddCommand(classifyCmd)
	rootCmd.AddCommand(indexCmd)
	rootCmd.AddCommand(summaryCmd)
}

package main

import (
	"fmt"
	"os"
	"path/filepath"
	"text/tabwriter"

	"github.com/jszwec/csvutil"
	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/cholette-research/tract-cli/internal/store"
	"github.com/cholette-research/tract-cli/internal/vulnindex"
)

var (
	sensitivityThreshold int
	sensitivityOut       string
)

var sensitivityCmd = &cobra.Command{
	Use:   "sensitivity",
	Short: "Compare index rankings across alternative component weightings",
	Long: `Rebuilds the vulnerability index under each configured weight scenario
and compares the resulting rankings against the baseline. Tracts whose rank
moves more than the threshold across scenarios are reported as
rank-sensitive.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withStore(cmd, func(st store.Store) error {
			ctx := cmd.Context()
			log := zap.L().With(zap.String("command", "sensitivity"))

			tracts, err := st.ListTracts(ctx)
			if err != nil {
				return err
			}
			if len(tracts) == 0 {
				return eris.New("sensitivity: no tracts stored, run acquire first")
			}

			scenarios := cfg.IndexScenarios()
			out, err := vulnindex.Analyze(tracts, scenarios, sensitivityThreshold)
			if err != nil {
				return err
			}

			w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
			_, _ = fmt.Fprintln(w, "SCENARIO\tMEAN\tSTDDEV\tRANK_CORR")
			for _, sr := range out.Scenarios {
				_, _ = fmt.Fprintf(w, "%s\t%.4f\t%.4f\t%.4f\n",
					sr.Name, sr.MeanScore, sr.StdDev, sr.BaselineRankCorrelation)
			}
			if err := w.Flush(); err != nil {
				return err
			}

			fmt.Printf("\ntracts compared: %d\n", out.Tracts)
			fmt.Printf("rank-sensitive tracts (range > %d): %d\n", out.Threshold, len(out.Sensitive))
			fmt.Printf("verdict: %s\n", out.Robustness)

			if len(out.Sensitive) > 0 {
				fmt.Println()
				w = tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
				_, _ = fmt.Fprintln(w, "GEOID\tRANK_RANGE\tRANK_STDDEV")
				for _, s := range out.Sensitive {
					_, _ = fmt.Fprintf(w, "%s\t%d\t%.1f\n", s.GEOID, s.RankRange, s.RankStdDev)
				}
				if err := w.Flush(); err != nil {
					return err
				}
			}

			if sensitivityOut != "" {
				if err := writeSensitivityCSV(sensitivityOut, out); err != nil {
					return err
				}
				log.Info("sensitivity written", zap.String("dir", sensitivityOut))
			}
			return nil
		})
	},
}

func writeSensitivityCSV(dir string, out *vulnindex.Sensitivity) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return eris.Wrapf(err, "sensitivity: create output dir %s", dir)
	}
	sections := []struct {
		name string
		rows any
	}{
		{"scenario_correlations.csv", out.Scenarios},
		{"sensitive_tracts.csv", out.Sensitive},
	}
	for _, s := range sections {
		data, err := csvutil.Marshal(s.rows)
		if err != nil {
			return eris.Wrapf(err, "sensitivity: marshal %s", s.name)
		}
		if err := os.WriteFile(filepath.Join(dir, s.name), data, 0o644); err != nil {
			return eris.Wrapf(err, "sensitivity: write %s", s.name)
		}
	}
	return nil
}

func init() {
	sensitivityCmd.Flags().IntVar(&sensitivityThreshold, "threshold", 0,
		"rank movement above which a tract counts as sensitive (default 20)")
	sensitivityCmd.Flags().StringVar(&sensitivityOut, "out", "",
		"also write scenario correlations and sensitive tracts as CSV to this directory")
	rootCmd.AddCommand(sensitivityCmd)
}

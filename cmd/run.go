package main

import (
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/cholette-research/tract-cli/internal/acquire"
	"github.com/cholette-research/tract-cli/internal/classifier"
	"github.com/cholette-research/tract-cli/internal/model"
	"github.com/cholette-research/tract-cli/internal/pipeline"
)

var (
	runScheme     string
	runSchemeFile string
	runXLSX       bool
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the full analysis against the stored tract table",
	Long: `Loads the tract table from the store, loads grocery and transit
candidates from the configured CSVs, resolves distances, classifies every
tract, builds the vulnerability index, and writes the summary report.

Each invocation creates a new run; past runs stay queryable with "runs".`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close()

		if err := st.Migrate(ctx); err != nil {
			return eris.Wrap(err, "run: migrate store")
		}

		log := zap.L().With(zap.String("command", "run"))

		tractRows, err := st.ListTracts(ctx)
		if err != nil {
			return err
		}
		if len(tractRows) == 0 {
			return eris.New("run: tract table is empty, run acquire first")
		}

		scheme, err := loadScheme()
		if err != nil {
			return err
		}

		bbox := tractBounds(tractRows)

		transit, err := acquire.LoadTransitStops(cfg.Acquire.TransitCSV, bbox)
		if err != nil {
			return err
		}
		grocery, err := acquire.LoadSNAPRetailers(cfg.Acquire.SNAPCSV, cfg.Acquire.SNAPState, bbox)
		if err != nil {
			return err
		}
		log.Info("candidates loaded",
			zap.Int("tracts", len(tractRows)),
			zap.Int("grocery", len(grocery)),
			zap.Int("transit", len(transit)))

		result, err := pipeline.New(cfg, st).Run(ctx, pipeline.Input{
			Tracts:     tractRows,
			Grocery:    grocery,
			Transit:    transit,
			Scheme:     scheme,
			Components: cfg.IndexComponents(),
		})
		if err != nil {
			return err
		}

		if err := writeReport(result); err != nil {
			return err
		}

		return result.Report.WriteText(os.Stdout)
	},
}

// loadScheme resolves the classification scheme: an explicit YAML file wins,
// then the named built-in.
func loadScheme() (classifier.Scheme, error) {
	schemeFile := runSchemeFile
	if schemeFile == "" {
		schemeFile = cfg.Classify.SchemeFile
	}
	if schemeFile != "" {
		data, err := os.ReadFile(schemeFile)
		if err != nil {
			return classifier.Scheme{}, eris.Wrapf(err, "run: read scheme file %s", schemeFile)
		}
		return classifier.ParseScheme(data)
	}

	name := runScheme
	if name == "" {
		name = cfg.Classify.Scheme
	}
	scheme, ok := classifier.BuiltinScheme(name)
	if !ok {
		return classifier.Scheme{}, eris.Errorf("run: unknown scheme %q", name)
	}
	return scheme, nil
}

// tractBounds computes a padded bounding box over the tract centroids to
// filter candidate points before indexing.
func tractBounds(rows []model.Tract) acquire.BoundingBox {
	const pad = 0.5 // degrees, keeps candidates just beyond the outermost tract

	b := acquire.BoundingBox{}
	for i, t := range rows {
		if i == 0 || t.Latitude < b.MinLat {
			b.MinLat = t.Latitude
		}
		if i == 0 || t.Latitude > b.MaxLat {
			b.MaxLat = t.Latitude
		}
		if i == 0 || t.Longitude < b.MinLon {
			b.MinLon = t.Longitude
		}
		if i == 0 || t.Longitude > b.MaxLon {
			b.MaxLon = t.Longitude
		}
	}
	b.MinLat -= pad
	b.MaxLat += pad
	b.MinLon -= pad
	b.MaxLon += pad
	return b
}

func writeReport(result *pipeline.Result) error {
	outDir := filepath.Join(cfg.Report.OutDir, result.Run.ID)
	if err := os.MkdirAll(outDir, 0o755); err != nil {
		return eris.Wrapf(err, "run: create output dir %s", outDir)
	}
	if err := result.Report.WriteCSV(outDir); err != nil {
		return err
	}
	if runXLSX {
		if err := result.Report.WriteXLSX(filepath.Join(outDir, "report.xlsx")); err != nil {
			return err
		}
	}
	zap.L().Info("report written", zap.String("dir", outDir))
	return nil
}

func init() {
	runCmd.Flags().StringVar(&runScheme, "scheme", "", "built-in scheme name (default from config)")
	runCmd.Flags().StringVar(&runSchemeFile, "scheme-file", "", "custom scheme YAML path, overrides --scheme")
	runCmd.Flags().BoolVar(&runXLSX, "xlsx", false, "also write an XLSX workbook")
	rootCmd.AddCommand(runCmd)
}

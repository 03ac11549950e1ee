package main

import (
	"context"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/cholette-research/tract-cli/internal/acquire"
	"github.com/cholette-research/tract-cli/internal/fetcher"
	"github.com/cholette-research/tract-cli/internal/tracts"
)

var (
	acquireForce bool
	acquireFTP   bool
)

var acquireCmd = &cobra.Command{
	Use:   "acquire",
	Short: "Download and stage the source datasets",
	Long: `Commands for pulling ACS demographics and TIGER geometry from the
Census Bureau and for staging the local transit and SNAP candidate files.

County responses and extracted shapefiles are cached under the temp dir, so
an interrupted pull resumes where it stopped. Use --force to refetch.`,
}

// -- acquire census --

var acquireCensusCmd = &cobra.Command{
	Use:   "census",
	Short: "Pull ACS estimates, join to TIGER geometry, save the tract table",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close()

		if err := st.Migrate(ctx); err != nil {
			return eris.Wrap(err, "acquire: migrate store")
		}

		log := zap.L().With(zap.String("command", "acquire census"))
		fetch := newFetcher()
		rates := cfg.RateSpecs()

		acsClient, err := acquire.NewACSClient(fetch, acquire.ACSOptions{
			Year:         cfg.Census.Year,
			Dataset:      cfg.Census.Dataset,
			APIKey:       cfg.Census.APIKey,
			StateFIPS:    cfg.Census.StateFIPS,
			CountyFIPS:   splitAndTrim(cfg.Census.CountyFIPS),
			Variables:    tracts.Variables(rates),
			CacheDir:     cfg.Acquire.TempDir,
			ForceRefetch: acquireForce,
		})
		if err != nil {
			return err
		}

		acsRows, err := acsClient.FetchState(ctx)
		if err != nil {
			return err
		}
		log.Info("ACS pull complete", zap.Int("rows", len(acsRows)))

		geoms, err := loadGeometry(ctx)
		if err != nil {
			return err
		}
		log.Info("tract geometry loaded", zap.Int("tracts", len(geoms)))

		joined, stats, err := tracts.Join(acsRows, geoms, rates)
		if err != nil {
			return err
		}
		log.Info("tract table built",
			zap.Int("matched", stats.Matched),
			zap.Int("acs_only", stats.ACSOnly),
			zap.Int("geometry_only", stats.GeometryOnly))

		if err := st.SaveTracts(ctx, joined); err != nil {
			return err
		}
		log.Info("tract table saved", zap.Int("tracts", len(joined)))

		return nil
	},
}

// -- acquire tiger --

var acquireTigerCmd = &cobra.Command{
	Use:   "tiger",
	Short: "Download and extract the TIGER tract shapefile",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		geoms, err := loadGeometry(ctx)
		if err != nil {
			return err
		}
		zap.L().Info("tract geometry ready",
			zap.String("command", "acquire tiger"),
			zap.Int("tracts", len(geoms)))
		return nil
	},
}

// -- acquire transit / acquire snap --

var acquireTransitCmd = &cobra.Command{
	Use:   "transit",
	Short: "Validate the GTFS stops file and report candidate counts",
	RunE: func(cmd *cobra.Command, _ []string) error {
		stops, err := acquire.LoadTransitStops(cfg.Acquire.TransitCSV, storedBounds(cmd.Context()))
		if err != nil {
			return err
		}
		zap.L().Info("transit candidates staged",
			zap.String("command", "acquire transit"),
			zap.String("path", cfg.Acquire.TransitCSV),
			zap.Int("stops", len(stops)))
		return nil
	},
}

var acquireSNAPCmd = &cobra.Command{
	Use:   "snap",
	Short: "Validate the SNAP retailer file and report candidate counts",
	RunE: func(cmd *cobra.Command, _ []string) error {
		stores, err := acquire.LoadSNAPRetailers(cfg.Acquire.SNAPCSV, cfg.Acquire.SNAPState, storedBounds(cmd.Context()))
		if err != nil {
			return err
		}
		zap.L().Info("grocery candidates staged",
			zap.String("command", "acquire snap"),
			zap.String("path", cfg.Acquire.SNAPCSV),
			zap.Int("stores", len(stores)))
		return nil
	},
}

// loadGeometry downloads the TIGER shapefile if needed and loads tract
// geometry from it. A previously extracted shapefile is reused. With --ftp
// the pull goes through the Census FTP mirror instead of HTTPS.
func loadGeometry(ctx context.Context) ([]acquire.TractGeometry, error) {
	var (
		fetch fetcher.Fetcher = newFetcher()
		src   string
	)
	if acquireFTP {
		fetch = fetcher.NewFTPFetcher("", 0)
		src = acquire.TractShapefileFTPPath(cfg.Census.TigerYear, cfg.Census.StateFIPS)
	}

	shpPath, err := acquire.DownloadTracts(ctx, fetch, src, cfg.Census.TigerYear, cfg.Census.StateFIPS, cfg.Acquire.TempDir)
	if err != nil {
		return nil, err
	}
	return acquire.LoadTractGeometry(shpPath)
}

// storedBounds returns the candidate bounding box from the stored tract
// table, or the zero box (no filter) when no tracts are loaded yet.
func storedBounds(ctx context.Context) acquire.BoundingBox {
	st, err := initStore(ctx)
	if err != nil {
		return acquire.BoundingBox{}
	}
	defer st.Close()
	if err := st.Migrate(ctx); err != nil {
		return acquire.BoundingBox{}
	}
	rows, err := st.ListTracts(ctx)
	if err != nil || len(rows) == 0 {
		return acquire.BoundingBox{}
	}
	return tractBounds(rows)
}

// newFetcher builds the shared HTTP fetcher from the acquire config. The
// configured rate applies to the file mirror; the API host keeps its higher
// default.
func newFetcher() *fetcher.HTTPFetcher {
	limits := fetcher.DefaultHostLimits()
	if cfg.Acquire.RequestsPerSec > 0 {
		limits["www2.census.gov"] = rate.NewLimiter(rate.Limit(cfg.Acquire.RequestsPerSec), 1)
	}
	return fetcher.NewHTTPFetcher(fetcher.HTTPOptions{
		UserAgent:  cfg.Acquire.UserAgent,
		MaxRetries: cfg.Acquire.MaxRetries,
		Timeout:    5 * time.Minute,
		Limits:     limits,
	})
}

func splitAndTrim(s string) []string {
	if strings.TrimSpace(s) == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func init() {
	acquireCmd.PersistentFlags().BoolVar(&acquireForce, "force", false, "refetch even when cached responses exist")
	acquireCmd.PersistentFlags().BoolVar(&acquireFTP, "ftp", false, "pull TIGER files from ftp2.census.gov instead of HTTPS")
	acquireCmd.AddCommand(acquireCensusCmd)
	acquireCmd.AddCommand(acquireTigerCmd)
	acquireCmd.AddCommand(acquireTransitCmd)
	acquireCmd.AddCommand(acquireSNAPCmd)
	rootCmd.AddCommand(acquireCmd)
}

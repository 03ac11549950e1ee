package resolver

import (
	"context"
	"sort"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/cholette-research/tract-cli/internal/model"
)

// BatchOptions configures a bulk distance resolution.
type BatchOptions struct {
	TransitRadiusMiles float64 // radius for the stop count (default 0.5)
	Concurrency        int     // parallel tract queries (default 8)
}

// ResolveAll computes a DistanceRecord for every tract against the grocery
// and transit indexes. Per-tract queries run in parallel; each result is
// written to its own slot, and the output is ordered by GEOID, so the record
// table is identical run-to-run.
func ResolveAll(ctx context.Context, tracts []model.Tract, grocery, transit *Index, opts BatchOptions) ([]model.DistanceRecord, error) {
	if grocery == nil || transit == nil {
		return nil, ErrEmptyCandidateSet
	}
	if opts.TransitRadiusMiles <= 0 {
		opts.TransitRadiusMiles = 0.5
	}
	if opts.Concurrency <= 0 {
		opts.Concurrency = 8
	}

	records := make([]model.DistanceRecord, len(tracts))

	g, gCtx := errgroup.WithContext(ctx)
	g.SetLimit(opts.Concurrency)

	for i := range tracts {
		g.Go(func() error {
			if err := gCtx.Err(); err != nil {
				return err
			}
			t := &tracts[i]

			store, groceryDist, err := grocery.Nearest(t.Latitude, t.Longitude)
			if err != nil {
				return err
			}
			stop, transitDist, err := transit.Nearest(t.Latitude, t.Longitude)
			if err != nil {
				return err
			}
			nearby, err := transit.CountWithin(t.Latitude, t.Longitude, opts.TransitRadiusMiles)
			if err != nil {
				return err
			}

			records[i] = model.DistanceRecord{
				GEOID:              t.GEOID,
				GroceryDistance:    groceryDist,
				NearestGroceryID:   store.ID,
				TransitDistance:    transitDist,
				NearestTransitID:   stop.ID,
				TransitStopsNearby: nearby,
			}
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}

	sort.Slice(records, func(i, j int) bool { return records[i].GEOID < records[j].GEOID })

	zap.L().Info("resolver: distances computed",
		zap.Int("tracts", len(tracts)),
		zap.Int("grocery_points", grocery.Len()),
		zap.Int("transit_points", transit.Len()),
		zap.Float64("transit_radius_miles", opts.TransitRadiusMiles),
	)

	return records, nil
}

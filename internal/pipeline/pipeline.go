// Package pipeline orchestrates a full analysis run: distance resolution,
// classification, vulnerability index, and reporting, with results persisted
// per run.
package pipeline

import (
	"context"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/cholette-research/tract-cli/internal/classifier"
	"github.com/cholette-research/tract-cli/internal/config"
	"github.com/cholette-research/tract-cli/internal/model"
	"github.com/cholette-research/tract-cli/internal/report"
	"github.com/cholette-research/tract-cli/internal/resolver"
	"github.com/cholette-research/tract-cli/internal/store"
	"github.com/cholette-research/tract-cli/internal/vulnindex"
)

// Pipeline wires the analysis stages to persistence.
type Pipeline struct {
	cfg   *config.Config
	store store.Store
}

// New creates a Pipeline.
func New(cfg *config.Config, st store.Store) *Pipeline {
	return &Pipeline{cfg: cfg, store: st}
}

// Input carries the candidate sets and analysis configuration for one run.
type Input struct {
	Tracts     []model.Tract
	Grocery    []model.PointOfInterest
	Transit    []model.PointOfInterest
	Scheme     classifier.Scheme
	Components []vulnindex.Component
}

// Result is everything one run produced.
type Result struct {
	Run             *model.AnalysisRun
	Distances       []model.DistanceRecord
	Classifications []model.Classification
	IndexRows       []model.VulnerabilityRow
	Excluded        []model.ExcludedTract
	Report          *report.Report
	Duration        time.Duration
}

// Run executes the full analysis. Configuration is validated and both
// spatial indexes are built before the run record is created, so a fatal
// setup error never leaves partial output behind.
func (p *Pipeline) Run(ctx context.Context, in Input) (*Result, error) {
	log := zap.L().With(zap.String("component", "pipeline"), zap.String("scheme", in.Scheme.Name))
	start := time.Now()

	if len(in.Tracts) == 0 {
		return nil, eris.New("pipeline: no tracts loaded")
	}
	if err := in.Scheme.Validate(); err != nil {
		return nil, eris.Wrap(err, "pipeline: scheme")
	}
	components := in.Components
	if len(components) == 0 {
		components = vulnindex.DefaultComponents()
	}
	if err := vulnindex.ValidateComponents(components); err != nil {
		return nil, eris.Wrap(err, "pipeline: index components")
	}

	groceryIdx, err := resolver.NewIndex(in.Grocery)
	if err != nil {
		return nil, eris.Wrap(err, "pipeline: grocery index")
	}
	transitIdx, err := resolver.NewIndex(in.Transit)
	if err != nil {
		return nil, eris.Wrap(err, "pipeline: transit index")
	}

	run, err := p.store.CreateRun(ctx, in.Scheme.Name)
	if err != nil {
		return nil, eris.Wrap(err, "pipeline: create run")
	}
	log = log.With(zap.String("run_id", run.ID))
	log.Info("run started", zap.Int("tracts", len(in.Tracts)))

	result, err := p.execute(ctx, run, in, components, groceryIdx, transitIdx)
	if err != nil {
		if failErr := p.store.FailRun(ctx, run.ID, err.Error()); failErr != nil {
			log.Warn("could not mark run failed", zap.Error(failErr))
		}
		return nil, err
	}

	if err := p.store.CompleteRun(ctx, run.ID, len(in.Tracts)); err != nil {
		return nil, eris.Wrap(err, "pipeline: complete run")
	}
	result.Duration = time.Since(start)
	log.Info("run complete",
		zap.Duration("duration", result.Duration),
		zap.Int("classified", len(result.Classifications)),
		zap.Int("index_rows", len(result.IndexRows)),
		zap.Int("excluded", len(result.Excluded)))
	return result, nil
}

func (p *Pipeline) execute(
	ctx context.Context,
	run *model.AnalysisRun,
	in Input,
	components []vulnindex.Component,
	groceryIdx, transitIdx *resolver.Index,
) (*Result, error) {
	result := &Result{Run: run}

	distances, err := resolver.ResolveAll(ctx, in.Tracts, groceryIdx, transitIdx, resolver.BatchOptions{
		TransitRadiusMiles: p.cfg.Resolver.TransitRadiusMiles,
		Concurrency:        p.cfg.Resolver.Concurrency,
	})
	if err != nil {
		return nil, eris.Wrap(err, "pipeline: resolve distances")
	}
	if err := p.store.SaveDistances(ctx, run.ID, distances); err != nil {
		return nil, err
	}
	result.Distances = distances

	classifications, indeterminate, err := classifier.ClassifyAll(in.Scheme, in.Tracts, distances)
	if err != nil {
		return nil, eris.Wrap(err, "pipeline: classify")
	}
	if err := p.store.SaveClassifications(ctx, run.ID, classifications); err != nil {
		return nil, err
	}
	if err := p.store.SaveExclusions(ctx, run.ID, "classify", indeterminate); err != nil {
		return nil, err
	}
	result.Classifications = classifications
	result.Excluded = append(result.Excluded, indeterminate...)

	indexRows, missing, err := vulnindex.Build(in.Tracts, components)
	if err != nil {
		return nil, eris.Wrap(err, "pipeline: vulnerability index")
	}
	if err := p.store.SaveIndexRows(ctx, run.ID, indexRows); err != nil {
		return nil, err
	}
	if err := p.store.SaveExclusions(ctx, run.ID, "index", missing); err != nil {
		return nil, err
	}
	result.IndexRows = indexRows
	result.Excluded = append(result.Excluded, missing...)

	rep, err := report.Build(report.Input{
		Scheme:          in.Scheme.Name,
		Tracts:          in.Tracts,
		Classifications: classifications,
		IndexRows:       indexRows,
		Excluded:        result.Excluded,
		Regions:         p.cfg.Report.Regions,
	})
	if err != nil {
		return nil, eris.Wrap(err, "pipeline: report")
	}
	result.Report = rep

	return result, nil
}

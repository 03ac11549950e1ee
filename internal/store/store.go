// Package store persists tracts, analysis runs, and per-run outputs behind a
// driver-agnostic interface with SQLite and Postgres backends.
package store

import (
	"context"

	"github.com/rotisserie/eris"

	"github.com/cholette-research/tract-cli/internal/model"
)

// ErrNotFound is returned when a requested run does not exist.
var ErrNotFound = eris.New("store: not found")

// RunFilter specifies criteria for listing runs.
type RunFilter struct {
	Status model.RunStatus `json:"status,omitempty"`
	Scheme string          `json:"scheme,omitempty"`
	Limit  int             `json:"limit,omitempty"`
	Offset int             `json:"offset,omitempty"`
}

// Store defines persistence for the analysis pipeline. Derived rows
// (distances, classifications, index rows) are keyed by run so past runs
// remain queryable.
type Store interface {
	// Runs
	CreateRun(ctx context.Context, scheme string) (*model.AnalysisRun, error)
	CompleteRun(ctx context.Context, runID string, tracts int) error
	FailRun(ctx context.Context, runID string, cause string) error
	GetRun(ctx context.Context, runID string) (*model.AnalysisRun, error)
	ListRuns(ctx context.Context, filter RunFilter) ([]model.AnalysisRun, error)

	// Tract table (run-independent, refreshed by acquire)
	SaveTracts(ctx context.Context, tracts []model.Tract) error
	ListTracts(ctx context.Context) ([]model.Tract, error)

	// Per-run outputs
	SaveDistances(ctx context.Context, runID string, recs []model.DistanceRecord) error
	ListDistances(ctx context.Context, runID string) ([]model.DistanceRecord, error)
	SaveClassifications(ctx context.Context, runID string, rows []model.Classification) error
	ListClassifications(ctx context.Context, runID string) ([]model.Classification, error)
	SaveIndexRows(ctx context.Context, runID string, rows []model.VulnerabilityRow) error
	ListIndexRows(ctx context.Context, runID string) ([]model.VulnerabilityRow, error)
	SaveExclusions(ctx context.Context, runID, stage string, rows []model.ExcludedTract) error
	ListExclusions(ctx context.Context, runID string) ([]model.ExcludedTract, error)

	// Lifecycle
	Migrate(ctx context.Context) error
	Close() error
}

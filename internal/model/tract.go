// Package model defines the tabular entities shared across the analysis pipeline.
package model

import (
	"time"
)

// Tract is one census tract row: a geographic identifier, a centroid, and
// whatever demographic attributes the loaded dataset carried. Tracts are
// immutable once loaded; all derived values live on separate record types.
type Tract struct {
	GEOID     string  `json:"geoid" csv:"geoid"`
	Name      string  `json:"name" csv:"name"`
	Latitude  float64 `json:"latitude" csv:"latitude"`
	Longitude float64 `json:"longitude" csv:"longitude"`

	// Attributes holds demographic/economic fields keyed by canonical name
	// (e.g. "poverty_rate", "snap_rate"). Which keys are present depends on
	// the column mapping of the source dataset.
	Attributes map[string]float64 `json:"attributes"`
}

// Attr returns the named attribute and whether it was present in the source.
func (t *Tract) Attr(name string) (float64, bool) {
	v, ok := t.Attributes[name]
	return v, ok
}

// CountyFIPS extracts the 3-digit county code from the tract GEOID
// (format SSCCCTTTTTT: state, county, tract).
func (t *Tract) CountyFIPS() string {
	if len(t.GEOID) < 5 {
		return ""
	}
	return t.GEOID[2:5]
}

// StateFIPS extracts the 2-digit state code from the tract GEOID.
func (t *Tract) StateFIPS() string {
	if len(t.GEOID) < 2 {
		return ""
	}
	return t.GEOID[:2]
}

// RunStatus represents the state of an analysis run.
type RunStatus string

const (
	RunStatusRunning  RunStatus = "running"
	RunStatusComplete RunStatus = "complete"
	RunStatusFailed   RunStatus = "failed"
)

// AnalysisRun records one execution of the pipeline against a tract table.
type AnalysisRun struct {
	ID        string    `json:"id"`
	Scheme    string    `json:"scheme"`
	Status    RunStatus `json:"status"`
	Tracts    int       `json:"tracts"`
	Error     string    `json:"error,omitempty"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

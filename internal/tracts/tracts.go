// Package tracts joins ACS estimates to TIGER geometry and derives the
// per-tract rate attributes the classifier and index consume.
package tracts

import (
	"sort"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/cholette-research/tract-cli/internal/acquire"
	"github.com/cholette-research/tract-cli/internal/model"
)

// RateSpec derives one attribute as numerator/denominator, scaled to a
// percentage. A tract missing either variable, or with a zero denominator,
// simply lacks the attribute; downstream stages exclude it explicitly.
type RateSpec struct {
	Name        string `mapstructure:"name" yaml:"name"`
	Numerator   string `mapstructure:"numerator" yaml:"numerator"`
	Denominator string `mapstructure:"denominator" yaml:"denominator"`
}

// DefaultRates maps the standard ACS pull onto the attribute names used by
// the built-in classification schemes and index components.
func DefaultRates() []RateSpec {
	return []RateSpec{
		{Name: "poverty_rate", Numerator: "B17001_002E", Denominator: "B17001_001E"},
		{Name: "snap_rate", Numerator: "B22003_002E", Denominator: "B22003_001E"},
		{Name: "pct_no_vehicle", Numerator: "B08201_002E", Denominator: "B08201_001E"},
		{Name: "renter_rate", Numerator: "B25003_003E", Denominator: "B25003_001E"},
	}
}

// PopulationVariable feeds pop_density and the population passthrough.
const PopulationVariable = "B01003_001E"

// Variables returns the distinct ACS variable codes the rate specs require,
// population included, in first-seen order.
func Variables(rates []RateSpec) []string {
	out := []string{PopulationVariable}
	seen := map[string]bool{PopulationVariable: true}
	for _, r := range rates {
		for _, v := range []string{r.Numerator, r.Denominator} {
			if v != "" && !seen[v] {
				seen[v] = true
				out = append(out, v)
			}
		}
	}
	return out
}

// JoinStats reports what the join kept and dropped.
type JoinStats struct {
	Matched      int
	ACSOnly      int
	GeometryOnly int
}

// Join matches ACS rows to tract geometry on GEOID and derives attributes
// per rates. Tracts present on only one side are dropped and counted.
// Output is sorted by GEOID.
func Join(acsRows []acquire.ACSRow, geoms []acquire.TractGeometry, rates []RateSpec) ([]model.Tract, JoinStats, error) {
	if len(rates) == 0 {
		rates = DefaultRates()
	}
	seen := make(map[string]bool, len(rates))
	for _, r := range rates {
		if r.Name == "" || r.Numerator == "" || r.Denominator == "" {
			return nil, JoinStats{}, eris.Errorf("tracts: incomplete rate spec %q", r.Name)
		}
		if seen[r.Name] {
			return nil, JoinStats{}, eris.Errorf("tracts: duplicate rate %q", r.Name)
		}
		seen[r.Name] = true
	}

	byGEOID := make(map[string]acquire.TractGeometry, len(geoms))
	for _, g := range geoms {
		byGEOID[g.GEOID] = g
	}

	var stats JoinStats
	var out []model.Tract
	for _, row := range acsRows {
		g, ok := byGEOID[row.GEOID]
		if !ok {
			stats.ACSOnly++
			continue
		}
		stats.Matched++

		t := model.Tract{
			GEOID:      row.GEOID,
			Name:       pickName(row.Name, g.Name),
			Latitude:   g.Latitude,
			Longitude:  g.Longitude,
			Attributes: make(map[string]float64, len(rates)+2),
		}
		for _, r := range rates {
			num, numOK := row.Values[r.Numerator]
			den, denOK := row.Values[r.Denominator]
			if !numOK || !denOK || den == 0 {
				continue
			}
			t.Attributes[r.Name] = num / den * 100
		}
		if pop, ok := row.Values[PopulationVariable]; ok {
			t.Attributes["population"] = pop
			if g.LandAreaSqMi > 0 {
				t.Attributes["pop_density"] = pop / g.LandAreaSqMi
			}
		}
		out = append(out, t)
	}
	stats.GeometryOnly = len(geoms) - stats.Matched

	sort.Slice(out, func(i, j int) bool { return out[i].GEOID < out[j].GEOID })

	zap.L().Info("joined tracts",
		zap.Int("matched", stats.Matched),
		zap.Int("acs_only", stats.ACSOnly),
		zap.Int("geometry_only", stats.GeometryOnly))
	return out, stats, nil
}

func pickName(acsName, tigerName string) string {
	if acsName != "" {
		return acsName
	}
	return tigerName
}

// Package vulnindex builds the composite vulnerability index: min-max
// normalization of named components across the run's tract population,
// weighted summation, and quintile bucketing.
package vulnindex

import (
	"math"
	"sort"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/cholette-research/tract-cli/internal/model"
)

// ErrInvalidWeightConfiguration aborts a run before any tract is scored.
var ErrInvalidWeightConfiguration = eris.New("vulnindex: component weights must sum to 1.0")

const weightTolerance = 1e-6

// Direction controls how a component's raw value maps to vulnerability.
type Direction string

const (
	// DirectionHigher: higher raw value means higher vulnerability.
	DirectionHigher Direction = "higher"
	// DirectionLower: lower raw value means higher vulnerability; the
	// normalized value is complemented (e.g. population density as
	// isolation).
	DirectionLower Direction = "lower"
)

// Component couples a tract attribute name with its weight and direction.
type Component struct {
	Name      string    `yaml:"name" json:"name"`
	Weight    float64   `yaml:"weight" json:"weight"`
	Direction Direction `yaml:"direction" json:"direction"`
}

// DefaultComponents is the baseline weighting: economic need carries most
// of the index, geographic isolation (inverse density) the rest.
func DefaultComponents() []Component {
	return []Component{
		{Name: "poverty_rate", Weight: 0.30, Direction: DirectionHigher},
		{Name: "snap_rate", Weight: 0.25, Direction: DirectionHigher},
		{Name: "pct_no_vehicle", Weight: 0.20, Direction: DirectionHigher},
		{Name: "renter_rate", Weight: 0.10, Direction: DirectionHigher},
		{Name: "pop_density", Weight: 0.15, Direction: DirectionLower},
	}
}

// ValidateComponents checks weights sum to 1.0 within tolerance, each weight
// is non-negative, and no component repeats.
func ValidateComponents(components []Component) error {
	if len(components) == 0 {
		return eris.Wrap(ErrInvalidWeightConfiguration, "no components configured")
	}

	seen := make(map[string]bool, len(components))
	var sum float64
	for _, c := range components {
		if c.Name == "" {
			return eris.Wrap(ErrInvalidWeightConfiguration, "component with empty name")
		}
		if seen[c.Name] {
			return eris.Wrapf(ErrInvalidWeightConfiguration, "duplicate component %q", c.Name)
		}
		seen[c.Name] = true
		if c.Weight < 0 {
			return eris.Wrapf(ErrInvalidWeightConfiguration, "component %q has negative weight", c.Name)
		}
		switch c.Direction {
		case DirectionHigher, DirectionLower, "":
		default:
			return eris.Wrapf(ErrInvalidWeightConfiguration, "component %q has invalid direction %q", c.Name, c.Direction)
		}
		sum += c.Weight
	}

	if math.Abs(sum-1.0) > weightTolerance {
		return eris.Wrapf(ErrInvalidWeightConfiguration, "weights sum to %.6f", sum)
	}
	return nil
}

// Build scores every tract that carries all configured components and
// assigns quintiles. Tracts missing a component are excluded from scoring
// and ranking and returned in the side list. Configuration errors are fatal
// and reported before any tract output exists.
func Build(tracts []model.Tract, components []Component) ([]model.VulnerabilityRow, []model.ExcludedTract, error) {
	if err := ValidateComponents(components); err != nil {
		return nil, nil, err
	}

	var (
		rows     []model.VulnerabilityRow
		excluded []model.ExcludedTract
	)

	for i := range tracts {
		t := &tracts[i]
		raw := make(map[string]float64, len(components))
		missing := ""
		for _, c := range components {
			v, ok := t.Attr(c.Name)
			if !ok || math.IsNaN(v) {
				missing = c.Name
				break
			}
			raw[c.Name] = v
		}
		if missing != "" {
			excluded = append(excluded, model.ExcludedTract{
				GEOID:  t.GEOID,
				Reason: model.ReasonMissingComponent,
				Field:  missing,
			})
			continue
		}
		rows = append(rows, model.VulnerabilityRow{GEOID: t.GEOID, Raw: raw})
	}

	// Per-component min/max over the scored population only.
	for _, c := range components {
		lo, hi := math.Inf(1), math.Inf(-1)
		for i := range rows {
			v := rows[i].Raw[c.Name]
			lo = math.Min(lo, v)
			hi = math.Max(hi, v)
		}

		for i := range rows {
			if rows[i].Normalized == nil {
				rows[i].Normalized = make(map[string]float64, len(components))
			}
			var norm float64
			if hi == lo {
				// Zero variance across the population: every tract
				// contributes the midpoint, never a division by zero.
				norm = 0.5
			} else {
				norm = (rows[i].Raw[c.Name] - lo) / (hi - lo)
			}
			if c.Direction == DirectionLower {
				norm = 1 - norm
			}
			rows[i].Normalized[c.Name] = norm
			rows[i].Score += c.Weight * norm
		}
	}

	assignQuintiles(rows)

	sort.Slice(rows, func(i, j int) bool { return rows[i].GEOID < rows[j].GEOID })
	sort.Slice(excluded, func(i, j int) bool { return excluded[i].GEOID < excluded[j].GEOID })

	zap.L().Info("vulnindex: index built",
		zap.Int("scored", len(rows)),
		zap.Int("missing_component", len(excluded)),
		zap.Int("components", len(components)),
	)

	return rows, excluded, nil
}

// assignQuintiles ranks rows by ascending score (ties broken by GEOID
// ascending) and splits them into five groups, Q1 lowest through Q5
// highest. When the count is not divisible by five, earlier quintiles
// absorb the remainder: 9 tracts split 2,2,2,2,1.
func assignQuintiles(rows []model.VulnerabilityRow) {
	if len(rows) == 0 {
		return
	}

	order := make([]int, len(rows))
	for i := range order {
		order[i] = i
	}
	sort.Slice(order, func(a, b int) bool {
		ri, rj := &rows[order[a]], &rows[order[b]]
		if ri.Score != rj.Score {
			return ri.Score < rj.Score
		}
		return ri.GEOID < rj.GEOID
	})

	n := len(rows)
	base := n / 5
	remainder := n % 5

	rank := 0
	for q := 1; q <= 5; q++ {
		size := base
		if q <= remainder {
			size++
		}
		for k := 0; k < size && rank < n; k++ {
			rows[order[rank]].Quintile = q
			rank++
		}
	}
}

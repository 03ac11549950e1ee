package classifier

import (
	"sort"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"github.com/cholette-research/tract-cli/internal/model"
)

// Labels for the three-way food access scheme.
const (
	LabelFoodDesert     = "Traditional Food Desert"
	LabelMobilityDesert = "Mobility Desert"
	LabelFullAccess     = "Full Access"
)

// SchemeMobility returns the three-way food access classifier:
//  1. grocery_distance > 1.0 mile        -> Traditional Food Desert
//  2. transit_distance > 0.5 mile OR
//     transit_stops_nearby < 2           -> Mobility Desert
//  3. otherwise                          -> Full Access
//
// Comparisons are strict: a tract at exactly 1.0 mile is not a food desert,
// and exactly 2 stops within the half mile is adequate transit. These
// boundary directions change membership at the margin and must not drift.
func SchemeMobility() Scheme {
	return Scheme{
		Name: "mobility",
		Rules: []Rule{
			{
				Name:  "food_desert",
				Label: LabelFoodDesert,
				Conditions: []Condition{
					{Field: "grocery_distance", Op: OpGT, Threshold: 1.0},
				},
			},
			{
				Name:       "mobility_desert",
				Label:      LabelMobilityDesert,
				Combinator: CombinatorAny,
				Conditions: []Condition{
					{Field: "transit_distance", Op: OpGT, Threshold: 0.5},
					{Field: "transit_stops_nearby", Op: OpLT, Threshold: 2},
				},
			},
			{
				Name:  "full_access",
				Label: LabelFullAccess,
			},
		},
	}
}

// SchemeWorkingPoor returns the two-criterion working-poor classifier:
// employment rate >= 60% AND poverty rate > 10%.
func SchemeWorkingPoor() Scheme {
	return Scheme{
		Name: "working-poor",
		Rules: []Rule{
			{
				Name:       "working_poor",
				Label:      "Working Poor",
				Combinator: CombinatorAll,
				Conditions: []Condition{
					{Field: "fulltime_rate", Op: OpGE, Threshold: 60.0},
					{Field: "poverty_rate", Op: OpGT, Threshold: 10.0},
				},
			},
			{
				Name:  "other",
				Label: "Other",
			},
		},
	}
}

// SchemeTrajectory returns the percentage-point trend classifier: changes
// outside a +/-1pp band are Deteriorating or Improving, inside is Stable.
func SchemeTrajectory() Scheme {
	return Scheme{
		Name: "trajectory",
		Rules: []Rule{
			{
				Name:  "deteriorating",
				Label: "Deteriorating",
				Conditions: []Condition{
					{Field: "change_pp", Op: OpGT, Threshold: 1.0},
				},
			},
			{
				Name:  "improving",
				Label: "Improving",
				Conditions: []Condition{
					{Field: "change_pp", Op: OpLT, Threshold: -1.0},
				},
			},
			{
				Name:  "stable",
				Label: "Stable",
			},
		},
	}
}

// BuiltinScheme looks up a named built-in scheme.
func BuiltinScheme(name string) (Scheme, bool) {
	switch name {
	case "mobility":
		return SchemeMobility(), true
	case "working-poor":
		return SchemeWorkingPoor(), true
	case "trajectory":
		return SchemeTrajectory(), true
	}
	return Scheme{}, false
}

// ParseScheme decodes a custom scheme from YAML and validates it, so each
// project variant is a configuration value rather than new code.
func ParseScheme(data []byte) (Scheme, error) {
	var s Scheme
	if err := yaml.Unmarshal(data, &s); err != nil {
		return Scheme{}, eris.Wrap(err, "classifier: parse scheme yaml")
	}
	if err := s.Validate(); err != nil {
		return Scheme{}, err
	}
	return s, nil
}

// ClassifyAll applies the scheme to every distance record, merging in the
// tract's own attributes so schemes can reference demographic fields too.
// Tracts missing a required field come back in the excluded list as
// Indeterminate; everything else gets exactly one label.
func ClassifyAll(scheme Scheme, tracts []model.Tract, records []model.DistanceRecord) ([]model.Classification, []model.ExcludedTract, error) {
	if err := scheme.Validate(); err != nil {
		return nil, nil, err
	}

	byGEOID := make(map[string]*model.Tract, len(tracts))
	for i := range tracts {
		byGEOID[tracts[i].GEOID] = &tracts[i]
	}

	// Attribute-only schemes (working-poor, trajectory) run without a
	// distance pass; synthesize bare records so evaluation is uniform.
	// Bare records expose no distance fields, so a scheme that references
	// them excludes these tracts as Indeterminate rather than reading
	// zeros.
	if records == nil {
		records = make([]model.DistanceRecord, 0, len(tracts))
		for i := range tracts {
			records = append(records, model.DistanceRecord{GEOID: tracts[i].GEOID})
		}
	}

	var (
		results  []model.Classification
		excluded []model.ExcludedTract
	)

	for _, rec := range records {
		fields := rec.Fields()
		if t, ok := byGEOID[rec.GEOID]; ok {
			for k, v := range t.Attributes {
				if _, taken := fields[k]; !taken {
					fields[k] = v
				}
			}
		}

		if missing := scheme.MissingField(fields); missing != "" {
			excluded = append(excluded, model.ExcludedTract{
				GEOID:  rec.GEOID,
				Reason: model.LabelIndeterminate,
				Field:  missing,
			})
			continue
		}

		label, rule, err := scheme.Evaluate(fields)
		if err != nil {
			return nil, nil, err
		}

		results = append(results, model.Classification{
			GEOID:              rec.GEOID,
			Scheme:             scheme.Name,
			Label:              label,
			Matched:            rule,
			GroceryDistance:    rec.GroceryDistance,
			TransitDistance:    rec.TransitDistance,
			TransitStopsNearby: rec.TransitStopsNearby,
		})
	}

	sort.Slice(results, func(i, j int) bool { return results[i].GEOID < results[j].GEOID })
	sort.Slice(excluded, func(i, j int) bool { return excluded[i].GEOID < excluded[j].GEOID })

	zap.L().Info("classifier: tracts classified",
		zap.String("scheme", scheme.Name),
		zap.Int("classified", len(results)),
		zap.Int("indeterminate", len(excluded)),
	)

	return results, excluded, nil
}

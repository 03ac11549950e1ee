package model

// Classification is the derived access label for one tract in one run.
// The distances that produced the label travel with it for auditability.
type Classification struct {
	GEOID   string `json:"geoid" csv:"geoid"`
	Scheme  string `json:"scheme" csv:"scheme"`
	Label   string `json:"label" csv:"label"`
	Matched string `json:"matched_rule" csv:"matched_rule"` // name of the rule that fired

	GroceryDistance    float64 `json:"grocery_distance_miles" csv:"grocery_distance_miles"`
	TransitDistance    float64 `json:"transit_distance_miles" csv:"transit_distance_miles"`
	TransitStopsNearby int     `json:"transit_stops_nearby" csv:"transit_stops_nearby"`
}

// LabelIndeterminate marks a tract the classifier could not evaluate because
// a required field was missing. Indeterminate tracts are excluded from
// category counts and reported separately.
const LabelIndeterminate = "Indeterminate"

// VulnerabilityRow is the derived composite-index output for one tract.
type VulnerabilityRow struct {
	GEOID      string             `json:"geoid" csv:"geoid"`
	Raw        map[string]float64 `json:"raw_components" csv:"-"`
	Normalized map[string]float64 `json:"normalized_components" csv:"-"`
	Score      float64            `json:"score" csv:"score"`
	Quintile   int                `json:"quintile" csv:"quintile"` // 1 (lowest) .. 5 (highest)
}

// ExcludedTract records a tract dropped from an aggregate, with the reason
// ("Indeterminate" or "MissingComponent") and the field that caused it.
type ExcludedTract struct {
	GEOID  string `json:"geoid" csv:"geoid"`
	Reason string `json:"reason" csv:"reason"`
	Field  string `json:"field" csv:"field"`
}

// ReasonMissingComponent flags a tract excluded from the vulnerability index
// because a configured component was absent from its attributes.
const ReasonMissingComponent = "MissingComponent"

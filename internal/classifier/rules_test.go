package classifier

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSchemeMobilityEvaluate(t *testing.T) {
	scheme := SchemeMobility()
	require.NoError(t, scheme.Validate())

	tests := []struct {
		name     string
		grocery  float64
		transit  float64
		stops    float64
		expected string
	}{
		{
			name:    "far grocery is a food desert regardless of transit",
			grocery: 1.5, transit: 0.1, stops: 10,
			expected: LabelFoodDesert,
		},
		{
			name:    "exactly one mile is not a food desert",
			grocery: 1.0, transit: 0.1, stops: 5,
			expected: LabelFullAccess,
		},
		{
			name:    "far transit stop triggers mobility desert",
			grocery: 0.8, transit: 0.6, stops: 1,
			expected: LabelMobilityDesert,
		},
		{
			name:    "too few stops alone triggers mobility desert",
			grocery: 0.8, transit: 0.3, stops: 1,
			expected: LabelMobilityDesert,
		},
		{
			name:    "exactly half mile with exactly two stops is full access",
			grocery: 0.9, transit: 0.5, stops: 2,
			expected: LabelFullAccess,
		},
		{
			name:    "close grocery and good transit is full access",
			grocery: 0.2, transit: 0.1, stops: 8,
			expected: LabelFullAccess,
		},
		{
			name:    "grocery just past one mile is a food desert",
			grocery: 1.0001, transit: 0.1, stops: 8,
			expected: LabelFoodDesert,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fields := map[string]float64{
				"grocery_distance":     tt.grocery,
				"transit_distance":     tt.transit,
				"transit_stops_nearby": tt.stops,
			}
			label, _, err := scheme.Evaluate(fields)
			require.NoError(t, err)
			assert.Equal(t, tt.expected, label)

			// Determinism: re-applying the same rules yields the same label.
			again, _, err := scheme.Evaluate(fields)
			require.NoError(t, err)
			assert.Equal(t, label, again)
		})
	}
}

func TestSchemeWorkingPoorEvaluate(t *testing.T) {
	scheme := SchemeWorkingPoor()
	require.NoError(t, scheme.Validate())

	tests := []struct {
		name     string
		fulltime float64
		poverty  float64
		expected string
	}{
		{name: "high employment and elevated poverty", fulltime: 65, poverty: 12, expected: "Working Poor"},
		{name: "employment exactly at threshold counts", fulltime: 60, poverty: 10.5, expected: "Working Poor"},
		{name: "poverty exactly at threshold does not count", fulltime: 70, poverty: 10, expected: "Other"},
		{name: "low employment", fulltime: 45, poverty: 20, expected: "Other"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			label, _, err := scheme.Evaluate(map[string]float64{
				"fulltime_rate": tt.fulltime,
				"poverty_rate":  tt.poverty,
			})
			require.NoError(t, err)
			assert.Equal(t, tt.expected, label)
		})
	}
}

func TestSchemeTrajectoryEvaluate(t *testing.T) {
	scheme := SchemeTrajectory()

	tests := []struct {
		change   float64
		expected string
	}{
		{change: 2.5, expected: "Deteriorating"},
		{change: 1.0, expected: "Stable"},
		{change: 0.0, expected: "Stable"},
		{change: -1.0, expected: "Stable"},
		{change: -1.2, expected: "Improving"},
	}

	for _, tt := range tests {
		label, _, err := scheme.Evaluate(map[string]float64{"change_pp": tt.change})
		require.NoError(t, err)
		assert.Equal(t, tt.expected, label, "change_pp=%v", tt.change)
	}
}

func TestSchemeValidate(t *testing.T) {
	tests := []struct {
		name    string
		scheme  Scheme
		wantErr string
	}{
		{
			name:    "no rules",
			scheme:  Scheme{Name: "empty"},
			wantErr: "no rules",
		},
		{
			name: "unconditional rule not last",
			scheme: Scheme{Name: "bad", Rules: []Rule{
				{Name: "default", Label: "A"},
				{Name: "real", Label: "B", Conditions: []Condition{{Field: "x", Op: OpGT, Threshold: 1}}},
			}},
			wantErr: "unconditional",
		},
		{
			name: "invalid op",
			scheme: Scheme{Name: "bad", Rules: []Rule{
				{Name: "r", Label: "A", Conditions: []Condition{{Field: "x", Op: "eq", Threshold: 1}}},
			}},
			wantErr: "invalid op",
		},
		{
			name: "multi-condition rule needs a combinator",
			scheme: Scheme{Name: "bad", Rules: []Rule{
				{Name: "r", Label: "A", Conditions: []Condition{
					{Field: "x", Op: OpGT, Threshold: 1},
					{Field: "y", Op: OpLT, Threshold: 2},
				}},
			}},
			wantErr: "invalid combinator",
		},
		{
			name:   "builtin schemes are valid",
			scheme: SchemeTrajectory(),
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.scheme.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestEvaluateMissingField(t *testing.T) {
	scheme := SchemeMobility()
	_, _, err := scheme.Evaluate(map[string]float64{"grocery_distance": 0.5})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "missing field")
}

func TestRequiredFields(t *testing.T) {
	scheme := SchemeMobility()
	assert.Equal(t,
		[]string{"grocery_distance", "transit_distance", "transit_stops_nearby"},
		scheme.RequiredFields(),
	)
}

func TestParseScheme(t *testing.T) {
	data := []byte(`
name: custom
rules:
  - name: hot
    label: Hot
    conditions:
      - field: temp
        op: gt
        threshold: 90
  - name: default
    label: Mild
`)
	scheme, err := ParseScheme(data)
	require.NoError(t, err)
	assert.Equal(t, "custom", scheme.Name)

	label, rule, err := scheme.Evaluate(map[string]float64{"temp": 95})
	require.NoError(t, err)
	assert.Equal(t, "Hot", label)
	assert.Equal(t, "hot", rule)

	_, err = ParseScheme([]byte("rules: {not: a list}"))
	assert.Error(t, err)
}

package tracts

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cholette-research/tract-cli/internal/acquire"
)

func TestJoinDerivesRates(t *testing.T) {
	acs := []acquire.ACSRow{
		{
			GEOID: "06001010100",
			Name:  "Census Tract 101",
			Values: map[string]float64{
				"B01003_001E": 4000,
				"B17001_001E": 3900,
				"B17001_002E": 780,
				"B22003_001E": 1500,
				"B22003_002E": 300,
				"B08201_001E": 1500,
				"B08201_002E": 150,
				"B25003_001E": 1500,
				"B25003_003E": 900,
			},
		},
	}
	geoms := []acquire.TractGeometry{
		{GEOID: "06001010100", Latitude: 37.8, Longitude: -122.27, LandAreaSqMi: 2.0},
	}

	tracts, stats, err := Join(acs, geoms, nil)
	require.NoError(t, err)
	require.Len(t, tracts, 1)
	assert.Equal(t, 1, stats.Matched)

	tr := tracts[0]
	assert.Equal(t, "Census Tract 101", tr.Name)
	assert.InDelta(t, 37.8, tr.Latitude, 1e-9)
	assert.InDelta(t, 20.0, tr.Attributes["poverty_rate"], 1e-9)
	assert.InDelta(t, 20.0, tr.Attributes["snap_rate"], 1e-9)
	assert.InDelta(t, 10.0, tr.Attributes["pct_no_vehicle"], 1e-9)
	assert.InDelta(t, 60.0, tr.Attributes["renter_rate"], 1e-9)
	assert.InDelta(t, 4000.0, tr.Attributes["population"], 1e-9)
	assert.InDelta(t, 2000.0, tr.Attributes["pop_density"], 1e-9)
}

func TestJoinSkipsMissingComponents(t *testing.T) {
	acs := []acquire.ACSRow{
		{
			GEOID: "06001010100",
			Values: map[string]float64{
				"B17001_002E": 780, // numerator without denominator
				"B22003_001E": 0,   // zero denominator
				"B22003_002E": 10,
			},
		},
	}
	geoms := []acquire.TractGeometry{{GEOID: "06001010100", Latitude: 37.8, Longitude: -122.27}}

	tracts, _, err := Join(acs, geoms, nil)
	require.NoError(t, err)
	require.Len(t, tracts, 1)

	_, ok := tracts[0].Attributes["poverty_rate"]
	assert.False(t, ok)
	_, ok = tracts[0].Attributes["snap_rate"]
	assert.False(t, ok)
	_, ok = tracts[0].Attributes["pop_density"]
	assert.False(t, ok)
}

func TestJoinCountsUnmatched(t *testing.T) {
	acs := []acquire.ACSRow{
		{GEOID: "06001010100", Values: map[string]float64{}},
		{GEOID: "06001999900", Values: map[string]float64{}},
	}
	geoms := []acquire.TractGeometry{
		{GEOID: "06001010100", Latitude: 37.8, Longitude: -122.27},
		{GEOID: "06001888800", Latitude: 37.9, Longitude: -122.28},
	}

	tracts, stats, err := Join(acs, geoms, nil)
	require.NoError(t, err)
	assert.Len(t, tracts, 1)
	assert.Equal(t, 1, stats.Matched)
	assert.Equal(t, 1, stats.ACSOnly)
	assert.Equal(t, 1, stats.GeometryOnly)
}

func TestJoinSortsByGEOID(t *testing.T) {
	acs := []acquire.ACSRow{
		{GEOID: "06001020000", Values: map[string]float64{}},
		{GEOID: "06001010000", Values: map[string]float64{}},
	}
	geoms := []acquire.TractGeometry{
		{GEOID: "06001020000", Latitude: 1, Longitude: 1},
		{GEOID: "06001010000", Latitude: 2, Longitude: 2},
	}

	tracts, _, err := Join(acs, geoms, nil)
	require.NoError(t, err)
	require.Len(t, tracts, 2)
	assert.Equal(t, "06001010000", tracts[0].GEOID)
	assert.Equal(t, "06001020000", tracts[1].GEOID)
}

func TestJoinValidatesRateSpecs(t *testing.T) {
	tests := []struct {
		name  string
		rates []RateSpec
	}{
		{"missing name", []RateSpec{{Numerator: "a", Denominator: "b"}}},
		{"missing denominator", []RateSpec{{Name: "x", Numerator: "a"}}},
		{"duplicate", []RateSpec{
			{Name: "x", Numerator: "a", Denominator: "b"},
			{Name: "x", Numerator: "c", Denominator: "d"},
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, _, err := Join(nil, nil, tt.rates)
			assert.Error(t, err)
		})
	}
}

func TestVariables(t *testing.T) {
	vars := Variables([]RateSpec{
		{Name: "poverty_rate", Numerator: "B17001_002E", Denominator: "B17001_001E"},
		{Name: "snap_rate", Numerator: "B22003_002E", Denominator: "B17001_001E"}, // shared denominator
	})

	assert.Equal(t, []string{
		PopulationVariable,
		"B17001_002E", "B17001_001E", "B22003_002E",
	}, vars)
}

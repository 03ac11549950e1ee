package vulnindex

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cholette-research/tract-cli/internal/model"
)

func tract(geoid string, attrs map[string]float64) model.Tract {
	return model.Tract{GEOID: geoid, Attributes: attrs}
}

func twoComponents() []Component {
	return []Component{
		{Name: "poverty_rate", Weight: 0.6, Direction: DirectionHigher},
		{Name: "pop_density", Weight: 0.4, Direction: DirectionLower},
	}
}

func TestValidateComponents(t *testing.T) {
	tests := []struct {
		name       string
		components []Component
		wantErr    bool
	}{
		{name: "defaults are valid", components: DefaultComponents()},
		{name: "sum within tolerance", components: []Component{
			{Name: "a", Weight: 0.3333333}, {Name: "b", Weight: 0.6666667},
		}},
		{name: "empty", wantErr: true},
		{name: "sum off by too much", components: []Component{
			{Name: "a", Weight: 0.5}, {Name: "b", Weight: 0.4},
		}, wantErr: true},
		{name: "negative weight", components: []Component{
			{Name: "a", Weight: -0.2}, {Name: "b", Weight: 1.2},
		}, wantErr: true},
		{name: "duplicate component", components: []Component{
			{Name: "a", Weight: 0.5}, {Name: "a", Weight: 0.5},
		}, wantErr: true},
		{name: "bad direction", components: []Component{
			{Name: "a", Weight: 1.0, Direction: "sideways"},
		}, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateComponents(tt.components)
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrInvalidWeightConfiguration)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestBuildScoresAndBounds(t *testing.T) {
	tracts := []model.Tract{
		tract("t1", map[string]float64{"poverty_rate": 5, "pop_density": 12000}),
		tract("t2", map[string]float64{"poverty_rate": 20, "pop_density": 3000}),
		tract("t3", map[string]float64{"poverty_rate": 35, "pop_density": 500}),
	}

	rows, excluded, err := Build(tracts, twoComponents())
	require.NoError(t, err)
	require.Empty(t, excluded)
	require.Len(t, rows, 3)

	for _, r := range rows {
		assert.GreaterOrEqual(t, r.Score, 0.0, r.GEOID)
		assert.LessOrEqual(t, r.Score, 1.0, r.GEOID)
	}

	// t1: lowest poverty, highest density -> both components 0 -> score 0.
	// t3: highest poverty, lowest density -> both components 1 -> score 1.
	assert.InDelta(t, 0.0, rows[0].Score, 1e-12)
	assert.InDelta(t, 1.0, rows[2].Score, 1e-12)

	// Density is inverted: t3 has the lowest density, so its normalized
	// density contribution is 1.
	assert.InDelta(t, 1.0, rows[2].Normalized["pop_density"], 1e-12)
}

func TestBuildZeroVariance(t *testing.T) {
	// Identical poverty everywhere: that component contributes 0.5 to every
	// tract regardless of weight.
	tracts := []model.Tract{
		tract("t1", map[string]float64{"poverty_rate": 10, "pop_density": 100}),
		tract("t2", map[string]float64{"poverty_rate": 10, "pop_density": 900}),
	}

	rows, _, err := Build(tracts, twoComponents())
	require.NoError(t, err)
	require.Len(t, rows, 2)

	for _, r := range rows {
		assert.InDelta(t, 0.5, r.Normalized["poverty_rate"], 1e-12, r.GEOID)
	}
}

func TestBuildMissingComponent(t *testing.T) {
	tracts := []model.Tract{
		tract("t1", map[string]float64{"poverty_rate": 10, "pop_density": 100}),
		tract("t2", map[string]float64{"poverty_rate": 15}), // no density
	}

	rows, excluded, err := Build(tracts, twoComponents())
	require.NoError(t, err)

	require.Len(t, excluded, 1)
	assert.Equal(t, "t2", excluded[0].GEOID)
	assert.Equal(t, model.ReasonMissingComponent, excluded[0].Reason)
	assert.Equal(t, "pop_density", excluded[0].Field)

	// Excluded tracts take no part in normalization or ranking.
	require.Len(t, rows, 1)
	assert.Equal(t, "t1", rows[0].GEOID)
}

func TestBuildInvalidWeightsAbortBeforeOutput(t *testing.T) {
	tracts := []model.Tract{tract("t1", map[string]float64{"a": 1})}
	rows, excluded, err := Build(tracts, []Component{{Name: "a", Weight: 0.7}})
	assert.ErrorIs(t, err, ErrInvalidWeightConfiguration)
	assert.Nil(t, rows)
	assert.Nil(t, excluded)
}

func TestQuintileSizesAndCoverage(t *testing.T) {
	for _, n := range []int{5, 9, 10, 23, 100} {
		t.Run(fmt.Sprintf("n=%d", n), func(t *testing.T) {
			var tracts []model.Tract
			for i := 0; i < n; i++ {
				tracts = append(tracts, tract(
					fmt.Sprintf("t%04d", i),
					map[string]float64{"poverty_rate": float64(i), "pop_density": float64(1000 - i)},
				))
			}

			rows, _, err := Build(tracts, twoComponents())
			require.NoError(t, err)
			require.Len(t, rows, n)

			sizes := make(map[int]int)
			seen := make(map[string]bool)
			for _, r := range rows {
				require.GreaterOrEqual(t, r.Quintile, 1)
				require.LessOrEqual(t, r.Quintile, 5)
				sizes[r.Quintile]++
				require.False(t, seen[r.GEOID])
				seen[r.GEOID] = true
			}

			// Each group within 1 of n/5, earlier groups absorb the remainder.
			base, rem := n/5, n%5
			for q := 1; q <= 5; q++ {
				want := base
				if q <= rem {
					want++
				}
				assert.Equal(t, want, sizes[q], "quintile %d", q)
			}
		})
	}
}

func TestQuintileTieBreakByGEOID(t *testing.T) {
	// All scores identical: ranking falls back to GEOID ascending, so the
	// lexicographically first tracts land in Q1.
	var tracts []model.Tract
	for i := 0; i < 10; i++ {
		tracts = append(tracts, tract(
			fmt.Sprintf("t%02d", i),
			map[string]float64{"poverty_rate": 10, "pop_density": 500},
		))
	}

	rows, _, err := Build(tracts, twoComponents())
	require.NoError(t, err)

	// Rows come back sorted by GEOID; with a full tie the quintile sequence
	// must be 1,1,2,2,3,3,4,4,5,5.
	want := []int{1, 1, 2, 2, 3, 3, 4, 4, 5, 5}
	for i, r := range rows {
		assert.Equal(t, want[i], r.Quintile, r.GEOID)
	}
}

func TestBuildDeterminism(t *testing.T) {
	var tracts []model.Tract
	for i := 0; i < 37; i++ {
		tracts = append(tracts, tract(
			fmt.Sprintf("t%03d", i),
			map[string]float64{"poverty_rate": float64(i * 7 % 31), "pop_density": float64(i * 13 % 29)},
		))
	}

	first, _, err := Build(tracts, twoComponents())
	require.NoError(t, err)
	second, _, err := Build(tracts, twoComponents())
	require.NoError(t, err)
	assert.Equal(t, first, second)
}

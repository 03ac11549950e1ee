//go:build !integration

package main

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/cholette-research/tract-cli/internal/model"
)

func TestTractBounds(t *testing.T) {
	rows := []model.Tract{
		{GEOID: "06001400100", Latitude: 37.80, Longitude: -122.25},
		{GEOID: "06075010100", Latitude: 37.78, Longitude: -122.41},
		{GEOID: "06013301000", Latitude: 37.95, Longitude: -122.35},
	}

	b := tractBounds(rows)

	assert.InDelta(t, 37.28, b.MinLat, 1e-9)
	assert.InDelta(t, 38.45, b.MaxLat, 1e-9)
	assert.InDelta(t, -122.91, b.MinLon, 1e-9)
	assert.InDelta(t, -121.75, b.MaxLon, 1e-9)
}

func TestSplitAndTrim(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want []string
	}{
		{name: "empty", in: "", want: nil},
		{name: "single", in: "075", want: []string{"075"}},
		{name: "spaces and blanks", in: " 001, 075,, 013 ", want: []string{"001", "075", "013"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, splitAndTrim(tt.in))
		})
	}
}

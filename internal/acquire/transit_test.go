package acquire

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cholette-research/tract-cli/internal/model"
)

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoadTransitStops(t *testing.T) {
	path := writeFile(t, "stops.txt", `stop_id,stop_name,stop_lat,stop_lon,location_type
s2,Mission & 16th,37.76500,-122.41960,0
s1,Mission & 16th NB,37.76500,-122.41960,
station1,16th St Station,37.76510,-122.41970,1
s3,Valencia & 20th,37.75880,-122.42120,0
s4,No Coords,0,0,0
`)

	stops, err := LoadTransitStops(path, BoundingBox{})
	require.NoError(t, err)
	require.Len(t, stops, 2)

	// Duplicate coordinate collapsed to the lowest stop_id; station and
	// zero-coordinate rows dropped.
	assert.Equal(t, "s1", stops[0].ID)
	assert.Equal(t, model.CategoryTransit, stops[0].Category)
	assert.Equal(t, "gtfs", stops[0].Source)
	assert.Equal(t, "s3", stops[1].ID)
}

func TestLoadTransitStopsBoundingBox(t *testing.T) {
	path := writeFile(t, "stops.txt", `stop_id,stop_name,stop_lat,stop_lon
in1,Inside,37.76,-122.42
out1,Outside,34.05,-118.24
`)

	stops, err := LoadTransitStops(path, BoundingBox{
		MinLat: 37.0, MaxLat: 38.0, MinLon: -123.0, MaxLon: -122.0,
	})
	require.NoError(t, err)
	require.Len(t, stops, 1)
	assert.Equal(t, "in1", stops[0].ID)
}

func TestLoadTransitStopsMissingFile(t *testing.T) {
	_, err := LoadTransitStops(filepath.Join(t.TempDir(), "nope.txt"), BoundingBox{})
	assert.Error(t, err)
}

func TestLoadSNAPRetailers(t *testing.T) {
	path := writeFile(t, "snap.csv", `Record ID,Store Name,Store Type,Latitude,Longitude,State
1,Safeway 1507,Supermarket,37.76440,-122.42110,CA
2,Corner Mart,Convenience Store,37.76000,-122.42000,CA
3,Costco 147,Super Store,37.74850,-122.39270,CA
4,Out Of State Market,Supermarket,45.52000,-122.68000,OR
5,No Coords Grocer,Medium Grocery Store,,,CA
`)

	stores, err := LoadSNAPRetailers(path, "CA", BoundingBox{})
	require.NoError(t, err)
	require.Len(t, stores, 2)

	assert.Equal(t, "1", stores[0].ID)
	assert.Equal(t, "Safeway 1507", stores[0].Name)
	assert.Equal(t, "Supermarket", stores[0].Category)
	assert.Equal(t, "USDA FNS", stores[0].Source)
	assert.Equal(t, "Costco 147", stores[1].Name)
}

func TestLoadSNAPRetailersGeneratedIDs(t *testing.T) {
	path := writeFile(t, "snap.csv", `Store Name,Store Type,Latitude,Longitude
Anon Grocer,Large Grocery Store,37.76,-122.42
`)

	stores, err := LoadSNAPRetailers(path, "", BoundingBox{})
	require.NoError(t, err)
	require.Len(t, stores, 1)
	assert.Equal(t, "snap-000001", stores[0].ID)
}

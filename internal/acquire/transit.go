package acquire

import (
	"encoding/csv"
	"fmt"
	"io"
	"os"

	"github.com/jszwec/csvutil"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/cholette-research/tract-cli/internal/model"
)

// BoundingBox filters points by coordinate. Zero value means no filter.
type BoundingBox struct {
	MinLat, MaxLat float64
	MinLon, MaxLon float64
}

func (b BoundingBox) isZero() bool {
	return b.MinLat == 0 && b.MaxLat == 0 && b.MinLon == 0 && b.MaxLon == 0
}

func (b BoundingBox) contains(lat, lon float64) bool {
	if b.isZero() {
		return true
	}
	return lat >= b.MinLat && lat <= b.MaxLat && lon >= b.MinLon && lon <= b.MaxLon
}

// gtfsStop mirrors the columns of a GTFS stops.txt file.
type gtfsStop struct {
	StopID       string  `csv:"stop_id"`
	StopName     string  `csv:"stop_name"`
	StopLat      float64 `csv:"stop_lat"`
	StopLon      float64 `csv:"stop_lon"`
	LocationType string  `csv:"location_type,omitempty"`
}

// LoadTransitStops reads a GTFS stops.txt file and returns boarding stops as
// points of interest. Stations and entrances (location_type other than 0) are
// skipped; stops sharing a coordinate to five decimal places are collapsed to
// the one with the lowest stop_id.
func LoadTransitStops(path string, bbox BoundingBox) ([]model.PointOfInterest, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, eris.Wrapf(err, "acquire: open transit stops %s", path)
	}
	defer func() { _ = f.Close() }()

	cr := csv.NewReader(f)
	cr.FieldsPerRecord = -1
	dec, err := csvutil.NewDecoder(cr)
	if err != nil {
		return nil, eris.Wrapf(err, "acquire: read transit header %s", path)
	}

	seen := make(map[string]int) // coordinate key -> index into stops
	var stops []model.PointOfInterest
	var skipped, collapsed int

	for {
		var rec gtfsStop
		if err := dec.Decode(&rec); err == io.EOF {
			break
		} else if err != nil {
			return nil, eris.Wrapf(err, "acquire: decode transit stop in %s", path)
		}
		if rec.LocationType != "" && rec.LocationType != "0" {
			skipped++
			continue
		}
		if rec.StopLat == 0 && rec.StopLon == 0 {
			skipped++
			continue
		}
		if !bbox.contains(rec.StopLat, rec.StopLon) {
			skipped++
			continue
		}

		key := fmt.Sprintf("%.5f,%.5f", rec.StopLat, rec.StopLon)
		if i, dup := seen[key]; dup {
			collapsed++
			if rec.StopID < stops[i].ID {
				stops[i].ID = rec.StopID
				stops[i].Name = rec.StopName
			}
			continue
		}
		seen[key] = len(stops)
		stops = append(stops, model.PointOfInterest{
			ID:        rec.StopID,
			Name:      rec.StopName,
			Category:  model.CategoryTransit,
			Source:    "gtfs",
			Latitude:  rec.StopLat,
			Longitude: rec.StopLon,
		})
	}

	zap.L().Info("loaded transit stops",
		zap.String("path", path),
		zap.Int("stops", len(stops)),
		zap.Int("collapsed", collapsed),
		zap.Int("skipped", skipped))
	return stops, nil
}

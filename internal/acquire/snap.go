package acquire

import (
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/jszwec/csvutil"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/cholette-research/tract-cli/internal/model"
)

// Store types counted as full grocery access. Convenience stores,
// combination grocery/other, and specialty stores are excluded.
var groceryStoreTypes = map[string]bool{
	"Supermarket":          true,
	"Super Store":          true,
	"Large Grocery Store":  true,
	"Medium Grocery Store": true,
}

// snapRetailer mirrors the columns of the USDA FNS SNAP retailer extract.
type snapRetailer struct {
	RecordID  string `csv:"Record ID,omitempty"`
	StoreName string `csv:"Store Name"`
	StoreType string `csv:"Store Type"`
	Latitude  string `csv:"Latitude"`
	Longitude string `csv:"Longitude"`
	State     string `csv:"State,omitempty"`
}

// LoadSNAPRetailers reads a USDA SNAP retailer CSV and returns grocery-class
// stores as points of interest. stateAbbr narrows to one state when the
// extract is national; empty keeps everything.
func LoadSNAPRetailers(path, stateAbbr string, bbox BoundingBox) ([]model.PointOfInterest, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, eris.Wrapf(err, "acquire: open SNAP retailers %s", path)
	}
	defer func() { _ = f.Close() }()

	cr := csv.NewReader(f)
	cr.FieldsPerRecord = -1
	dec, err := csvutil.NewDecoder(cr)
	if err != nil {
		return nil, eris.Wrapf(err, "acquire: read SNAP header %s", path)
	}

	var stores []model.PointOfInterest
	var skipped int
	seq := 0

	for {
		var rec snapRetailer
		if err := dec.Decode(&rec); err == io.EOF {
			break
		} else if err != nil {
			return nil, eris.Wrapf(err, "acquire: decode SNAP retailer in %s", path)
		}
		seq++

		if !groceryStoreTypes[strings.TrimSpace(rec.StoreType)] {
			skipped++
			continue
		}
		if stateAbbr != "" && !strings.EqualFold(strings.TrimSpace(rec.State), stateAbbr) {
			skipped++
			continue
		}

		lat, errLat := strconv.ParseFloat(strings.TrimSpace(rec.Latitude), 64)
		lon, errLon := strconv.ParseFloat(strings.TrimSpace(rec.Longitude), 64)
		if errLat != nil || errLon != nil || (lat == 0 && lon == 0) {
			skipped++
			continue
		}
		if !bbox.contains(lat, lon) {
			skipped++
			continue
		}

		id := strings.TrimSpace(rec.RecordID)
		if id == "" {
			id = fmt.Sprintf("snap-%06d", seq)
		}
		stores = append(stores, model.PointOfInterest{
			ID:        id,
			Name:      strings.TrimSpace(rec.StoreName),
			Category:  strings.TrimSpace(rec.StoreType),
			Source:    "USDA FNS",
			Latitude:  lat,
			Longitude: lon,
		})
	}

	zap.L().Info("loaded SNAP retailers",
		zap.String("path", path),
		zap.Int("stores", len(stores)),
		zap.Int("skipped", skipped))
	return stores, nil
}

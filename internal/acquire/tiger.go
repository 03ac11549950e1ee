package acquire

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	shp "github.com/jonas-p/go-shp"
	"github.com/rotisserie/eris"
	"github.com/twpayne/go-geom"
	"github.com/twpayne/go-geom/xy"
	"go.uber.org/zap"

	"github.com/cholette-research/tract-cli/internal/fetcher"
)

// TigerBaseURL is the TIGER/Line download root on the Census file mirror.
const TigerBaseURL = "https://www2.census.gov/geo/tiger"

// TractGeometry is one tract record from a TIGER/Line tract shapefile.
type TractGeometry struct {
	GEOID     string
	Name      string
	Latitude  float64
	Longitude float64
	// LandAreaSqMi is ALAND converted from square meters.
	LandAreaSqMi float64
}

// TractShapefileURL returns the download URL for one state's tract shapefile.
func TractShapefileURL(year int, stateFIPS string) string {
	return fmt.Sprintf("%s/TIGER%d/TRACT/tl_%d_%s_tract.zip", TigerBaseURL, year, year, stateFIPS)
}

// TractShapefileFTPPath returns the server path of one state's tract
// shapefile on the Census FTP mirror (fetcher.DefaultFTPHost).
func TractShapefileFTPPath(year int, stateFIPS string) string {
	return fmt.Sprintf("/geo/tiger/TIGER%d/TRACT/tl_%d_%s_tract.zip", year, year, stateFIPS)
}

// DownloadTracts fetches and extracts a state tract shapefile, returning the
// path to the .shp file. src is the HTTPS URL or FTP server path matching
// the fetcher; empty selects the HTTPS mirror. An already-extracted
// shapefile is reused.
func DownloadTracts(ctx context.Context, fetch fetcher.Fetcher, src string, year int, stateFIPS, destDir string) (string, error) {
	log := zap.L().With(zap.String("component", "acquire.tiger"))

	zipName := fmt.Sprintf("tl_%d_%s_tract.zip", year, stateFIPS)
	zipPath := filepath.Join(destDir, zipName)
	extractDir := filepath.Join(destDir, strings.TrimSuffix(zipName, ".zip"))

	if shpPath, err := findFileByExt(extractDir, ".shp"); err == nil {
		log.Debug("shapefile already extracted", zap.String("path", shpPath))
		return shpPath, nil
	}

	if src == "" {
		src = TractShapefileURL(year, stateFIPS)
	}

	if info, err := os.Stat(zipPath); err != nil || info.Size() == 0 {
		log.Info("downloading TIGER tract shapefile",
			zap.Int("year", year),
			zap.String("state", stateFIPS),
			zap.String("source", src))
		if _, err := fetch.FetchToFile(ctx, src, zipPath); err != nil {
			return "", eris.Wrap(err, "acquire: download tract shapefile")
		}
	}

	if _, err := fetcher.ExtractZIPFile(zipPath, extractDir); err != nil {
		return "", eris.Wrap(err, "acquire: extract tract shapefile")
	}
	return findFileByExt(extractDir, ".shp")
}

const sqMetersPerSqMile = 2589988.110336

// LoadTractGeometry reads a TIGER tract shapefile and returns one record per
// tract. The interior point attributes (INTPTLAT, INTPTLON) give the
// representative coordinate; when absent the polygon centroid is computed
// from the geometry instead.
func LoadTractGeometry(shpPath string) ([]TractGeometry, error) {
	reader, err := shp.Open(shpPath)
	if err != nil {
		return nil, eris.Wrapf(err, "acquire: open shapefile %s", shpPath)
	}
	defer func() { _ = reader.Close() }()

	fields := reader.Fields()
	fieldIdx := make(map[string]int, len(fields))
	for i, f := range fields {
		name := strings.TrimRight(f.String(), "\x00")
		fieldIdx[strings.ToUpper(name)] = i
	}
	for _, required := range []string{"GEOID"} {
		if _, ok := fieldIdx[required]; !ok {
			return nil, eris.Errorf("acquire: shapefile missing %s field", required)
		}
	}

	attr := func(idx int) string {
		return strings.TrimSpace(strings.TrimRight(reader.Attribute(idx), "\x00"))
	}

	var tracts []TractGeometry
	var skipped int
	for reader.Next() {
		_, shape := reader.Shape()

		t := TractGeometry{GEOID: attr(fieldIdx["GEOID"])}
		if t.GEOID == "" {
			skipped++
			continue
		}
		if i, ok := fieldIdx["NAMELSAD"]; ok {
			t.Name = attr(i)
		}
		if i, ok := fieldIdx["ALAND"]; ok {
			if m2, err := strconv.ParseFloat(attr(i), 64); err == nil {
				t.LandAreaSqMi = m2 / sqMetersPerSqMile
			}
		}

		lat, lon, ok := interiorPoint(fieldIdx, attr)
		if !ok {
			lat, lon, ok = polygonCentroid(shape)
		}
		if !ok {
			skipped++
			continue
		}
		t.Latitude, t.Longitude = lat, lon
		tracts = append(tracts, t)
	}

	if skipped > 0 {
		zap.L().Debug("skipped shapefile records",
			zap.String("path", shpPath),
			zap.Int("skipped", skipped))
	}
	return tracts, nil
}

func interiorPoint(fieldIdx map[string]int, attr func(int) string) (lat, lon float64, ok bool) {
	latIdx, latOK := fieldIdx["INTPTLAT"]
	lonIdx, lonOK := fieldIdx["INTPTLON"]
	if !latOK || !lonOK {
		return 0, 0, false
	}
	// TIGER prefixes positive values with "+".
	lat, errLat := strconv.ParseFloat(strings.TrimPrefix(attr(latIdx), "+"), 64)
	lon, errLon := strconv.ParseFloat(strings.TrimPrefix(attr(lonIdx), "+"), 64)
	if errLat != nil || errLon != nil || (lat == 0 && lon == 0) {
		return 0, 0, false
	}
	return lat, lon, true
}

// polygonCentroid computes the area-weighted centroid of the tract footprint.
func polygonCentroid(shape shp.Shape) (lat, lon float64, ok bool) {
	p, isPoly := shape.(*shp.Polygon)
	if !isPoly || p.NumParts == 0 || len(p.Points) == 0 {
		return 0, 0, false
	}

	mp := geom.NewMultiPolygon(geom.XY)
	for i := int32(0); i < p.NumParts; i++ {
		start := p.Parts[i]
		end := int32(len(p.Points))
		if i+1 < p.NumParts {
			end = p.Parts[i+1]
		}
		flat := make([]float64, 0, (end-start)*2)
		for j := start; j < end; j++ {
			flat = append(flat, p.Points[j].X, p.Points[j].Y)
		}
		ring := geom.NewLinearRingFlat(geom.XY, flat)
		poly := geom.NewPolygon(geom.XY)
		if err := poly.Push(ring); err != nil {
			continue
		}
		if err := mp.Push(poly); err != nil {
			continue
		}
	}
	if mp.NumPolygons() == 0 {
		return 0, 0, false
	}

	c, err := xy.Centroid(mp)
	if err != nil || len(c) < 2 {
		return 0, 0, false
	}
	return c[1], c[0], true
}

func findFileByExt(dir, ext string) (string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return "", eris.Wrapf(err, "acquire: read %s", dir)
	}
	for _, e := range entries {
		if !e.IsDir() && strings.HasSuffix(strings.ToLower(e.Name()), ext) {
			return filepath.Join(dir, e.Name()), nil
		}
	}
	return "", eris.Errorf("acquire: no %s file in %s", ext, dir)
}

// Package report aggregates classification and index output into statewide,
// regional, and demographic summaries, and writes them as CSV or XLSX.
package report

import (
	"sort"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/cholette-research/tract-cli/internal/model"
)

// DefaultCompareAttrs are the tract attributes summarized per category.
var DefaultCompareAttrs = []string{"poverty_rate", "snap_rate", "pct_no_vehicle", "renter_rate", "pop_density"}

// Input carries everything a report draws from. Regions maps a display name
// to the county FIPS codes it covers; tracts in unlisted counties fall under
// "Other".
type Input struct {
	Scheme          string
	Tracts          []model.Tract
	Classifications []model.Classification
	IndexRows       []model.VulnerabilityRow
	Excluded        []model.ExcludedTract
	Regions         map[string][]string
	CompareAttrs    []string
}

// LabelCount is one row of the statewide summary.
type LabelCount struct {
	Label string  `csv:"label"`
	Count int     `csv:"count"`
	Share float64 `csv:"share_pct"`
}

// RegionRow is one region's count for one label.
type RegionRow struct {
	Region string  `csv:"region"`
	Label  string  `csv:"label"`
	Count  int     `csv:"count"`
	Share  float64 `csv:"share_pct"` // within the region
}

// DemographicRow summarizes one attribute within one label group.
type DemographicRow struct {
	Label     string  `csv:"label"`
	Attribute string  `csv:"attribute"`
	Tracts    int     `csv:"tracts"`
	Mean      float64 `csv:"mean"`
	Median    float64 `csv:"median"`
	StdDev    float64 `csv:"std_dev"`
}

// TransitRow totals population per label, with the population living in
// households without a vehicle estimated from pct_no_vehicle.
type TransitRow struct {
	Label               string  `csv:"label"`
	Population          float64 `csv:"population"`
	NoVehiclePopulation float64 `csv:"no_vehicle_population"`
}

// CrossTabRow counts tracts at a label x vulnerability quintile cell.
type CrossTabRow struct {
	Label    string `csv:"label"`
	Quintile int    `csv:"quintile"`
	Count    int    `csv:"count"`
}

// Report is the assembled output.
type Report struct {
	Scheme       string
	Generated    time.Time
	Statewide    []LabelCount
	Regional     []RegionRow
	Demographics []DemographicRow
	Transit      []TransitRow
	CrossTab     []CrossTabRow
	Excluded     int
}

// Build assembles a report. All sections are sorted so output is
// deterministic across runs.
func Build(in Input) (*Report, error) {
	if len(in.Classifications) == 0 {
		return nil, eris.New("report: no classifications to report on")
	}
	attrs := in.CompareAttrs
	if len(attrs) == 0 {
		attrs = DefaultCompareAttrs
	}

	tractsByID := make(map[string]*model.Tract, len(in.Tracts))
	for i := range in.Tracts {
		tractsByID[in.Tracts[i].GEOID] = &in.Tracts[i]
	}
	countyRegion := invertRegions(in.Regions)

	r := &Report{
		Scheme:    in.Scheme,
		Generated: time.Now().UTC(),
		Excluded:  len(in.Excluded),
	}

	r.Statewide = statewide(in.Classifications)
	r.Regional = regional(in.Classifications, countyRegion)
	r.Demographics = demographics(in.Classifications, tractsByID, attrs)
	r.Transit = transitDependent(in.Classifications, tractsByID)
	r.CrossTab = crossTab(in.Classifications, in.IndexRows)

	zap.L().Info("built report",
		zap.String("scheme", in.Scheme),
		zap.Int("tracts", len(in.Classifications)),
		zap.Int("excluded", r.Excluded))
	return r, nil
}

func statewide(cls []model.Classification) []LabelCount {
	counts := make(map[string]int)
	for _, c := range cls {
		counts[c.Label]++
	}
	out := make([]LabelCount, 0, len(counts))
	for label, n := range counts {
		out = append(out, LabelCount{
			Label: label,
			Count: n,
			Share: float64(n) / float64(len(cls)) * 100,
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Label < out[j].Label })
	return out
}

func invertRegions(regions map[string][]string) map[string]string {
	out := make(map[string]string)
	for name, counties := range regions {
		for _, fips := range counties {
			out[fips] = name
		}
	}
	return out
}

func regionFor(geoid string, countyRegion map[string]string) string {
	if len(geoid) >= 5 {
		if name, ok := countyRegion[geoid[2:5]]; ok {
			return name
		}
	}
	return "Other"
}

func regional(cls []model.Classification, countyRegion map[string]string) []RegionRow {
	type key struct{ region, label string }
	counts := make(map[key]int)
	regionTotals := make(map[string]int)
	for _, c := range cls {
		region := regionFor(c.GEOID, countyRegion)
		counts[key{region, c.Label}]++
		regionTotals[region]++
	}

	out := make([]RegionRow, 0, len(counts))
	for k, n := range counts {
		out = append(out, RegionRow{
			Region: k.region,
			Label:  k.label,
			Count:  n,
			Share:  float64(n) / float64(regionTotals[k.region]) * 100,
		})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Region != out[j].Region {
			return out[i].Region < out[j].Region
		}
		return out[i].Label < out[j].Label
	})
	return out
}

func demographics(cls []model.Classification, tracts map[string]*model.Tract, attrs []string) []DemographicRow {
	byLabel := make(map[string][]*model.Tract)
	for _, c := range cls {
		if t, ok := tracts[c.GEOID]; ok {
			byLabel[c.Label] = append(byLabel[c.Label], t)
		}
	}

	labels := make([]string, 0, len(byLabel))
	for label := range byLabel {
		labels = append(labels, label)
	}
	sort.Strings(labels)

	var out []DemographicRow
	for _, label := range labels {
		for _, attr := range attrs {
			var values []float64
			for _, t := range byLabel[label] {
				if v, ok := t.Attr(attr); ok {
					values = append(values, v)
				}
			}
			if len(values) == 0 {
				continue
			}
			out = append(out, DemographicRow{
				Label:     label,
				Attribute: attr,
				Tracts:    len(values),
				Mean:      mean(values),
				Median:    median(values),
				StdDev:    stdDev(values),
			})
		}
	}
	return out
}

func transitDependent(cls []model.Classification, tracts map[string]*model.Tract) []TransitRow {
	totals := make(map[string]*TransitRow)
	for _, c := range cls {
		t, ok := tracts[c.GEOID]
		if !ok {
			continue
		}
		row := totals[c.Label]
		if row == nil {
			row = &TransitRow{Label: c.Label}
			totals[c.Label] = row
		}
		pop, hasPop := t.Attr("population")
		if !hasPop {
			continue
		}
		row.Population += pop
		if pct, ok := t.Attr("pct_no_vehicle"); ok {
			row.NoVehiclePopulation += pop * pct / 100
		}
	}

	out := make([]TransitRow, 0, len(totals))
	for _, row := range totals {
		out = append(out, *row)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Label < out[j].Label })
	return out
}

func crossTab(cls []model.Classification, indexRows []model.VulnerabilityRow) []CrossTabRow {
	quintiles := make(map[string]int, len(indexRows))
	for _, r := range indexRows {
		quintiles[r.GEOID] = r.Quintile
	}

	type key struct {
		label    string
		quintile int
	}
	counts := make(map[key]int)
	for _, c := range cls {
		q, ok := quintiles[c.GEOID]
		if !ok {
			continue
		}
		counts[key{c.Label, q}]++
	}

	out := make([]CrossTabRow, 0, len(counts))
	for k, n := range counts {
		out = append(out, CrossTabRow{Label: k.label, Quintile: k.quintile, Count: n})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Label != out[j].Label {
			return out[i].Label < out[j].Label
		}
		return out[i].Quintile < out[j].Quintile
	})
	return out
}

// Package acquire pulls source datasets: ACS estimates from the Census API,
// TIGER/Line tract geometry, GTFS transit stops, and SNAP retailer locations.
package acquire

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/cholette-research/tract-cli/internal/fetcher"
)

// ACS variables pulled per tract. Denominator first, numerator second where
// the pair derives a rate downstream.
var DefaultACSVariables = []string{
	"B01003_001E", // total population
	"B17001_001E", // poverty universe
	"B17001_002E", // below poverty
	"B22003_001E", // SNAP universe (households)
	"B22003_002E", // households receiving SNAP
	"B08201_001E", // vehicle universe (households)
	"B08201_002E", // households with no vehicle
	"B25003_001E", // tenure universe (occupied units)
	"B25003_003E", // renter occupied
}

// ACSRow is one tract's worth of API estimates.
type ACSRow struct {
	GEOID  string
	Name   string
	Values map[string]float64
}

// ACSOptions configures an ACS pull.
type ACSOptions struct {
	BaseURL      string // default https://api.census.gov/data
	Year         int
	Dataset      string // e.g. "acs/acs5"
	APIKey       string
	StateFIPS    string
	CountyFIPS   []string // empty means every county in the state
	Variables    []string // default DefaultACSVariables
	CacheDir     string   // per-county responses cached here for resume
	ForceRefetch bool
}

// ACSClient pulls tract-level estimates from api.census.gov.
type ACSClient struct {
	fetch fetcher.Fetcher
	opts  ACSOptions
	log   *zap.Logger
}

// NewACSClient builds a client. The fetcher supplies rate limiting and retry.
func NewACSClient(fetch fetcher.Fetcher, opts ACSOptions) (*ACSClient, error) {
	if opts.BaseURL == "" {
		opts.BaseURL = "https://api.census.gov/data"
	}
	if opts.Dataset == "" {
		opts.Dataset = "acs/acs5"
	}
	if len(opts.Variables) == 0 {
		opts.Variables = DefaultACSVariables
	}
	if opts.Year <= 0 {
		return nil, eris.New("acquire: ACS year is required")
	}
	if opts.StateFIPS == "" {
		return nil, eris.New("acquire: state FIPS is required")
	}
	return &ACSClient{
		fetch: fetch,
		opts:  opts,
		log:   zap.L().With(zap.String("component", "acquire.acs")),
	}, nil
}

// FetchState pulls every requested county and returns the merged rows sorted
// by GEOID. Counties already cached on disk are not refetched, so an
// interrupted pull resumes where it stopped.
func (c *ACSClient) FetchState(ctx context.Context) ([]ACSRow, error) {
	counties := c.opts.CountyFIPS
	if len(counties) == 0 {
		counties = []string{"*"}
	}

	var rows []ACSRow
	for _, county := range counties {
		countyRows, err := c.fetchCounty(ctx, county)
		if err != nil {
			return nil, err
		}
		rows = append(rows, countyRows...)
	}

	sort.Slice(rows, func(i, j int) bool { return rows[i].GEOID < rows[j].GEOID })
	c.log.Info("ACS pull complete",
		zap.Int("tracts", len(rows)),
		zap.Int("counties", len(counties)),
		zap.Int("year", c.opts.Year))
	return rows, nil
}

func (c *ACSClient) fetchCounty(ctx context.Context, county string) ([]ACSRow, error) {
	var data []byte
	cachePath := c.cachePath(county)

	if cachePath != "" && !c.opts.ForceRefetch {
		if cached, err := os.ReadFile(cachePath); err == nil && len(cached) > 0 {
			c.log.Debug("using cached county response", zap.String("county", county))
			data = cached
		}
	}

	if data == nil {
		var err error
		data, err = c.fetch.Fetch(ctx, c.queryURL(county))
		if err != nil {
			return nil, eris.Wrapf(err, "acquire: fetch ACS county %s", county)
		}
		if cachePath != "" {
			if err := os.MkdirAll(filepath.Dir(cachePath), 0o755); err == nil {
				_ = os.WriteFile(cachePath, data, 0o644)
			}
		}
	}

	rows, err := ParseACSResponse(data)
	if err != nil {
		return nil, eris.Wrapf(err, "acquire: parse ACS county %s", county)
	}
	return rows, nil
}

func (c *ACSClient) queryURL(county string) string {
	params := url.Values{}
	params.Set("get", "NAME,"+strings.Join(c.opts.Variables, ","))
	params.Set("for", "tract:*")
	params.Set("in", fmt.Sprintf("state:%s county:%s", c.opts.StateFIPS, county))
	if c.opts.APIKey != "" {
		params.Set("key", c.opts.APIKey)
	}
	base := fmt.Sprintf("%s/%d/%s", c.opts.BaseURL, c.opts.Year, c.opts.Dataset)
	return fetcher.BuildQueryURL(base, params)
}

func (c *ACSClient) cachePath(county string) string {
	if c.opts.CacheDir == "" {
		return ""
	}
	name := fmt.Sprintf("acs_%d_%s_%s.json", c.opts.Year, c.opts.StateFIPS, county)
	return filepath.Join(c.opts.CacheDir, strings.ReplaceAll(name, "*", "all"))
}

// ParseACSResponse decodes the Census API's array-of-arrays JSON. The first
// row is the header. Null and sentinel estimates (the API uses large negative
// values for suppressed cells) are dropped from Values rather than zeroed.
func ParseACSResponse(data []byte) ([]ACSRow, error) {
	var raw [][]*string
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, eris.Wrap(err, "acquire: decode ACS response")
	}
	if len(raw) < 1 {
		return nil, eris.New("acquire: empty ACS response")
	}

	header := raw[0]
	col := make(map[string]int, len(header))
	for i, h := range header {
		if h != nil {
			col[*h] = i
		}
	}
	for _, required := range []string{"NAME", "state", "county", "tract"} {
		if _, ok := col[required]; !ok {
			return nil, eris.Errorf("acquire: ACS response missing column %s", required)
		}
	}

	rows := make([]ACSRow, 0, len(raw)-1)
	for _, rec := range raw[1:] {
		if len(rec) != len(header) {
			return nil, eris.Errorf("acquire: ragged ACS row (%d cols, want %d)", len(rec), len(header))
		}
		geoid := deref(rec[col["state"]]) + deref(rec[col["county"]]) + deref(rec[col["tract"]])
		row := ACSRow{
			GEOID:  geoid,
			Name:   deref(rec[col["NAME"]]),
			Values: make(map[string]float64),
		}
		for name, i := range col {
			if name == "NAME" || name == "state" || name == "county" || name == "tract" {
				continue
			}
			if rec[i] == nil {
				continue
			}
			v, err := strconv.ParseFloat(*rec[i], 64)
			if err != nil || v < -100000 {
				continue
			}
			row.Values[name] = v
		}
		rows = append(rows, row)
	}
	return rows, nil
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

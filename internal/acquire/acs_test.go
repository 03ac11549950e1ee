package acquire

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sampleACS = `[
["NAME","B01003_001E","B17001_001E","B17001_002E","state","county","tract"],
["Census Tract 101; Alameda County; California","4200","4100","650","06","001","010100"],
["Census Tract 102; Alameda County; California","3100",null,"-666666666","06","001","010200"]
]`

func TestParseACSResponse(t *testing.T) {
	rows, err := ParseACSResponse([]byte(sampleACS))
	require.NoError(t, err)
	require.Len(t, rows, 2)

	assert.Equal(t, "06001010100", rows[0].GEOID)
	assert.Equal(t, "Census Tract 101; Alameda County; California", rows[0].Name)
	assert.Equal(t, 4200.0, rows[0].Values["B01003_001E"])
	assert.Equal(t, 650.0, rows[0].Values["B17001_002E"])

	// Null and suppressed cells are absent, not zero.
	_, ok := rows[1].Values["B17001_001E"]
	assert.False(t, ok)
	_, ok = rows[1].Values["B17001_002E"]
	assert.False(t, ok)
	assert.Equal(t, 3100.0, rows[1].Values["B01003_001E"])
}

func TestParseACSResponseErrors(t *testing.T) {
	tests := []struct {
		name string
		in   string
	}{
		{"not json", "oops"},
		{"empty array", "[]"},
		{"missing geo columns", `[["NAME","B01003_001E"],["x","1"]]`},
		{"ragged row", `[["NAME","state","county","tract"],["x","06","001"]]`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseACSResponse([]byte(tt.in))
			assert.Error(t, err)
		})
	}
}

// fakeFetcher serves canned bodies keyed by substring match on the URL.
type fakeFetcher struct {
	responses map[string][]byte
	calls     []string
}

func (f *fakeFetcher) Fetch(_ context.Context, url string) ([]byte, error) {
	f.calls = append(f.calls, url)
	for key, body := range f.responses {
		if strings.Contains(url, key) {
			return body, nil
		}
	}
	return nil, os.ErrNotExist
}

func (f *fakeFetcher) FetchToFile(_ context.Context, url, dest string) (int64, error) {
	data, err := f.Fetch(context.Background(), url)
	if err != nil {
		return 0, err
	}
	if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
		return 0, err
	}
	if err := os.WriteFile(dest, data, 0o644); err != nil {
		return 0, err
	}
	return int64(len(data)), nil
}

func TestFetchStateSortsAndMerges(t *testing.T) {
	fake := &fakeFetcher{responses: map[string][]byte{
		"county%3A075": []byte(`[["NAME","B01003_001E","state","county","tract"],["T2","10","06","075","020200"],["T1","20","06","075","020100"]]`),
		"county%3A001": []byte(`[["NAME","B01003_001E","state","county","tract"],["T3","30","06","001","010100"]]`),
	}}

	client, err := NewACSClient(fake, ACSOptions{
		Year:       2022,
		StateFIPS:  "06",
		CountyFIPS: []string{"075", "001"},
	})
	require.NoError(t, err)

	rows, err := client.FetchState(context.Background())
	require.NoError(t, err)
	require.Len(t, rows, 3)
	assert.Equal(t, "06001010100", rows[0].GEOID)
	assert.Equal(t, "06075020100", rows[1].GEOID)
	assert.Equal(t, "06075020200", rows[2].GEOID)
}

func TestFetchStateUsesCache(t *testing.T) {
	body := []byte(`[["NAME","B01003_001E","state","county","tract"],["T1","20","06","075","020100"]]`)
	fake := &fakeFetcher{responses: map[string][]byte{"county%3A075": body}}

	dir := t.TempDir()
	client, err := NewACSClient(fake, ACSOptions{
		Year:       2022,
		StateFIPS:  "06",
		CountyFIPS: []string{"075"},
		CacheDir:   dir,
	})
	require.NoError(t, err)

	_, err = client.FetchState(context.Background())
	require.NoError(t, err)
	require.Len(t, fake.calls, 1)

	// Second pull resumes from the cached county file.
	_, err = client.FetchState(context.Background())
	require.NoError(t, err)
	assert.Len(t, fake.calls, 1)
}

func TestNewACSClientValidation(t *testing.T) {
	_, err := NewACSClient(&fakeFetcher{}, ACSOptions{StateFIPS: "06"})
	assert.Error(t, err)

	_, err = NewACSClient(&fakeFetcher{}, ACSOptions{Year: 2022})
	assert.Error(t, err)
}

func TestQueryURLIncludesKey(t *testing.T) {
	client, err := NewACSClient(&fakeFetcher{}, ACSOptions{
		Year:      2022,
		StateFIPS: "06",
		APIKey:    "secret",
	})
	require.NoError(t, err)

	u := client.queryURL("075")
	assert.Contains(t, u, "api.census.gov/data/2022/acs/acs5")
	assert.Contains(t, u, "key=secret")
	assert.Contains(t, u, "B01003_001E")
}

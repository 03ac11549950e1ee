package fetcher

import (
	"context"
	"net/http"
	"net/http/httptest"
	"net/url"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rotisserie/eris"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/time/rate"
)

func testFetcher(t *testing.T, srv *httptest.Server) *HTTPFetcher {
	t.Helper()
	return NewHTTPFetcher(HTTPOptions{
		UserAgent:  "tract-cli-test",
		MaxRetries: 3,
		Timeout:    5 * time.Second,
		Limits: map[string]*rate.Limiter{
			"127.0.0.1": rate.NewLimiter(rate.Inf, 1),
		},
		Client: srv.Client(),
	})
}

func TestFetchOK(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "tract-cli-test", r.Header.Get("User-Agent"))
		_, _ = w.Write([]byte(`[["NAME","B01003_001E"],["Tract 1","4200"]]`))
	}))
	defer srv.Close()

	data, err := testFetcher(t, srv).Fetch(context.Background(), srv.URL)
	require.NoError(t, err)
	assert.Contains(t, string(data), "B01003_001E")
}

func TestFetchNotFound(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	_, err := testFetcher(t, srv).Fetch(context.Background(), srv.URL)
	require.Error(t, err)
	assert.True(t, eris.Is(err, ErrNotFound))
}

func TestFetchRetriesOn500(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		_, _ = w.Write([]byte("ok"))
	}))
	defer srv.Close()

	data, err := testFetcher(t, srv).Fetch(context.Background(), srv.URL)
	require.NoError(t, err)
	assert.Equal(t, "ok", string(data))
	assert.Equal(t, int32(3), calls.Load())
}

func TestFetchRateLimitExhausted(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Retry-After", "0")
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer srv.Close()

	_, err := testFetcher(t, srv).Fetch(context.Background(), srv.URL)
	require.Error(t, err)
	assert.True(t, eris.Is(err, ErrRateLimit))
}

func TestFetchToFile(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("shapefile bytes"))
	}))
	defer srv.Close()

	dest := filepath.Join(t.TempDir(), "tiger", "tl_2023_06_tract.zip")
	n, err := testFetcher(t, srv).FetchToFile(context.Background(), srv.URL, dest)
	require.NoError(t, err)
	assert.Equal(t, int64(len("shapefile bytes")), n)

	data, err := os.ReadFile(dest)
	require.NoError(t, err)
	assert.Equal(t, "shapefile bytes", string(data))

	_, err = os.Stat(dest + ".part")
	assert.True(t, os.IsNotExist(err))
}

func TestFetchCancellation(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := testFetcher(t, srv).Fetch(ctx, srv.URL)
	require.Error(t, err)
}

func TestParseRetryAfter(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want time.Duration
	}{
		{"empty", "", 0},
		{"seconds", "7", 7 * time.Second},
		{"garbage", "soon", 0},
		{"negative", "-3", 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, parseRetryAfter(tt.in))
		})
	}
}

func TestBuildQueryURL(t *testing.T) {
	params := url.Values{}
	params.Set("get", "NAME,B01003_001E")
	params.Set("for", "tract:*")
	params.Set("in", "state:06 county:075")

	got := BuildQueryURL("https://api.census.gov/data/2022/acs/acs5", params)
	assert.Contains(t, got, "api.census.gov/data/2022/acs/acs5?")
	assert.Contains(t, got, "for=tract%3A%2A")
}

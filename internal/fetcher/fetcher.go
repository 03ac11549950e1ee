// Package fetcher downloads Census Bureau source material: API JSON from
// api.census.gov, TIGER/Line archives from www2.census.gov, and bulk
// archives from the ftp2.census.gov mirror.
package fetcher

import (
	"context"
	"io"
	"time"

	"github.com/rotisserie/eris"
)

// A Fetcher retrieves a remote resource. Implementations must respect the
// context and per-host rate limits.
type Fetcher interface {
	// Fetch downloads a URL into memory. Callers own the returned bytes.
	Fetch(ctx context.Context, url string) ([]byte, error)

	// FetchToFile streams a URL to disk at dest, creating parent
	// directories as needed. Returns the number of bytes written.
	FetchToFile(ctx context.Context, url, dest string) (int64, error)
}

// Common error sentinels. Transient failures (timeouts, 5xx, 429) are
// retried internally; these surface only after retries are exhausted.
var (
	ErrNotFound   = eris.New("fetcher: resource not found")
	ErrRateLimit  = eris.New("fetcher: rate limited after retries")
	ErrServerSide = eris.New("fetcher: upstream server error after retries")
)

const (
	defaultTimeout    = 5 * time.Minute
	defaultMaxRetries = 4
	baseBackoff       = 500 * time.Millisecond
	maxBackoff        = 30 * time.Second
)

// drainClose reads and closes a body so the connection can be reused.
func drainClose(rc io.ReadCloser) {
	_, _ = io.Copy(io.Discard, io.LimitReader(rc, 1<<20))
	_ = rc.Close()
}

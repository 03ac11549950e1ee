package fetcher

import (
	"context"
	"fmt"
	"io"
	"math/rand"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// HTTPOptions configures an HTTPFetcher.
type HTTPOptions struct {
	// UserAgent is sent on every request. The Census Bureau asks bulk
	// downloaders to identify themselves.
	UserAgent string

	// MaxRetries bounds retry attempts for 429 and 5xx responses.
	MaxRetries int

	// Timeout applies to each individual request.
	Timeout time.Duration

	// Limits overrides the per-host rate limiters. Hosts not present
	// fall back to an unlimited limiter.
	Limits map[string]*rate.Limiter

	// Client overrides the underlying HTTP client, mainly for tests.
	Client *http.Client
}

// DefaultHostLimits returns the per-host limiters used when HTTPOptions.Limits
// is nil. The API host tolerates more traffic than the file mirror.
func DefaultHostLimits() map[string]*rate.Limiter {
	return map[string]*rate.Limiter{
		"api.census.gov":  rate.NewLimiter(rate.Limit(10), 10),
		"www2.census.gov": rate.NewLimiter(rate.Limit(2), 2),
	}
}

// HTTPFetcher implements Fetcher over HTTP with per-host rate limiting and
// retry with jittered exponential backoff.
type HTTPFetcher struct {
	client     *http.Client
	userAgent  string
	maxRetries int

	mu     sync.Mutex
	limits map[string]*rate.Limiter

	log *zap.Logger
}

// NewHTTPFetcher builds an HTTPFetcher from opts.
func NewHTTPFetcher(opts HTTPOptions) *HTTPFetcher {
	if opts.Timeout <= 0 {
		opts.Timeout = defaultTimeout
	}
	if opts.MaxRetries <= 0 {
		opts.MaxRetries = defaultMaxRetries
	}
	if opts.Limits == nil {
		opts.Limits = DefaultHostLimits()
	}
	client := opts.Client
	if client == nil {
		client = &http.Client{Timeout: opts.Timeout}
	}
	return &HTTPFetcher{
		client:     client,
		userAgent:  opts.UserAgent,
		maxRetries: opts.MaxRetries,
		limits:     opts.Limits,
		log:        zap.L().With(zap.String("component", "fetcher")),
	}
}

// Fetch implements Fetcher.
func (f *HTTPFetcher) Fetch(ctx context.Context, rawURL string) ([]byte, error) {
	body, err := f.do(ctx, rawURL)
	if err != nil {
		return nil, err
	}
	defer func() { _ = body.Close() }()

	data, err := io.ReadAll(body)
	if err != nil {
		return nil, eris.Wrapf(err, "fetcher: read body %s", rawURL)
	}
	return data, nil
}

// FetchToFile implements Fetcher.
func (f *HTTPFetcher) FetchToFile(ctx context.Context, rawURL, dest string) (int64, error) {
	body, err := f.do(ctx, rawURL)
	if err != nil {
		return 0, err
	}
	defer func() { _ = body.Close() }()

	if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
		return 0, eris.Wrapf(err, "fetcher: create dir for %s", dest)
	}
	tmp := dest + ".part"
	out, err := os.Create(tmp)
	if err != nil {
		return 0, eris.Wrapf(err, "fetcher: create %s", tmp)
	}
	n, err := io.Copy(out, body)
	if cerr := out.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		_ = os.Remove(tmp)
		return 0, eris.Wrapf(err, "fetcher: write %s", dest)
	}
	if err := os.Rename(tmp, dest); err != nil {
		_ = os.Remove(tmp)
		return 0, eris.Wrapf(err, "fetcher: finalize %s", dest)
	}
	f.log.Debug("downloaded file",
		zap.String("url", rawURL),
		zap.String("dest", dest),
		zap.Int64("bytes", n))
	return n, nil
}

func (f *HTTPFetcher) limiterFor(host string) *rate.Limiter {
	f.mu.Lock()
	defer f.mu.Unlock()
	if lim, ok := f.limits[host]; ok {
		return lim
	}
	lim := rate.NewLimiter(rate.Inf, 1)
	f.limits[host] = lim
	return lim
}

// do performs the request with rate limiting and retries, returning the
// response body on success.
func (f *HTTPFetcher) do(ctx context.Context, rawURL string) (io.ReadCloser, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, eris.Wrapf(err, "fetcher: parse url %s", rawURL)
	}
	lim := f.limiterFor(u.Hostname())

	var lastStatus int
	for attempt := 0; attempt <= f.maxRetries; attempt++ {
		if err := lim.Wait(ctx); err != nil {
			return nil, eris.Wrap(err, "fetcher: rate limit wait")
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
		if err != nil {
			return nil, eris.Wrapf(err, "fetcher: build request %s", rawURL)
		}
		if f.userAgent != "" {
			req.Header.Set("User-Agent", f.userAgent)
		}

		resp, err := f.client.Do(req)
		if err != nil {
			if ctx.Err() != nil {
				return nil, eris.Wrap(ctx.Err(), "fetcher: request canceled")
			}
			f.log.Warn("request failed, retrying",
				zap.String("url", rawURL),
				zap.Int("attempt", attempt),
				zap.Error(err))
			if werr := f.backoff(ctx, attempt, 0); werr != nil {
				return nil, werr
			}
			continue
		}

		switch {
		case resp.StatusCode == http.StatusOK:
			return resp.Body, nil
		case resp.StatusCode == http.StatusNotFound:
			drainClose(resp.Body)
			return nil, eris.Wrapf(ErrNotFound, "%s", rawURL)
		case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500:
			lastStatus = resp.StatusCode
			retryAfter := parseRetryAfter(resp.Header.Get("Retry-After"))
			drainClose(resp.Body)
			f.log.Warn("retryable status",
				zap.String("url", rawURL),
				zap.Int("status", resp.StatusCode),
				zap.Int("attempt", attempt))
			if werr := f.backoff(ctx, attempt, retryAfter); werr != nil {
				return nil, werr
			}
			continue
		default:
			status := resp.StatusCode
			drainClose(resp.Body)
			return nil, eris.Errorf("fetcher: unexpected status %d for %s", status, rawURL)
		}
	}

	if lastStatus == http.StatusTooManyRequests {
		return nil, eris.Wrapf(ErrRateLimit, "%s", rawURL)
	}
	return nil, eris.Wrapf(ErrServerSide, "%s (last status %d)", rawURL, lastStatus)
}

// backoff sleeps for an exponentially growing, jittered interval. A non-zero
// retryAfter from the server takes precedence.
func (f *HTTPFetcher) backoff(ctx context.Context, attempt int, retryAfter time.Duration) error {
	d := retryAfter
	if d <= 0 {
		d = baseBackoff << uint(attempt)
		d += time.Duration(rand.Int63n(int64(d) / 2))
	}
	if d > maxBackoff {
		d = maxBackoff
	}
	select {
	case <-ctx.Done():
		return eris.Wrap(ctx.Err(), "fetcher: canceled during backoff")
	case <-time.After(d):
		return nil
	}
}

func parseRetryAfter(v string) time.Duration {
	if v == "" {
		return 0
	}
	if secs, err := strconv.Atoi(v); err == nil && secs > 0 {
		return time.Duration(secs) * time.Second
	}
	if t, err := http.ParseTime(v); err == nil {
		if d := time.Until(t); d > 0 {
			return d
		}
	}
	return 0
}

var _ Fetcher = (*HTTPFetcher)(nil)

// BuildQueryURL assembles an api.census.gov request URL from a base path and
// query parameters, in stable parameter order.
func BuildQueryURL(base string, params url.Values) string {
	return fmt.Sprintf("%s?%s", base, params.Encode())
}

package fetcher

import (
	"context"
	"io"
	"math"
	"math/rand/v2"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/sells-group/fsa-maps/internal/resilience"
)

// HTTPOptions configures the HTTP fetcher.
type HTTPOptions struct {
	UserAgent    string
	Timeout      time.Duration
	MaxRetries   int
	RateLimiters map[string]*rate.Limiter
}

// HTTPFetcher implements Fetcher using net/http with optional retry and
// per-host rate limiting.
type HTTPFetcher struct {
	client   *http.Client
	opts     HTTPOptions
	limiters map[string]*rate.Limiter
}

// NewHTTPFetcher creates a new HTTPFetcher with the given options. Timeout
// bounds the whole request including reading the body.
func NewHTTPFetcher(opts HTTPOptions) *HTTPFetcher {
	if opts.Timeout == 0 {
		opts.Timeout = 60 * time.Second
	}
	if opts.MaxRetries == 0 {
		opts.MaxRetries = 1
	}
	if opts.UserAgent == "" {
		opts.UserAgent = "fsa-maps/1.0"
	}
	limiters := make(map[string]*rate.Limiter)
	for k, v := range opts.RateLimiters {
		limiters[k] = v
	}
	transport := &http.Transport{
		Proxy:               http.ProxyFromEnvironment,
		MaxIdleConnsPerHost: 2,
		IdleConnTimeout:     90 * time.Second,
	}
	return &HTTPFetcher{
		client: &http.Client{
			Timeout:   opts.Timeout,
			Transport: transport,
		},
		opts:     opts,
		limiters: limiters,
	}
}

// HostLimiter returns a RateLimiters map allowing perMinute requests to
// rawURL's host, with a burst of one. It returns nil when rawURL has no host
// or perMinute is not positive.
func HostLimiter(rawURL string, perMinute float64) map[string]*rate.Limiter {
	if perMinute <= 0 {
		return nil
	}
	u, err := url.Parse(rawURL)
	if err != nil || u.Host == "" {
		return nil
	}
	return map[string]*rate.Limiter{
		u.Host: rate.NewLimiter(rate.Limit(perMinute/60), 1),
	}
}

func (f *HTTPFetcher) limiterFor(rawURL string) *rate.Limiter {
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil
	}
	return f.limiters[u.Host]
}

func (f *HTTPFetcher) doWithRetry(ctx context.Context, req *http.Request) (*http.Response, error) {
	lim := f.limiterFor(req.URL.String())

	var lastErr error
	for attempt := range f.opts.MaxRetries {
		if attempt > 0 {
			f.backoff(ctx, attempt-1)
		}
		if lim != nil {
			if err := lim.Wait(ctx); err != nil {
				return nil, eris.Wrap(err, "rate limiter wait")
			}
		}

		resp, err := f.client.Do(req.Clone(ctx))
		if err != nil {
			lastErr = err
			zap.L().Warn("http request failed",
				zap.String("url", req.URL.String()),
				zap.Int("attempt", attempt+1),
				zap.Error(err),
			)
			continue
		}

		if resilience.IsTransientHTTPStatus(resp.StatusCode) {
			_ = resp.Body.Close()
			lastErr = resilience.NewTransientError(
				eris.Errorf("http %d from %s", resp.StatusCode, req.URL.String()), resp.StatusCode)
			zap.L().Warn("transient http status",
				zap.String("url", req.URL.String()),
				zap.Int("status", resp.StatusCode),
				zap.Int("attempt", attempt+1),
			)
			continue
		}

		return resp, nil
	}

	return nil, eris.Wrapf(lastErr, "gave up after %d attempt(s)", f.opts.MaxRetries)
}

func (f *HTTPFetcher) backoff(ctx context.Context, attempt int) {
	base := time.Second
	maxBackoff := 30 * time.Second
	d := time.Duration(float64(base) * math.Pow(2, float64(attempt)))
	if d > maxBackoff {
		d = maxBackoff
	}
	d += time.Duration(rand.Int64N(int64(d) / 2))

	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}

func (f *HTTPFetcher) get(ctx context.Context, rawURL string) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, eris.Wrap(err, "create request")
	}
	req.Header.Set("User-Agent", f.opts.UserAgent)

	resp, err := f.doWithRetry(ctx, req)
	if err != nil {
		return nil, eris.Wrap(err, "download")
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		_ = resp.Body.Close()
		return nil, eris.Errorf("download: unexpected status %d from %s", resp.StatusCode, rawURL)
	}
	return resp, nil
}

// DownloadToFile streams the URL into a temporary file next to path and
// renames it into place only once the body has been read completely, so an
// interrupted download leaves any previous file at path untouched. When the
// server sends Last-Modified, the file's mtime is set to it.
func (f *HTTPFetcher) DownloadToFile(ctx context.Context, rawURL string, path string) (*FileResult, error) {
	resp, err := f.get(ctx, rawURL)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close() //nolint:errcheck

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, eris.Wrap(err, "create download dir")
	}

	tmp, err := os.CreateTemp(dir, filepath.Base(path)+".*.part")
	if err != nil {
		return nil, eris.Wrap(err, "create temp file")
	}
	tmpName := tmp.Name()
	committed := false
	defer func() {
		if !committed {
			_ = os.Remove(tmpName)
		}
	}()

	n, err := io.Copy(tmp, resp.Body)
	if err != nil {
		_ = tmp.Close()
		return nil, eris.Wrap(err, "write file")
	}
	if err := tmp.Close(); err != nil {
		return nil, eris.Wrap(err, "close temp file")
	}

	result := &FileResult{Path: path, Bytes: n}
	if lm := resp.Header.Get("Last-Modified"); lm != "" {
		if t, err := http.ParseTime(lm); err == nil {
			result.LastModified = &t
			if err := os.Chtimes(tmpName, t, t); err != nil {
				zap.L().Warn("set file mtime from Last-Modified", zap.String("path", tmpName), zap.Error(err))
			}
		}
	}

	if err := os.Rename(tmpName, path); err != nil {
		return nil, eris.Wrap(err, "replace file")
	}
	committed = true

	return result, nil
}

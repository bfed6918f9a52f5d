package ingest

import (
	"context"
	"errors"
	"io/fs"
	"iter"
	"os"
	"path/filepath"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/fsa-maps/internal/fetcher"
	"github.com/sells-group/fsa-maps/internal/model"
)

// ErrNoDataAvailable is returned when the remote feed cannot be fetched and
// there is no cached copy to fall back to.
var ErrNoDataAvailable = eris.New("no data available: feed download failed and no local cache exists")

// Feed is a CSV snapshot ready to be read.
type Feed struct {
	Source model.Source
	// Path is the local file holding the snapshot.
	Path string
	// Location is what gets recorded as csv_path: the URL for an online
	// fetch, the absolute cache path otherwise.
	Location string
}

// LastModified returns the snapshot file's modification time, or nil when it
// cannot be read.
func (f *Feed) LastModified() *time.Time {
	info, err := os.Stat(f.Path)
	if err != nil {
		return nil
	}
	t := info.ModTime().UTC()
	return &t
}

var csvOpts = fetcher.CSVOptions{LazyQuotes: true}

// Count returns the number of data rows in the snapshot.
func (f *Feed) Count(ctx context.Context) (int64, error) {
	file, err := os.Open(f.Path)
	if err != nil {
		return 0, eris.Wrap(err, "feed: open for count")
	}
	defer file.Close() //nolint:errcheck

	n, err := fetcher.CountRecords(ctx, file, csvOpts)
	return n, eris.Wrap(err, "feed: count rows")
}

// Each streams the snapshot's rows to fn in order. Every call re-opens the
// file, so a Feed can be iterated more than once. Iteration stops at the
// first error from fn.
func (f *Feed) Each(ctx context.Context, fn func(fetcher.Record[RawRecord]) error) error {
	file, err := os.Open(f.Path)
	if err != nil {
		return eris.Wrap(err, "feed: open")
	}
	defer file.Close() //nolint:errcheck

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	recCh, errCh := fetcher.StreamRecords[RawRecord](ctx, file, csvOpts)
	for rec := range recCh {
		if err := fn(rec); err != nil {
			cancel()
			for range recCh {
			}
			return err
		}
	}
	if err := <-errCh; err != nil {
		return eris.Wrap(err, "feed: stream rows")
	}
	return nil
}

var errStopped = errors.New("feed: iteration stopped")

// Results returns the snapshot as a lazy sequence of normalized rows.
// Undecodable rows arrive as ReasonMalformedRow skips. The sequence re-reads
// the file each time it is ranged over. The returned function reports the
// error that ended the most recent iteration early, if any; an iteration
// stopped by the consumer is not an error.
func (f *Feed) Results(ctx context.Context) (iter.Seq[Result], func() error) {
	var streamErr error
	seq := func(yield func(Result) bool) {
		streamErr = f.Each(ctx, func(rec fetcher.Record[RawRecord]) error {
			res := Result{SkipReason: ReasonMalformedRow, Err: rec.Err}
			if rec.Err == nil {
				res = Normalize(rec.Value)
			}
			res.Line = rec.Line
			if !yield(res) {
				return errStopped
			}
			return nil
		})
		if errors.Is(streamErr, errStopped) {
			streamErr = nil
		}
	}
	return seq, func() error { return streamErr }
}

// FeedSource fetches the feed, keeping a local cache for offline fallback.
type FeedSource struct {
	fetcher   fetcher.Fetcher
	url       string
	cachePath string
	timeout   time.Duration
	log       *zap.Logger
}

// NewFeedSource builds a FeedSource. An empty url skips the download and
// always uses the cache.
func NewFeedSource(f fetcher.Fetcher, url, cachePath string, timeout time.Duration) *FeedSource {
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	return &FeedSource{
		fetcher:   f,
		url:       url,
		cachePath: cachePath,
		timeout:   timeout,
		log:       zap.L().With(zap.String("component", "feed")),
	}
}

// Acquire downloads the feed into the cache path. When the download fails
// for any reason the existing cache file is used instead.
func (s *FeedSource) Acquire(ctx context.Context) (*Feed, error) {
	if s.url != "" {
		fetchCtx, cancel := context.WithTimeout(ctx, s.timeout)
		res, err := s.fetcher.DownloadToFile(fetchCtx, s.url, s.cachePath)
		cancel()
		if err == nil {
			s.log.Info("feed downloaded",
				zap.String("url", s.url),
				zap.Int64("bytes", res.Bytes),
			)
			return &Feed{Source: model.SourceOnline, Path: s.cachePath, Location: s.url}, nil
		}
		if ctx.Err() != nil {
			return nil, eris.Wrap(ctx.Err(), "feed: cancelled")
		}
		s.log.Warn("feed download failed, falling back to local cache",
			zap.String("url", s.url),
			zap.String("cache_path", s.cachePath),
			zap.Error(err),
		)
	}

	info, err := os.Stat(s.cachePath)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, ErrNoDataAvailable
		}
		return nil, eris.Wrap(err, "feed: stat cache")
	}
	if info.IsDir() {
		return nil, eris.Errorf("feed: cache path %s is a directory", s.cachePath)
	}

	abs, err := filepath.Abs(s.cachePath)
	if err != nil {
		abs = s.cachePath
	}
	s.log.Info("using local feed cache", zap.String("path", abs), zap.Time("modified", info.ModTime()))
	return &Feed{Source: model.SourceLocal, Path: s.cachePath, Location: abs}, nil
}

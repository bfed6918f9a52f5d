package ingest

import (
	"context"
	"iter"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/fsa-maps/internal/model"
)

// State is a refresh run's position in its lifecycle.
type State string

const (
	StateIdle       State = "idle"
	StateFetching   State = "fetching"
	StatePreparing  State = "preparing"
	StateLoading    State = "loading"
	StateFinalizing State = "finalizing"
	StateDone       State = "done"
	StateFailed     State = "failed"
)

var allStates = []State{
	StateIdle, StateFetching, StatePreparing, StateLoading, StateFinalizing, StateDone, StateFailed,
}

// Store is the persistence a refresh needs.
type Store interface {
	BatchWriter
	PrepareRefresh(ctx context.Context) error
	InsertMetadata(ctx context.Context, m *model.Metadata) error
}

// FeedAcquirer produces the snapshot a refresh reads.
type FeedAcquirer interface {
	Acquire(ctx context.Context) (*Feed, error)
}

// Options tunes a Refresher.
type Options struct {
	BatchSize int
	// VerboseSkips logs every skipped row at debug level.
	VerboseSkips bool
	Metrics      *Metrics
	// Now overrides the clock in tests.
	Now func() time.Time
}

// Report describes a finished run.
type Report struct {
	RunID    string
	State    State
	Metadata *model.Metadata
	// SkipReasons counts skipped rows by reason.
	SkipReasons map[string]int64
}

// Refresher replaces the stored businesses with a fresh copy of the feed.
// Runs must not overlap; callers serialize them.
type Refresher struct {
	store  Store
	source FeedAcquirer
	opts   Options
	log    *zap.Logger
}

// NewRefresher builds a Refresher.
func NewRefresher(st Store, source FeedAcquirer, opts Options) *Refresher {
	if opts.BatchSize < 1 {
		opts.BatchSize = DefaultBatchSize
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Refresher{
		store:  st,
		source: source,
		opts:   opts,
		log:    zap.L().With(zap.String("component", "refresh")),
	}
}

// tallySkips passes results through, counting skip reasons on report.
func (r *Refresher) tallySkips(results iter.Seq[Result], report *Report, log *zap.Logger) iter.Seq[Result] {
	return func(yield func(Result) bool) {
		for res := range results {
			if !res.OK() {
				report.SkipReasons[res.SkipReason]++
				if r.opts.VerboseSkips {
					log.Debug("row skipped",
						zap.Int("line", res.Line),
						zap.String("reason", res.SkipReason),
						zap.Error(res.Err),
					)
				}
			}
			if !yield(res) {
				return
			}
		}
	}
}

// Run executes one refresh: fetch, prepare, load, finalize. On failure the
// returned report has State StateFailed and no metadata is written; by then
// the previous snapshot may already have been cleared.
func (r *Refresher) Run(ctx context.Context) (*Report, error) {
	report := &Report{
		RunID:       uuid.New().String(),
		State:       StateIdle,
		SkipReasons: map[string]int64{},
	}
	log := r.log.With(zap.String("run_id", report.RunID))
	started := r.opts.Now().UTC()

	transition := func(s State) {
		log.Info("refresh state", zap.String("state", string(s)), zap.String("from", string(report.State)))
		report.State = s
		r.opts.Metrics.setState(s)
	}
	fail := func(source string, err error) (*Report, error) {
		log.Error("refresh failed", zap.String("during", string(report.State)), zap.Error(err))
		transition(StateFailed)
		r.opts.Metrics.observeRun("failure", source, 0, 0)
		return report, err
	}

	// Fetching
	transition(StateFetching)
	feed, err := r.source.Acquire(ctx)
	if err != nil {
		return fail("none", eris.Wrap(err, "refresh: fetch feed"))
	}
	source := string(feed.Source)

	// Preparing
	transition(StatePreparing)
	total, err := feed.Count(ctx)
	if err != nil {
		return fail(source, eris.Wrap(err, "refresh: parse feed"))
	}
	if err := r.store.PrepareRefresh(ctx); err != nil {
		return fail(source, eris.Wrap(err, "refresh: prepare store"))
	}
	log.Info("store prepared", zap.Int64("total_records", total))

	// Loading
	transition(StateLoading)
	loader := NewLoader(r.store, r.opts.BatchSize)
	var reported Progress
	loader.OnFlush = func(p Progress) {
		r.opts.Metrics.observeFlush(Progress{
			Batches:  p.Batches - reported.Batches,
			Imported: p.Imported - reported.Imported,
			Skipped:  p.Skipped - reported.Skipped,
		})
		reported = p
		log.Info("batch committed",
			zap.Int("batch", p.Batches),
			zap.Int64("imported", p.Imported),
			zap.Int64("skipped", p.Skipped),
			zap.Int64("total_records", total),
		)
	}

	results, streamErr := feed.Results(ctx)
	err = loader.Load(ctx, r.tallySkips(results, report, log))
	if err == nil {
		err = streamErr()
	}
	if err != nil {
		return fail(source, eris.Wrap(err, "refresh: load businesses"))
	}
	// Rows skipped after the last flush have not been exported yet.
	r.opts.Metrics.observeFlush(Progress{Skipped: loader.Skipped() - reported.Skipped})

	// Finalizing
	transition(StateFinalizing)
	finished := r.opts.Now().UTC()
	duration := finished.Sub(started).Seconds()
	meta := &model.Metadata{
		DownloadDate:    started,
		Source:          feed.Source,
		CSVPath:         feed.Location,
		TotalRecords:    total,
		ImportedRecords: loader.Imported(),
		SkippedRecords:  loader.Skipped(),
		ImportDuration:  &duration,
		CSVLastModified: feed.LastModified(),
		IsCurrent:       true,
	}
	if err := r.store.InsertMetadata(ctx, meta); err != nil {
		return fail(source, eris.Wrap(err, "refresh: record metadata"))
	}
	report.Metadata = meta

	transition(StateDone)
	r.opts.Metrics.observeRun("success", source, duration, float64(finished.Unix()))
	log.Info("refresh complete",
		zap.String("source", source),
		zap.Int64("total_records", meta.TotalRecords),
		zap.Int64("imported_records", meta.ImportedRecords),
		zap.Int64("skipped_records", meta.SkippedRecords),
		zap.Float64("import_duration", duration),
		zap.Any("skip_reasons", report.SkipReasons),
	)
	return report, nil
}

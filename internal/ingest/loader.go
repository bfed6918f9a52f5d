package ingest

import (
	"context"
	"iter"

	"github.com/rotisserie/eris"

	"github.com/sells-group/fsa-maps/internal/model"
)

// DefaultBatchSize is the number of businesses committed per transaction.
const DefaultBatchSize = 5120

// BatchWriter commits one batch of businesses atomically.
type BatchWriter interface {
	InsertBusinesses(ctx context.Context, batch []model.Business) error
}

// Progress is a snapshot of loader counters.
type Progress struct {
	Batches  int
	Imported int64
	Skipped  int64
}

// Loader buffers businesses and writes them in fixed-size batches.
type Loader struct {
	w        BatchWriter
	size     int
	batch    []model.Business
	progress Progress

	// OnFlush, when set, is called after every committed batch.
	OnFlush func(Progress)
}

// NewLoader returns a Loader writing to w. A size below 1 uses DefaultBatchSize.
func NewLoader(w BatchWriter, size int) *Loader {
	if size < 1 {
		size = DefaultBatchSize
	}
	return &Loader{
		w:     w,
		size:  size,
		batch: make([]model.Business, 0, size),
	}
}

// Add buffers b and flushes when the batch is full.
func (l *Loader) Add(ctx context.Context, b model.Business) error {
	l.batch = append(l.batch, b)
	if len(l.batch) >= l.size {
		return l.Flush(ctx)
	}
	return nil
}

// Skip counts a row that will not be loaded.
func (l *Loader) Skip() {
	l.progress.Skipped++
}

// Flush commits any buffered businesses. A failed commit is returned as is;
// the batch is not retried.
func (l *Loader) Flush(ctx context.Context) error {
	if len(l.batch) == 0 {
		return nil
	}
	if err := l.w.InsertBusinesses(ctx, l.batch); err != nil {
		return eris.Wrapf(err, "loader: commit batch %d (%d rows)", l.progress.Batches+1, len(l.batch))
	}
	l.progress.Batches++
	l.progress.Imported += int64(len(l.batch))
	l.batch = l.batch[:0]

	if l.OnFlush != nil {
		l.OnFlush(l.progress)
	}
	return nil
}

// Load consumes results lazily, adding valid businesses and counting skips,
// then flushes the final partial batch.
func (l *Loader) Load(ctx context.Context, results iter.Seq[Result]) error {
	for r := range results {
		if !r.OK() {
			l.Skip()
			continue
		}
		if err := l.Add(ctx, r.Business); err != nil {
			return err
		}
	}
	return l.Flush(ctx)
}

// Imported returns the number of committed businesses.
func (l *Loader) Imported() int64 { return l.progress.Imported }

// Skipped returns the number of skipped rows.
func (l *Loader) Skipped() int64 { return l.progress.Skipped }

// Progress returns the current counters.
func (l *Loader) Progress() Progress { return l.progress }

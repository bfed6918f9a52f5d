// Package monitoring watches the stored snapshot and raises webhook alerts
// when it goes stale or a refresh loaded suspiciously little.
package monitoring

import (
	"context"
	"errors"
	"time"

	"github.com/rotisserie/eris"

	"github.com/sells-group/fsa-maps/internal/model"
	"github.com/sells-group/fsa-maps/internal/store"
)

// Snapshot holds a point-in-time view of data health.
type Snapshot struct {
	// HasCurrent is false when no refresh has completed, or the last one
	// cleared the data and then failed.
	HasCurrent bool `json:"has_current"`

	// Current snapshot (zero when HasCurrent is false).
	Source          model.Source `json:"source,omitempty"`
	DownloadDate    time.Time    `json:"download_date"`
	DataAgeDays     int          `json:"data_age_days"`
	TotalRecords    int64        `json:"total_records"`
	ImportedRecords int64        `json:"imported_records"`
	SkipRate        float64      `json:"skip_rate"`

	// Refresh runs within the lookback window.
	RecentRuns      int `json:"recent_runs"`
	RecentLocalRuns int `json:"recent_local_runs"`

	LookbackHours int       `json:"lookback_hours"`
	CollectedAt   time.Time `json:"collected_at"`
}

// MetadataReader is the store surface the collector needs.
type MetadataReader interface {
	CurrentMetadata(ctx context.Context) (*model.Metadata, error)
	MetadataHistory(ctx context.Context, limit int) ([]model.Metadata, error)
}

// Collector gathers data health from the store.
type Collector struct {
	store MetadataReader
	now   func() time.Time
}

// NewCollector creates a new collector.
func NewCollector(st MetadataReader) *Collector {
	return &Collector{store: st, now: time.Now}
}

// historyScan bounds how many runs are read when counting recent ones.
const historyScan = 100

// Collect gathers a snapshot over the given lookback window.
func (c *Collector) Collect(ctx context.Context, lookbackHours int) (*Snapshot, error) {
	now := c.now().UTC()
	snap := &Snapshot{
		LookbackHours: lookbackHours,
		CollectedAt:   now,
	}

	current, err := c.store.CurrentMetadata(ctx)
	switch {
	case errors.Is(err, store.ErrNotFound):
	case err != nil:
		return nil, eris.Wrap(err, "monitoring: current metadata")
	default:
		snap.HasCurrent = true
		snap.Source = current.Source
		snap.DownloadDate = current.DownloadDate
		snap.DataAgeDays = model.DaysBetween(current.DownloadDate, now)
		snap.TotalRecords = current.TotalRecords
		snap.ImportedRecords = current.ImportedRecords
		if current.TotalRecords > 0 {
			snap.SkipRate = float64(current.SkippedRecords) / float64(current.TotalRecords)
		}
	}

	runs, err := c.store.MetadataHistory(ctx, historyScan)
	if err != nil {
		return nil, eris.Wrap(err, "monitoring: metadata history")
	}
	cutoff := now.Add(-time.Duration(lookbackHours) * time.Hour)
	for _, r := range runs {
		if r.DownloadDate.Before(cutoff) {
			continue
		}
		snap.RecentRuns++
		if r.Source == model.SourceLocal {
			snap.RecentLocalRuns++
		}
	}

	return snap, nil
}

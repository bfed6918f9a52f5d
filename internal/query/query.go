// Package query serves read-only views of the stored FHRS snapshot.
package query

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"github.com/twpayne/go-geom"

	"github.com/sells-group/fsa-maps/internal/ingest"
	"github.com/sells-group/fsa-maps/internal/model"
	"github.com/sells-group/fsa-maps/internal/store"
)

// History limits.
const (
	DefaultHistoryLimit = 10
	MaxHistoryLimit     = 100
)

var (
	// ErrInvalidBounds is returned when a box's minimum is not below its
	// maximum on either axis.
	ErrInvalidBounds = eris.New("invalid bounding box: min_lat must be less than max_lat and min_lng less than max_lng")

	// ErrNotFound is returned when there is no current snapshot.
	ErrNotFound = store.ErrNotFound
)

// Reader is the store surface the service reads from.
type Reader interface {
	FindBusinesses(ctx context.Context, filter store.BusinessFilter) ([]model.Business, error)
	CurrentMetadata(ctx context.Context) (*model.Metadata, error)
	MetadataHistory(ctx context.Context, limit int) ([]model.Metadata, error)
}

// BoundingBoxQuery selects businesses inside an inclusive box. Ratings is an
// optional comma-separated list of rating values.
type BoundingBoxQuery struct {
	MinLat  float64
	MaxLat  float64
	MinLng  float64
	MaxLng  float64
	Ratings string
}

// Bounds returns the box as XY bounds (x longitude, y latitude).
func (q BoundingBoxQuery) Bounds() (*geom.Bounds, error) {
	if !(q.MinLat < q.MaxLat) || !(q.MinLng < q.MaxLng) {
		return nil, ErrInvalidBounds
	}
	return geom.NewBounds(geom.XY).Set(q.MinLng, q.MinLat, q.MaxLng, q.MaxLat), nil
}

// RatingFilter splits Ratings on commas and normalizes each entry. Entries
// that normalize to nothing are dropped; a nil result means no filter.
func (q BoundingBoxQuery) RatingFilter() []string {
	if strings.TrimSpace(q.Ratings) == "" {
		return nil
	}
	var out []string
	for _, part := range strings.Split(q.Ratings, ",") {
		if r := ingest.NormalizeRating(&part); r != nil {
			out = append(out, *r)
		}
	}
	return out
}

// Service answers API queries.
type Service struct {
	store Reader
	now   func() time.Time
}

// NewService returns a Service reading from st.
func NewService(st Reader) *Service {
	return &Service{store: st, now: time.Now}
}

// FindBusinesses returns every business inside the box, ordered by id.
func (s *Service) FindBusinesses(ctx context.Context, q BoundingBoxQuery) ([]model.Business, error) {
	bounds, err := q.Bounds()
	if err != nil {
		return nil, err
	}
	out, err := s.store.FindBusinesses(ctx, store.BusinessFilter{Bounds: bounds, Ratings: q.RatingFilter()})
	if err != nil {
		return nil, eris.Wrap(err, "query: find businesses")
	}
	return out, nil
}

// CurrentMetadata summarizes the current snapshot.
func (s *Service) CurrentMetadata(ctx context.Context) (*model.MetadataSummary, error) {
	m, err := s.store.CurrentMetadata(ctx)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, ErrNotFound
		}
		return nil, eris.Wrap(err, "query: current metadata")
	}
	summary := m.Summary(s.now().UTC())
	return &summary, nil
}

// History returns up to limit refresh runs, newest first. A limit of zero or
// less uses DefaultHistoryLimit; larger values are capped at MaxHistoryLimit.
func (s *Service) History(ctx context.Context, limit int) ([]model.HistoryEntry, error) {
	limit = ClampHistoryLimit(limit)
	rows, err := s.store.MetadataHistory(ctx, limit)
	if err != nil {
		return nil, eris.Wrap(err, "query: metadata history")
	}
	out := make([]model.HistoryEntry, len(rows))
	for i, m := range rows {
		out[i] = m.History()
	}
	return out, nil
}

// ClampHistoryLimit applies the default and the cap to a requested limit.
func ClampHistoryLimit(limit int) int {
	switch {
	case limit <= 0:
		return DefaultHistoryLimit
	case limit > MaxHistoryLimit:
		return MaxHistoryLimit
	}
	return limit
}

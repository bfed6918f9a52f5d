// Package store persists FHRS businesses and refresh metadata.
package store

import (
	"context"
	"strings"

	"github.com/rotisserie/eris"
	"github.com/twpayne/go-geom"

	"github.com/sells-group/fsa-maps/internal/model"
)

// ErrNotFound is returned when a lookup matches no row.
var ErrNotFound = eris.New("store: not found")

// BusinessFilter selects businesses inside an inclusive lat/lng box. Bounds
// uses the XY layout: dimension 0 is longitude, dimension 1 is latitude.
type BusinessFilter struct {
	Bounds  *geom.Bounds
	Ratings []string
}

func (f BusinessFilter) minLat() float64 { return f.Bounds.Min(1) }
func (f BusinessFilter) maxLat() float64 { return f.Bounds.Max(1) }
func (f BusinessFilter) minLng() float64 { return f.Bounds.Min(0) }
func (f BusinessFilter) maxLng() float64 { return f.Bounds.Max(0) }

// Store defines the persistence interface used by the refresh job and the API.
type Store interface {
	// Refresh writes
	PrepareRefresh(ctx context.Context) error
	InsertBusinesses(ctx context.Context, batch []model.Business) error
	InsertMetadata(ctx context.Context, m *model.Metadata) error

	// Reads
	FindBusinesses(ctx context.Context, filter BusinessFilter) ([]model.Business, error)
	CurrentMetadata(ctx context.Context) (*model.Metadata, error)
	MetadataHistory(ctx context.Context, limit int) ([]model.Metadata, error)

	// Lifecycle
	Migrate(ctx context.Context) error
	Ping(ctx context.Context) error
	Close() error
}

const businessSelect = `SELECT id, name, address_1, address_2, address_3, address_4, postcode,
	latitude, longitude, local_authority, pending, date, scheme, rating_key, rating_value
	FROM businesses`

// placeholders returns n comma-separated "?" markers.
func placeholders(n int) string {
	return strings.TrimSuffix(strings.Repeat("?, ", n), ", ")
}

type scannable interface {
	Scan(dest ...any) error
}

func scanBusiness(row scannable) (model.Business, error) {
	var b model.Business
	err := row.Scan(
		&b.ID, &b.Name, &b.Address1, &b.Address2, &b.Address3, &b.Address4, &b.Postcode,
		&b.Latitude, &b.Longitude, &b.LocalAuthority, &b.Pending, &b.Date, &b.Scheme,
		&b.RatingKey, &b.RatingValue,
	)
	return b, err
}

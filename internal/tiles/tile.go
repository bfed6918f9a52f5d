// Package tiles serves businesses as GeoJSON in web-mercator map tiles.
package tiles

import (
	"encoding/json"
	"math"
	"strconv"

	"github.com/rotisserie/eris"
	"github.com/twpayne/go-geom"
	"github.com/twpayne/go-geom/encoding/geojson"

	"github.com/sells-group/fsa-maps/internal/model"
	"github.com/sells-group/fsa-maps/internal/ratings"
)

// MaxZoom is the deepest zoom level accepted.
const MaxZoom = 22

// ErrInvalidTile is returned for coordinates outside the tile grid.
var ErrInvalidTile = eris.New("invalid tile coordinates")

// Bounds returns the lng/lat extent of tile z/x/y as XY bounds.
func Bounds(z, x, y int) (*geom.Bounds, error) {
	if z < 0 || z > MaxZoom {
		return nil, ErrInvalidTile
	}
	n := 1 << z
	if x < 0 || x >= n || y < 0 || y >= n {
		return nil, ErrInvalidTile
	}
	return geom.NewBounds(geom.XY).Set(
		tileLng(x, n), tileLat(y+1, n),
		tileLng(x+1, n), tileLat(y, n),
	), nil
}

func tileLng(x, n int) float64 {
	return float64(x)/float64(n)*360 - 180
}

func tileLat(y, n int) float64 {
	return math.Atan(math.Sinh(math.Pi*(1-2*float64(y)/float64(n)))) * 180 / math.Pi
}

// featureProperties lists the business fields copied into each feature.
func featureProperties(b model.Business) map[string]any {
	return map[string]any{
		"name":            b.Name,
		"address_1":       b.Address1,
		"address_2":       b.Address2,
		"address_3":       b.Address3,
		"address_4":       b.Address4,
		"postcode":        b.Postcode,
		"local_authority": b.LocalAuthority,
		"pending":         b.Pending,
		"date":            b.Date,
		"scheme":          b.Scheme,
		"rating_key":      b.RatingKey,
		"rating_value":    b.RatingValue,
		"rating_image":    ratingImage(b.RatingKey),
	}
}

// ratingImage returns the badge path for a rating key, or nil when the key
// is absent or not a recognized scheme.
func ratingImage(ratingKey *string) *string {
	if ratingKey == nil {
		return nil
	}
	k, ok := ratings.ParseKey(*ratingKey)
	if !ok || k.Image() == "" {
		return nil
	}
	img := k.Image()
	return &img
}

// Encode renders businesses as a GeoJSON FeatureCollection of points.
func Encode(bounds *geom.Bounds, businesses []model.Business) ([]byte, error) {
	fc := geojson.FeatureCollection{
		BBox:     bounds,
		Features: make([]*geojson.Feature, 0, len(businesses)),
	}
	for _, b := range businesses {
		fc.Features = append(fc.Features, &geojson.Feature{
			ID:         strconv.FormatInt(b.ID, 10),
			Geometry:   geom.NewPointFlat(geom.XY, []float64{b.Longitude, b.Latitude}),
			Properties: featureProperties(b),
		})
	}
	data, err := json.Marshal(&fc)
	if err != nil {
		return nil, eris.Wrap(err, "tiles: encode geojson")
	}
	return data, nil
}

package tiles

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/fsa-maps/internal/model"
	"github.com/sells-group/fsa-maps/internal/query"
	"github.com/sells-group/fsa-maps/internal/store"
)

func lngLatToTile(lng, lat float64, z int) (int, int) {
	n := math.Exp2(float64(z))
	x := int((lng + 180) / 360 * n)
	latRad := lat * math.Pi / 180
	y := int((1 - math.Log(math.Tan(latRad)+1/math.Cos(latRad))/math.Pi) / 2 * n)
	return x, y
}

func TestBounds_World(t *testing.T) {
	b, err := Bounds(0, 0, 0)
	require.NoError(t, err)
	assert.InDelta(t, -180, b.Min(0), 1e-9)
	assert.InDelta(t, 180, b.Max(0), 1e-9)
	assert.InDelta(t, -85.0511, b.Min(1), 1e-4)
	assert.InDelta(t, 85.0511, b.Max(1), 1e-4)
}

func TestBounds_Quadrant(t *testing.T) {
	b, err := Bounds(1, 0, 0)
	require.NoError(t, err)
	assert.InDelta(t, -180, b.Min(0), 1e-9)
	assert.InDelta(t, 0, b.Max(0), 1e-9)
	assert.InDelta(t, 0, b.Min(1), 1e-9)
	assert.InDelta(t, 85.0511, b.Max(1), 1e-4)
}

func TestBounds_ContainsPoint(t *testing.T) {
	lng, lat := -0.1426, 51.5390
	for z := 0; z <= 18; z++ {
		x, y := lngLatToTile(lng, lat, z)
		b, err := Bounds(z, x, y)
		require.NoError(t, err)
		assert.True(t, b.Min(0) <= lng && lng <= b.Max(0), "z=%d lng", z)
		assert.True(t, b.Min(1) <= lat && lat <= b.Max(1), "z=%d lat", z)
	}
}

func TestBounds_Invalid(t *testing.T) {
	for _, c := range [][3]int{{-1, 0, 0}, {23, 0, 0}, {2, 4, 0}, {2, 0, 4}, {2, -1, 0}} {
		_, err := Bounds(c[0], c[1], c[2])
		assert.ErrorIs(t, err, ErrInvalidTile, "%v", c)
	}
}

func TestEncode(t *testing.T) {
	b, _ := Bounds(0, 0, 0)
	data, err := Encode(b, []model.Business{
		{ID: 42, Name: "Cafe", Latitude: 51.5, Longitude: -0.1, RatingValue: model.Ptr("5"), RatingKey: model.Ptr("fhrs_5_en-GB")},
		{ID: 43, Name: "Stall", Latitude: 51.6, Longitude: -0.2, RatingKey: model.Ptr("unknown")},
	})
	require.NoError(t, err)

	var fc struct {
		Type     string `json:"type"`
		Features []struct {
			ID       string `json:"id"`
			Geometry struct {
				Type        string    `json:"type"`
				Coordinates []float64 `json:"coordinates"`
			} `json:"geometry"`
			Properties map[string]any `json:"properties"`
		} `json:"features"`
	}
	require.NoError(t, json.Unmarshal(data, &fc))
	assert.Equal(t, "FeatureCollection", fc.Type)
	require.Len(t, fc.Features, 2)
	f := fc.Features[0]
	assert.Equal(t, "42", f.ID)
	assert.Equal(t, "Point", f.Geometry.Type)
	assert.Equal(t, []float64{-0.1, 51.5}, f.Geometry.Coordinates)
	assert.Equal(t, "Cafe", f.Properties["name"])
	assert.Equal(t, "5", f.Properties["rating_value"])
	assert.Nil(t, f.Properties["postcode"])
	assert.Equal(t, "/fhrs/fhrs_5_en-gb.svg", f.Properties["rating_image"])
	assert.Nil(t, fc.Features[1].Properties["rating_image"])
}

func TestEncode_Empty(t *testing.T) {
	b, _ := Bounds(0, 0, 0)
	data, err := Encode(b, nil)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"features":[]`)
}

func TestCache_LRUAndTTL(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	c := NewCache(2, time.Minute)
	c.now = func() time.Time { return now }

	c.Put("a", []byte("A"))
	c.Put("b", []byte("B"))
	assert.Equal(t, []byte("A"), c.Get("a")) // a is now most recent
	c.Put("c", []byte("C"))                  // evicts b

	assert.Nil(t, c.Get("b"))
	assert.Equal(t, []byte("C"), c.Get("c"))

	now = now.Add(2 * time.Minute)
	assert.Nil(t, c.Get("a"), "expired")

	stats := c.Stats()
	assert.Equal(t, int64(2), stats.Hits)
	assert.Equal(t, int64(2), stats.Misses)
	assert.InDelta(t, 0.5, stats.HitRate, 1e-9)

	c.Purge()
	assert.Equal(t, 0, c.Stats().Entries)
}

type fakeSource struct {
	businesses []model.Business
	version    time.Time
	noData     bool
	err        error
	calls      int
	lastQuery  query.BoundingBoxQuery
}

func (f *fakeSource) FindBusinesses(_ context.Context, q query.BoundingBoxQuery) ([]model.Business, error) {
	f.calls++
	f.lastQuery = q
	return f.businesses, f.err
}

func (f *fakeSource) CurrentMetadata(context.Context) (*model.MetadataSummary, error) {
	if f.noData {
		return nil, query.ErrNotFound
	}
	return &model.MetadataSummary{DownloadDate: f.version}, nil
}

func newTileServer(t *testing.T, h *Handler) *httptest.Server {
	t.Helper()
	r := chi.NewRouter()
	r.Get("/tiles/stats", h.Stats)
	r.Get("/tiles/{z}/{x}/{y}.geojson", h.ServeHTTP)
	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)
	return srv
}

func fetch(t *testing.T, url string) (*http.Response, string) {
	t.Helper()
	resp, err := http.Get(url)
	require.NoError(t, err)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp, string(body)
}

func TestHandler_ServesAndCaches(t *testing.T) {
	src := &fakeSource{
		businesses: []model.Business{{ID: 1, Name: "Cafe", Latitude: 51.5, Longitude: -0.1}},
		version:    time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC),
	}
	srv := newTileServer(t, NewHandler(src, NewCache(16, time.Minute), 10))
	x, y := lngLatToTile(-0.1, 51.5, 14)
	url := fmt.Sprintf("%s/tiles/14/%d/%d.geojson?ratings=5", srv.URL, x, y)

	resp, body := fetch(t, url)
	require.Equal(t, http.StatusOK, resp.StatusCode, body)
	assert.Equal(t, "application/geo+json", resp.Header.Get("Content-Type"))
	assert.Equal(t, "miss", resp.Header.Get("X-Cache"))
	assert.Contains(t, body, `"Cafe"`)
	assert.Equal(t, "5", src.lastQuery.Ratings)
	assert.Less(t, src.lastQuery.MinLat, src.lastQuery.MaxLat)

	resp, _ = fetch(t, url)
	assert.Equal(t, "hit", resp.Header.Get("X-Cache"))
	assert.Equal(t, 1, src.calls)

	// A new snapshot changes the key, so the tile is rebuilt.
	src.version = src.version.Add(24 * time.Hour)
	resp, _ = fetch(t, url)
	assert.Equal(t, "miss", resp.Header.Get("X-Cache"))
	assert.Equal(t, 2, src.calls)

	resp, body = fetch(t, srv.URL+"/tiles/stats")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, body, `"hits":1`)
}

func TestHandler_NoCurrentSnapshotBypassesCache(t *testing.T) {
	src := &fakeSource{
		businesses: []model.Business{{ID: 1, Name: "Half Loaded", Latitude: 51.5, Longitude: -0.1}},
		noData:     true,
	}
	cache := NewCache(16, time.Minute)
	srv := newTileServer(t, NewHandler(src, cache, 0))
	url := srv.URL + "/tiles/0/0/0.geojson"

	for i := 0; i < 2; i++ {
		resp, body := fetch(t, url)
		require.Equal(t, http.StatusOK, resp.StatusCode)
		assert.Equal(t, "bypass", resp.Header.Get("X-Cache"))
		assert.Contains(t, body, "Half Loaded")
	}
	assert.Equal(t, 2, src.calls)
	assert.Equal(t, 0, cache.Stats().Entries)

	// Once the refresh finishes the tile is cached as usual.
	src.noData = false
	src.version = time.Date(2025, 1, 2, 0, 0, 0, 0, time.UTC)
	resp, _ := fetch(t, url)
	assert.Equal(t, "miss", resp.Header.Get("X-Cache"))
	resp, _ = fetch(t, url)
	assert.Equal(t, "hit", resp.Header.Get("X-Cache"))
	assert.Equal(t, 3, src.calls)
}

func TestHandler_BelowMinZoom(t *testing.T) {
	src := &fakeSource{}
	srv := newTileServer(t, NewHandler(src, nil, 10))

	resp, _ := fetch(t, srv.URL+"/tiles/3/1/1.geojson")
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)
	assert.Zero(t, src.calls)
}

func TestHandler_BadCoordinates(t *testing.T) {
	srv := newTileServer(t, NewHandler(&fakeSource{}, nil, 0))

	resp, body := fetch(t, srv.URL+"/tiles/2/9/0.geojson")
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Contains(t, body, "Invalid tile coordinates.")

	resp, _ = fetch(t, srv.URL+"/tiles/a/0/0.geojson")
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestHandler_SourceError(t *testing.T) {
	srv := newTileServer(t, NewHandler(&fakeSource{err: errors.New("db gone")}, nil, 0))

	resp, body := fetch(t, srv.URL+"/tiles/0/0/0.geojson")
	assert.Equal(t, http.StatusInternalServerError, resp.StatusCode)
	assert.NotContains(t, body, "db gone")
}

func TestHandler_WithSQLiteStore(t *testing.T) {
	ctx := context.Background()
	st, err := store.NewSQLite(filepath.Join(t.TempDir(), "tiles.db"))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() }) //nolint:errcheck
	require.NoError(t, st.Migrate(ctx))
	require.NoError(t, st.InsertBusinesses(ctx, []model.Business{
		{ID: 1, Name: "Camden Cafe", Latitude: 51.5390, Longitude: -0.1426},
		{ID: 2, Name: "Edinburgh Bar", Latitude: 55.9533, Longitude: -3.1883},
	}))

	srv := newTileServer(t, NewHandler(query.NewService(st), NewCache(8, time.Minute), 0))
	x, y := lngLatToTile(-0.1426, 51.5390, 12)

	resp, body := fetch(t, fmt.Sprintf("%s/tiles/12/%d/%d.geojson", srv.URL, x, y))
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, body, "Camden Cafe")
	assert.NotContains(t, body, "Edinburgh Bar")
}

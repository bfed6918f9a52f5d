package tiles

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/sells-group/fsa-maps/internal/model"
	"github.com/sells-group/fsa-maps/internal/query"
)

// Source is the query surface tiles are built from.
type Source interface {
	FindBusinesses(ctx context.Context, q query.BoundingBoxQuery) ([]model.Business, error)
	CurrentMetadata(ctx context.Context) (*model.MetadataSummary, error)
}

// Handler serves GeoJSON tiles. Tiles above MinZoom are answered with 204
// so a zoomed-out map never pulls the whole country.
type Handler struct {
	source  Source
	cache   *Cache
	minZoom int
	log     *zap.Logger
}

// NewHandler creates a tile handler. cache may be nil.
func NewHandler(source Source, cache *Cache, minZoom int) *Handler {
	return &Handler{
		source:  source,
		cache:   cache,
		minZoom: minZoom,
		log:     zap.L().With(zap.String("component", "tiles")),
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{"detail": msg})
}

// ServeHTTP handles /tiles/{z}/{x}/{y}.geojson with an optional ratings
// filter. It expects chi URL parameters z, x and y.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	z, errZ := strconv.Atoi(chi.URLParam(r, "z"))
	x, errX := strconv.Atoi(chi.URLParam(r, "x"))
	y, errY := strconv.Atoi(strings.TrimSuffix(chi.URLParam(r, "y"), ".geojson"))
	if errZ != nil || errX != nil || errY != nil {
		writeError(w, http.StatusBadRequest, "tile coordinates must be integers")
		return
	}
	bounds, err := Bounds(z, x, y)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid tile coordinates.")
		return
	}
	if z < h.minZoom {
		w.WriteHeader(http.StatusNoContent)
		return
	}

	ctx := r.Context()
	version, current, err := h.dataVersion(ctx)
	if err != nil {
		h.fail(w, z, x, y, err)
		return
	}
	// Without a current snapshot the table may be mid-refresh, so the
	// result is neither read from nor written to the cache.
	cache := h.cache
	if !current {
		cache = nil
	}

	ratings := r.URL.Query().Get("ratings")
	key := fmt.Sprintf("%d/%d/%d/%d?%s", version, z, x, y, ratings)
	if cache != nil {
		if cached := cache.Get(key); cached != nil {
			writeTile(w, "hit", cached)
			return
		}
	}

	businesses, err := h.source.FindBusinesses(ctx, query.BoundingBoxQuery{
		MinLat:  bounds.Min(1),
		MaxLat:  bounds.Max(1),
		MinLng:  bounds.Min(0),
		MaxLng:  bounds.Max(0),
		Ratings: ratings,
	})
	if err != nil {
		h.fail(w, z, x, y, err)
		return
	}
	tile, err := Encode(bounds, businesses)
	if err != nil {
		h.fail(w, z, x, y, err)
		return
	}

	status := "bypass"
	if cache != nil {
		cache.Put(key, tile)
		status = "miss"
	}
	writeTile(w, status, tile)
}

// dataVersion identifies the current snapshot so cached tiles from an older
// refresh are never served. current is false when no snapshot is current.
func (h *Handler) dataVersion(ctx context.Context) (version int64, current bool, err error) {
	m, err := h.source.CurrentMetadata(ctx)
	if errors.Is(err, query.ErrNotFound) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, err
	}
	return m.DownloadDate.UnixNano(), true, nil
}

func (h *Handler) fail(w http.ResponseWriter, z, x, y int, err error) {
	h.log.Error("tile generation failed",
		zap.Int("z", z), zap.Int("x", x), zap.Int("y", y),
		zap.Error(err),
	)
	writeError(w, http.StatusInternalServerError, "Internal server error")
}

func writeTile(w http.ResponseWriter, cacheStatus string, tile []byte) {
	w.Header().Set("Content-Type", "application/geo+json")
	w.Header().Set("X-Cache", cacheStatus)
	w.Header().Set("Cache-Control", "public, max-age=300")
	_, _ = w.Write(tile)
}

// Stats writes cache statistics as JSON.
func (h *Handler) Stats(w http.ResponseWriter, _ *http.Request) {
	stats := CacheStats{}
	if h.cache != nil {
		stats = h.cache.Stats()
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(stats)
}

// Package api exposes the FHRS snapshot over HTTP.
package api

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/sells-group/fsa-maps/internal/model"
	"github.com/sells-group/fsa-maps/internal/query"
	"github.com/sells-group/fsa-maps/internal/ratings"
	"github.com/sells-group/fsa-maps/internal/tiles"
)

// Queries is the read side the handlers depend on.
type Queries interface {
	FindBusinesses(ctx context.Context, q query.BoundingBoxQuery) ([]model.Business, error)
	CurrentMetadata(ctx context.Context) (*model.MetadataSummary, error)
	History(ctx context.Context, limit int) ([]model.HistoryEntry, error)
}

// Pinger reports whether the backing store is reachable.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Options configures NewRouter.
type Options struct {
	Queries        Queries
	Health         Pinger
	Ratings        *ratings.Catalog
	AllowedOrigins []string
	RateLimitRPS   float64
	RateLimitBurst int
	// Gatherer backs /metrics. Nil disables the endpoint.
	Gatherer prometheus.Gatherer
	// Tiles serves /api/tiles. Nil disables the endpoint.
	Tiles *tiles.Handler
}

type handler struct {
	queries Queries
	health  Pinger
	ratings *ratings.Catalog
	log     *zap.Logger
}

// NewRouter builds the HTTP handler. All data endpoints live under /api.
func NewRouter(opts Options) http.Handler {
	if opts.Ratings == nil {
		opts.Ratings = ratings.Default()
	}
	if len(opts.AllowedOrigins) == 0 {
		opts.AllowedOrigins = []string{"*"}
	}
	h := &handler{
		queries: opts.Queries,
		health:  opts.Health,
		ratings: opts.Ratings,
		log:     zap.L().With(zap.String("component", "api")),
	}

	r := chi.NewRouter()
	r.Use(middleware.RealIP)
	r.Use(h.recoverer)
	r.Use(h.requestLogger)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   opts.AllowedOrigins,
		AllowedMethods:   []string{http.MethodGet, http.MethodOptions},
		AllowedHeaders:   []string{"*"},
		AllowCredentials: false,
		MaxAge:           300,
	}))

	r.Get("/", h.status)
	if opts.Gatherer != nil {
		r.Method(http.MethodGet, "/metrics", promhttp.HandlerFor(opts.Gatherer, promhttp.HandlerOpts{}))
	}

	r.Route("/api", func(r chi.Router) {
		r.Use(newClientLimiter(opts.RateLimitRPS, opts.RateLimitBurst, 10*time.Minute).middleware)

		r.Get("/businesses", h.findBusinesses)
		r.Get("/metadata", h.currentMetadata)
		r.Get("/metadata/history", h.metadataHistory)
		r.Get("/health", h.healthCheck)
		r.Get("/ratings", h.listRatings)
		r.Get("/ratings/keys/{key}", h.ratingKey)

		if opts.Tiles != nil {
			r.Get("/tiles/stats", opts.Tiles.Stats)
			r.Get("/tiles/{z}/{x}/{y}.geojson", opts.Tiles.ServeHTTP)
		}
	})

	r.NotFound(func(w http.ResponseWriter, _ *http.Request) {
		writeDetail(w, http.StatusNotFound, "Not Found")
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, _ *http.Request) {
		writeDetail(w, http.StatusMethodNotAllowed, "Method Not Allowed")
	})

	return r
}

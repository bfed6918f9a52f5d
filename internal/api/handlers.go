package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/sells-group/fsa-maps/internal/ingest"
	"github.com/sells-group/fsa-maps/internal/query"
	"github.com/sells-group/fsa-maps/internal/ratings"
)

type detail struct {
	Detail string `json:"detail"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v) //nolint:errcheck
}

func writeDetail(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, detail{Detail: msg})
}

func (h *handler) status(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (h *handler) healthCheck(w http.ResponseWriter, r *http.Request) {
	if h.health != nil {
		if err := h.health.Ping(r.Context()); err != nil {
			h.log.Warn("health check failed", zap.Error(err))
			writeDetail(w, http.StatusServiceUnavailable, "Database unavailable")
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// floatParam reads a required float query parameter.
func floatParam(r *http.Request, name string) (float64, error) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return 0, errors.New(name + " is required")
	}
	v, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return 0, errors.New(name + " must be a number")
	}
	return v, nil
}

func (h *handler) findBusinesses(w http.ResponseWriter, r *http.Request) {
	var q query.BoundingBoxQuery
	for _, p := range []struct {
		name string
		dst  *float64
	}{
		{"min_lat", &q.MinLat},
		{"max_lat", &q.MaxLat},
		{"min_lng", &q.MinLng},
		{"max_lng", &q.MaxLng},
	} {
		v, err := floatParam(r, p.name)
		if err != nil {
			writeDetail(w, http.StatusBadRequest, err.Error())
			return
		}
		*p.dst = v
	}
	q.Ratings = r.URL.Query().Get("ratings")

	businesses, err := h.queries.FindBusinesses(r.Context(), q)
	if errors.Is(err, query.ErrInvalidBounds) {
		writeDetail(w, http.StatusBadRequest, "Invalid bounding box: min values must be less than max values.")
		return
	}
	if err != nil {
		h.internalError(w, "find businesses", err)
		return
	}
	writeJSON(w, http.StatusOK, businesses)
}

func (h *handler) currentMetadata(w http.ResponseWriter, r *http.Request) {
	summary, err := h.queries.CurrentMetadata(r.Context())
	if errors.Is(err, query.ErrNotFound) {
		writeDetail(w, http.StatusNotFound, "No metadata available.")
		return
	}
	if err != nil {
		h.internalError(w, "current metadata", err)
		return
	}
	writeJSON(w, http.StatusOK, summary)
}

func (h *handler) metadataHistory(w http.ResponseWriter, r *http.Request) {
	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		v, err := strconv.Atoi(raw)
		if err != nil {
			writeDetail(w, http.StatusBadRequest, "limit must be an integer")
			return
		}
		limit = v
	}

	history, err := h.queries.History(r.Context(), limit)
	if err != nil {
		h.internalError(w, "metadata history", err)
		return
	}
	writeJSON(w, http.StatusOK, history)
}

type ratingsResponse struct {
	Ratings []ratings.Rating `json:"ratings"`
}

func (h *handler) listRatings(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, ratingsResponse{Ratings: h.ratings.All()})
}

type ratingKeyResponse struct {
	Key     string         `json:"key"`
	Parts   ratings.Key    `json:"parts"`
	Image   string         `json:"image,omitempty"`
	Rating  ratings.Rating `json:"rating"`
	Matched bool           `json:"matched"`
}

// ratingKey explains a feed rating key: its parts, badge image and labels.
func (h *handler) ratingKey(w http.ResponseWriter, r *http.Request) {
	raw := chi.URLParam(r, "key")
	k, ok := ratings.ParseKey(raw)
	if !ok {
		writeDetail(w, http.StatusBadRequest, "Invalid rating key.")
		return
	}
	resp := ratingKeyResponse{Key: raw, Parts: k, Image: k.Image(), Rating: ratings.Unknown}
	if v := ingest.NormalizeRating(&k.Rating); v != nil {
		resp.Rating, resp.Matched = h.ratings.Lookup(*v)
	}
	writeJSON(w, http.StatusOK, resp)
}

func (h *handler) internalError(w http.ResponseWriter, op string, err error) {
	h.log.Error("request failed", zap.String("operation", op), zap.Error(err))
	writeDetail(w, http.StatusInternalServerError, "Internal server error")
}

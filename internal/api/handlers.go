// Package api exposes the operational HTTP surface: health, status, the queue,
// manual triggers, runtime settings and Prometheus metrics.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/azure/arxiv-poster-bot/internal/discovery"
	"github.com/azure/arxiv-poster-bot/internal/models"
	"github.com/azure/arxiv-poster-bot/internal/notifications"
	"github.com/azure/arxiv-poster-bot/internal/poster"
	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"
)

const (
	defaultQueueLimit = 10
	maxQueueLimit     = 500
)

// Service is the part of the poster service the API exposes
type Service interface {
	Status() models.Status
	Peek(n int) []models.Item
	RunDiscovery(ctx context.Context) (discovery.Result, error)
	PostNext(ctx context.Context) (poster.PostResult, error)
	Settings() poster.Settings
	Reconfigure(u poster.Update) (poster.Settings, error)
}

// DiscoverResponse is returned by POST /discover
type DiscoverResponse struct {
	Outcome       string `json:"outcome"` // "discovered" or "no_new_items"
	Fetched       int    `json:"fetched"`
	Added         int    `json:"added"`
	Refreshed     int    `json:"refreshed"`
	AlreadyPosted int    `json:"already_posted"`
	Rejected      int    `json:"rejected"`
	Enriched      int    `json:"enriched"`
	EnrichFailed  int    `json:"enrich_failed"`
}

type errorResponse struct {
	Error string `json:"error"`
}

// Handler serves the operational endpoints
type Handler struct {
	service Service
	now     func() time.Time
}

// NewRouter builds the mux router for svc
func NewRouter(svc Service) *mux.Router {
	h := &Handler{service: svc, now: time.Now}

	router := mux.NewRouter()
	router.HandleFunc("/health", h.health).Methods("GET")
	router.HandleFunc("/status", h.status).Methods("GET")
	router.HandleFunc("/queue", h.queue).Methods("GET")
	router.HandleFunc("/discover", h.discover).Methods("POST")
	router.HandleFunc("/post", h.post).Methods("POST")
	router.HandleFunc("/settings", h.getSettings).Methods("GET")
	router.HandleFunc("/settings", h.putSettings).Methods("PUT")
	router.Handle("/metrics", promhttp.Handler()).Methods("GET")
	return router
}

func (h *Handler) health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"status":    "healthy",
		"timestamp": h.now().Format(time.RFC3339),
	})
}

func (h *Handler) status(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.service.Status())
}

func (h *Handler) queue(w http.ResponseWriter, r *http.Request) {
	limit := defaultQueueLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 {
			writeError(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		limit = min(n, maxQueueLimit)
	}
	items := h.service.Peek(limit)
	if items == nil {
		items = []models.Item{}
	}
	writeJSON(w, http.StatusOK, items)
}

// discover runs a discovery cycle now. The cycle outlives a disconnected client.
func (h *Handler) discover(w http.ResponseWriter, r *http.Request) {
	res, err := h.service.RunDiscovery(context.WithoutCancel(r.Context()))
	if err != nil {
		writeError(w, statusFor(err), err.Error())
		return
	}

	outcome := "discovered"
	if res.Added == 0 {
		outcome = "no_new_items"
	}
	writeJSON(w, http.StatusOK, DiscoverResponse{
		Outcome:       outcome,
		Fetched:       res.Fetched,
		Added:         res.Added,
		Refreshed:     res.Refreshed,
		AlreadyPosted: res.AlreadyPosted,
		Rejected:      res.Rejected,
		Enriched:      res.Enriched,
		EnrichFailed:  res.EnrichFailed,
	})
}

func (h *Handler) post(w http.ResponseWriter, r *http.Request) {
	res, err := h.service.PostNext(context.WithoutCancel(r.Context()))
	if err != nil {
		writeError(w, statusFor(err), err.Error())
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (h *Handler) getSettings(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.service.Settings().View())
}

func (h *Handler) putSettings(w http.ResponseWriter, r *http.Request) {
	var u poster.Update
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(&u); err != nil {
		writeError(w, http.StatusBadRequest, "invalid settings body: "+err.Error())
		return
	}

	set, err := h.service.Reconfigure(u)
	if err != nil {
		status := http.StatusInternalServerError
		if errors.Is(err, poster.ErrInvalidSettings) {
			status = http.StatusUnprocessableEntity
		}
		writeError(w, status, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, set.View())
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, poster.ErrCycleBusy):
		return http.StatusConflict
	case errors.Is(err, poster.ErrInvalidSettings), errors.Is(err, notifications.ErrInvalidChannel):
		return http.StatusUnprocessableEntity
	default:
		return http.StatusBadGateway
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, errorResponse{Error: msg})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logrus.Errorf("Failed to write response: %v", err)
	}
}

// Package api exposes the ledger's HTTP/JSON surface.
//
// This is the interface layer between external collaborators (dashboards,
// bots, pipeline services that bypass the event log) and the ledger core.
//
// Endpoints:
//   GET   /v1/videos/{videoID}/costs     - per-video cost breakdown
//   GET   /v1/channels/{channelID}/costs - channel summary (?days=30)
//   POST  /v1/costs                      - manual cost event
//   PATCH /v1/videos/{videoID}/revenue   - revenue/view update
//   GET   /v1/pricing                    - current pricing table
//   GET   /v1/alerts                     - budget scope statuses
//   GET   /health                        - liveness check
//   GET   /ready                         - readiness check
//   GET   /metrics                       - Prometheus metrics
package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/reelforge/ledger/internal/alerts"
	"github.com/reelforge/ledger/internal/ledger"
	"github.com/reelforge/ledger/internal/pricing"
)

// Handler provides the REST API endpoints.
type Handler struct {
	aggregator *ledger.Aggregator
	recorder   *ledger.Recorder
	pricing    *pricing.Table
	monitor    *alerts.Monitor
	readyCheck func(r *http.Request) error
	log        zerolog.Logger
}

// NewHandler creates the REST handler. readyCheck verifies the backing
// stores for /ready; nil skips the check.
func NewHandler(agg *ledger.Aggregator, rec *ledger.Recorder, table *pricing.Table, monitor *alerts.Monitor, readyCheck func(r *http.Request) error, logger zerolog.Logger) *Handler {
	return &Handler{
		aggregator: agg,
		recorder:   rec,
		pricing:    table,
		monitor:    monitor,
		readyCheck: readyCheck,
		log:        logger.With().Str("component", "rest_handler").Logger(),
	}
}

// Routes builds the chi router with all endpoints and middleware.
func (h *Handler) Routes() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(requestLogger(h.log))

	r.Route("/v1", func(r chi.Router) {
		r.Get("/videos/{videoID}/costs", h.handleVideoBreakdown)
		r.Get("/channels/{channelID}/costs", h.handleChannelSummary)
		r.Post("/costs", h.handleManualCost)
		r.Patch("/videos/{videoID}/revenue", h.handleRevenueUpdate)
		r.Get("/pricing", h.handlePricing)
		r.Get("/alerts", h.handleAlerts)
	})

	r.Get("/health", h.handleHealth)
	r.Get("/ready", h.handleReady)
	r.Handle("/metrics", promhttp.Handler())

	return r
}

// handleVideoBreakdown handles GET /v1/videos/{videoID}/costs.
func (h *Handler) handleVideoBreakdown(w http.ResponseWriter, r *http.Request) {
	videoID := chi.URLParam(r, "videoID")

	breakdown, err := h.aggregator.VideoBreakdown(r.Context(), videoID)
	if errors.Is(err, ledger.ErrNotFound) {
		h.writeError(w, http.StatusNotFound, "no ledger data for video "+videoID)
		return
	}
	if err != nil {
		h.log.Error().Err(err).Str("video_id", videoID).Msg("breakdown query failed")
		h.writeError(w, http.StatusInternalServerError, "breakdown query failed")
		return
	}

	h.writeJSON(w, http.StatusOK, breakdown)
}

// handleChannelSummary handles GET /v1/channels/{channelID}/costs?days=30.
func (h *Handler) handleChannelSummary(w http.ResponseWriter, r *http.Request) {
	channelID := chi.URLParam(r, "channelID")

	days := 30
	if raw := r.URL.Query().Get("days"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 1 || parsed > 365 {
			h.writeError(w, http.StatusBadRequest, "days must be an integer between 1 and 365")
			return
		}
		days = parsed
	}

	summary, err := h.aggregator.ChannelSummary(r.Context(), channelID, days)
	if err != nil {
		h.log.Error().Err(err).Str("channel_id", channelID).Msg("summary query failed")
		h.writeError(w, http.StatusInternalServerError, "summary query failed")
		return
	}

	h.writeJSON(w, http.StatusOK, summary)
}

// manualCostRequest is the POST /v1/costs body, for producers that cannot
// publish to the event log. Negative units are allowed: compensating entries
// are how the append-only ledger records corrections.
type manualCostRequest struct {
	VideoID   string            `json:"videoId"`
	ChannelID string            `json:"channelId"`
	Category  string            `json:"category"`
	Provider  string            `json:"provider"`
	Units     float64           `json:"units"`
	UnitLabel string            `json:"unitLabel"`
	Metadata  map[string]string `json:"metadata"`
}

func (h *Handler) handleManualCost(w http.ResponseWriter, r *http.Request) {
	var req manualCostRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid JSON: "+err.Error())
		return
	}

	if req.VideoID == "" {
		h.writeError(w, http.StatusBadRequest, "videoId is required")
		return
	}
	if req.Provider == "" {
		h.writeError(w, http.StatusBadRequest, "provider is required")
		return
	}
	if !ledger.ValidCategory(ledger.Category(req.Category)) {
		h.writeError(w, http.StatusBadRequest, "unknown category: "+req.Category)
		return
	}
	if req.Units == 0 {
		h.writeError(w, http.StatusBadRequest, "units must be non-zero")
		return
	}

	ev, err := h.recorder.Record(r.Context(), ledger.RecordParams{
		VideoID:   req.VideoID,
		ChannelID: req.ChannelID,
		Category:  ledger.Category(req.Category),
		Provider:  req.Provider,
		Units:     req.Units,
		UnitLabel: req.UnitLabel,
		Metadata:  req.Metadata,
	})
	if err != nil {
		h.log.Error().Err(err).Str("video_id", req.VideoID).Msg("manual cost record failed")
		h.writeError(w, http.StatusInternalServerError, "record failed")
		return
	}

	h.writeJSON(w, http.StatusCreated, ev)
}

// revenueUpdateRequest is the PATCH /v1/videos/{videoID}/revenue body.
type revenueUpdateRequest struct {
	ChannelID  string   `json:"channelId"`
	RevenueUSD *float64 `json:"revenueUsd"`
	Views      *int64   `json:"views"`
}

func (h *Handler) handleRevenueUpdate(w http.ResponseWriter, r *http.Request) {
	videoID := chi.URLParam(r, "videoID")

	var req revenueUpdateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid JSON: "+err.Error())
		return
	}
	if req.Views != nil && *req.Views < 0 {
		h.writeError(w, http.StatusBadRequest, "views must not be negative")
		return
	}

	if err := h.recorder.UpdateRevenue(r.Context(), videoID, req.ChannelID, req.RevenueUSD, req.Views); err != nil {
		h.log.Error().Err(err).Str("video_id", videoID).Msg("revenue update failed")
		h.writeError(w, http.StatusInternalServerError, "revenue update failed")
		return
	}

	h.writeJSON(w, http.StatusOK, map[string]string{"videoId": videoID, "status": "updated"})
}

// handlePricing handles GET /v1/pricing.
func (h *Handler) handlePricing(w http.ResponseWriter, r *http.Request) {
	type pricedRate struct {
		Key string `json:"key"`
		pricing.Rate
	}

	rates := h.pricing.Rates()
	out := make([]pricedRate, 0, len(rates))
	for _, rate := range rates {
		out = append(out, pricedRate{Key: pricing.Key(rate.Provider, rate.UnitType), Rate: rate})
	}

	h.writeJSON(w, http.StatusOK, out)
}

// handleAlerts handles GET /v1/alerts.
func (h *Handler) handleAlerts(w http.ResponseWriter, r *http.Request) {
	statuses, err := h.monitor.Statuses(r.Context())
	if err != nil {
		h.log.Error().Err(err).Msg("alert status query failed")
		h.writeError(w, http.StatusInternalServerError, "alert status query failed")
		return
	}
	if statuses == nil {
		statuses = []alerts.Status{}
	}

	h.writeJSON(w, http.StatusOK, statuses)
}

func (h *Handler) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("ok"))
}

func (h *Handler) handleReady(w http.ResponseWriter, r *http.Request) {
	if h.readyCheck != nil {
		if err := h.readyCheck(r); err != nil {
			h.log.Warn().Err(err).Msg("readiness check failed")
			w.WriteHeader(http.StatusServiceUnavailable)
			w.Write([]byte("not ready"))
			return
		}
	}
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("ready"))
}

// writeJSON writes a JSON response.
func (h *Handler) writeJSON(w http.ResponseWriter, statusCode int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)

	if err := json.NewEncoder(w).Encode(data); err != nil {
		h.log.Error().Err(err).Msg("failed to encode JSON response")
	}
}

// writeError writes a JSON error response.
func (h *Handler) writeError(w http.ResponseWriter, statusCode int, message string) {
	h.writeJSON(w, statusCode, map[string]interface{}{
		"error": map[string]interface{}{
			"code":    statusCode,
			"message": message,
		},
		"timestamp": time.Now().Unix(),
	})
}

// requestLogger logs all HTTP requests with timing and status.
func requestLogger(logger zerolog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()

			wrapped := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}
			next.ServeHTTP(wrapped, r)

			logger.Info().
				Str("method", r.Method).
				Str("path", r.URL.Path).
				Int("status", wrapped.statusCode).
				Dur("duration_ms", time.Since(start)).
				Str("remote_addr", r.RemoteAddr).
				Msg("HTTP request")
		})
	}
}

type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

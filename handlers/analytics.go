package handlers

import (
	"context"
	"log"
	"net/http"
	"strconv"
	"time"

	"paste-analytics-service/metrics"
	"paste-analytics-service/models"
	"paste-analytics-service/utils"
)

// AnalyticsStore is the read-only store surface for the reporting layer.
type AnalyticsStore interface {
	GetAggregate(ctx context.Context, pasteID int64) (*models.AnalyticsAggregate, error)
	ListAggregates(ctx context.Context) ([]*models.AnalyticsAggregate, error)
	GetPasteByID(ctx context.Context, id int64) (*models.Paste, error)
}

// DeltaReader exposes the undrained live counter so per-paste reports can
// include the conceptual live count alongside the aggregate.
type DeltaReader interface {
	PendingDelta(ctx context.Context, shortURL string) (int64, error)
}

type PasteAnalyticsResponse struct {
	PasteID            int64     `json:"paste_id"`
	TotalViews         int64     `json:"total_views"`
	UniqueViewers      int64     `json:"unique_viewers"`
	AvgViewsPerSession float64   `json:"avg_views_per_session"`
	LastUpdated        time.Time `json:"last_updated"`
	LiveViewCount      int64     `json:"live_view_count"`
}

type AnalyticsHandler struct {
	store    AnalyticsStore
	cache    DeltaReader
	recorder *metrics.Recorder

	callTimeout time.Duration
}

func NewAnalyticsHandler(store AnalyticsStore, cache DeltaReader, recorder *metrics.Recorder, callTimeout time.Duration) *AnalyticsHandler {
	return &AnalyticsHandler{
		store:       store,
		cache:       cache,
		recorder:    recorder,
		callTimeout: callTimeout,
	}
}

// GetPasteAnalytics handles GET /analytics/{paste_id}.
func (h *AnalyticsHandler) GetPasteAnalytics() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			writeError(w, http.StatusMethodNotAllowed, "method not allowed")
			return
		}

		pasteID, err := strconv.ParseInt(utils.PathSegment(r.URL.Path, 1), 10, 64)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid paste id")
			return
		}

		ctx, cancel := context.WithTimeout(r.Context(), h.callTimeout)
		defer cancel()

		agg, err := h.store.GetAggregate(ctx, pasteID)
		if err != nil {
			log.Printf("analytics: failed to get aggregate for %d: %v", pasteID, err)
			writeError(w, http.StatusServiceUnavailable, "service unavailable")
			return
		}

		resp := PasteAnalyticsResponse{
			PasteID:            agg.PasteID,
			TotalViews:         agg.TotalViews,
			UniqueViewers:      agg.UniqueViewers,
			AvgViewsPerSession: agg.AvgViewsPerSession,
			LastUpdated:        agg.LastUpdated,
		}

		// Live count = durable count + undrained delta. Best effort; the
		// aggregate alone is still a valid answer.
		if paste, err := h.store.GetPasteByID(ctx, pasteID); err == nil {
			resp.LiveViewCount = paste.ViewCount
			if delta, err := h.cache.PendingDelta(ctx, paste.ShortURL); err == nil {
				resp.LiveViewCount += delta
			}
		}

		writeJSON(w, http.StatusOK, resp)
	}
}

// ListAnalytics handles GET /analytics.
func (h *AnalyticsHandler) ListAnalytics() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			writeError(w, http.StatusMethodNotAllowed, "method not allowed")
			return
		}

		ctx, cancel := context.WithTimeout(r.Context(), h.callTimeout)
		defer cancel()

		aggs, err := h.store.ListAggregates(ctx)
		if err != nil {
			log.Printf("analytics: failed to list aggregates: %v", err)
			writeError(w, http.StatusServiceUnavailable, "service unavailable")
			return
		}
		if aggs == nil {
			aggs = []*models.AnalyticsAggregate{}
		}

		writeJSON(w, http.StatusOK, aggs)
	}
}

// SystemMetrics handles GET /analytics/system.
func (h *AnalyticsHandler) SystemMetrics() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			writeError(w, http.StatusMethodNotAllowed, "method not allowed")
			return
		}
		writeJSON(w, http.StatusOK, h.recorder.Snapshot())
	}
}

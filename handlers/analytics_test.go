package handlers

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"paste-analytics-service/metrics"
	"paste-analytics-service/models"
)

func newAnalyticsFixture() (*fakeStore, *fakeCache, *metrics.Recorder, *AnalyticsHandler) {
	store := newFakeStore()
	cache := newFakeCache()
	recorder := metrics.NewRecorder()
	h := NewAnalyticsHandler(store, cache, recorder, time.Second)
	return store, cache, recorder, h
}

func TestGetPasteAnalytics(t *testing.T) {
	store, cache, _, h := newAnalyticsFixture()

	store.addPaste(&models.Paste{ID: 1, ShortURL: "abc123", ViewCount: 10})
	store.aggregates[1] = &models.AnalyticsAggregate{
		PasteID:            1,
		TotalViews:         10,
		UniqueViewers:      4,
		AvgViewsPerSession: 2.5,
		LastUpdated:        time.Now().UTC(),
	}
	cache.counters["abc123"] = 3 // views since the last reconciliation

	req := httptest.NewRequest(http.MethodGet, "/analytics/1", nil)
	w := httptest.NewRecorder()
	h.GetPasteAnalytics()(w, req)

	require.Equal(t, http.StatusOK, w.Code)
	var resp PasteAnalyticsResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, int64(10), resp.TotalViews)
	assert.Equal(t, int64(4), resp.UniqueViewers)
	assert.InDelta(t, 2.5, resp.AvgViewsPerSession, 1e-9)
	assert.Equal(t, int64(13), resp.LiveViewCount) // durable 10 + pending 3
}

func TestGetPasteAnalyticsUnaggregatedPaste(t *testing.T) {
	store, _, _, h := newAnalyticsFixture()
	store.addPaste(&models.Paste{ID: 1, ShortURL: "abc123"})

	req := httptest.NewRequest(http.MethodGet, "/analytics/1", nil)
	w := httptest.NewRecorder()
	h.GetPasteAnalytics()(w, req)

	require.Equal(t, http.StatusOK, w.Code)
	var resp PasteAnalyticsResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Zero(t, resp.TotalViews)
	assert.Zero(t, resp.UniqueViewers)
	assert.Zero(t, resp.AvgViewsPerSession)
}

func TestListAnalyticsEmpty(t *testing.T) {
	_, _, _, h := newAnalyticsFixture()

	req := httptest.NewRequest(http.MethodGet, "/analytics", nil)
	w := httptest.NewRecorder()
	h.ListAnalytics()(w, req)

	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "[]\n", w.Body.String())
}

func TestSystemMetrics(t *testing.T) {
	_, _, recorder, h := newAnalyticsFixture()
	recorder.Record(10*time.Millisecond, false)
	recorder.Record(20*time.Millisecond, true)

	req := httptest.NewRequest(http.MethodGet, "/analytics/system", nil)
	w := httptest.NewRecorder()
	h.SystemMetrics()(w, req)

	require.Equal(t, http.StatusOK, w.Code)
	var snap metrics.Snapshot
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &snap))
	assert.Equal(t, 2, snap.WindowSamples)
	assert.InDelta(t, 0.5, snap.ErrorRate, 1e-9)
}

package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"paste-analytics-service/models"
)

func newPasteFixture() (*fakeStore, *fakeCache, *PasteHandler) {
	store := newFakeStore()
	cache := newFakeCache()
	h := NewPasteHandler(store, cache, 5*time.Minute, time.Second)
	return store, cache, h
}

func TestCreatePaste(t *testing.T) {
	store, _, h := newPasteFixture()

	body := `{"content":"hello world","expires_in":60}`
	req := httptest.NewRequest(http.MethodPost, "/pastes", strings.NewReader(body))
	w := httptest.NewRecorder()
	h.Create()(w, req)

	require.Equal(t, http.StatusCreated, w.Code)
	var paste models.Paste
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &paste))
	assert.NotZero(t, paste.ID)
	assert.Len(t, paste.ShortURL, 6)
	assert.Equal(t, "hello world", paste.Content)
	require.NotNil(t, paste.ExpiresAt)
	assert.WithinDuration(t, time.Now().UTC().Add(time.Hour), *paste.ExpiresAt, time.Minute)

	stored, err := store.GetPasteByShortURL(req.Context(), paste.ShortURL)
	require.NoError(t, err)
	assert.Equal(t, paste.ID, stored.ID)
}

func TestCreatePasteWithoutExpiry(t *testing.T) {
	_, _, h := newPasteFixture()

	req := httptest.NewRequest(http.MethodPost, "/pastes", strings.NewReader(`{"content":"keep"}`))
	w := httptest.NewRecorder()
	h.Create()(w, req)

	require.Equal(t, http.StatusCreated, w.Code)
	var paste models.Paste
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &paste))
	assert.Nil(t, paste.ExpiresAt)
}

func TestCreatePasteRetriesOnShortURLCollision(t *testing.T) {
	store, _, h := newPasteFixture()
	store.createConflicts = 2 // two collisions, then a free code

	req := httptest.NewRequest(http.MethodPost, "/pastes", strings.NewReader(`{"content":"hello"}`))
	w := httptest.NewRecorder()
	h.Create()(w, req)

	require.Equal(t, http.StatusCreated, w.Code)
	assert.Equal(t, 3, store.createCalls)
}

func TestCreatePasteStoreUnreachable(t *testing.T) {
	store, _, h := newPasteFixture()
	store.createErr = errors.New("connection refused")

	req := httptest.NewRequest(http.MethodPost, "/pastes", strings.NewReader(`{"content":"hello"}`))
	w := httptest.NewRecorder()
	h.Create()(w, req)

	// A down store is not a collision; no point burning retries on it.
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	assert.Equal(t, 1, store.createCalls)
}

func TestCreatePasteRejectsEmptyContent(t *testing.T) {
	_, _, h := newPasteFixture()

	req := httptest.NewRequest(http.MethodPost, "/pastes", strings.NewReader(`{"content":""}`))
	w := httptest.NewRecorder()
	h.Create()(w, req)

	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestGetPasteCacheAside(t *testing.T) {
	store, cache, h := newPasteFixture()
	store.addPaste(&models.Paste{ShortURL: "abc123", Content: "hello", ViewCount: 7})

	req := httptest.NewRequest(http.MethodGet, "/pastes/abc123", nil)
	w := httptest.NewRecorder()
	h.Get()(w, req)

	require.Equal(t, http.StatusOK, w.Code)
	var paste models.Paste
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &paste))
	assert.Equal(t, "hello", paste.Content)
	assert.Equal(t, int64(7), paste.ViewCount)
	// The miss repopulated the cache.
	assert.True(t, cache.hasEntry("abc123"))
	// Metadata reads never bump the view counter.
	assert.Equal(t, int64(0), cache.delta("abc123"))
}

func TestGetPasteNotFound(t *testing.T) {
	_, _, h := newPasteFixture()

	req := httptest.NewRequest(http.MethodGet, "/pastes/nosuch", nil)
	w := httptest.NewRecorder()
	h.Get()(w, req)

	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestGetExpiredPaste(t *testing.T) {
	store, cache, h := newPasteFixture()

	past := time.Now().Add(-time.Minute)
	paste := &models.Paste{ShortURL: "abc123", Content: "old", ExpiresAt: &past}
	store.addPaste(paste)
	data, _ := json.Marshal(paste)
	cache.entries["abc123"] = string(data)

	req := httptest.NewRequest(http.MethodGet, "/pastes/abc123", nil)
	w := httptest.NewRecorder()
	h.Get()(w, req)

	assert.Equal(t, http.StatusGone, w.Code)
	assert.False(t, cache.hasEntry("abc123"))
}

func TestDeletePasteInvalidatesCacheAndCounter(t *testing.T) {
	store, cache, h := newPasteFixture()

	paste := &models.Paste{ShortURL: "abc123", Content: "hello"}
	store.addPaste(paste)
	data, _ := json.Marshal(paste)
	cache.entries["abc123"] = string(data)
	cache.counters["abc123"] = 4 // pending, unreconciled views

	req := httptest.NewRequest(http.MethodDelete, "/pastes/1", nil)
	w := httptest.NewRecorder()
	h.Delete()(w, req)

	require.Equal(t, http.StatusOK, w.Code)
	assert.False(t, cache.hasEntry("abc123"))
	assert.Equal(t, int64(0), cache.delta("abc123"))
	_, err := store.GetPasteByID(req.Context(), 1)
	var notFound *models.NotFoundError
	assert.ErrorAs(t, err, &notFound)
}

func TestDeleteUnknownPaste(t *testing.T) {
	_, _, h := newPasteFixture()

	req := httptest.NewRequest(http.MethodDelete, "/pastes/99", nil)
	w := httptest.NewRecorder()
	h.Delete()(w, req)

	assert.Equal(t, http.StatusNotFound, w.Code)
}

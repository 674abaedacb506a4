package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"time"

	"paste-analytics-service/models"
	"paste-analytics-service/utils"
)

// PasteStore is the durable-store slice the view path needs on a cache miss.
type PasteStore interface {
	GetPasteByShortURL(ctx context.Context, shortURL string) (*models.Paste, error)
}

// ViewCache is the fast-cache slice the view path needs. LookupAndIncrement
// bundles the cache read and counter bump into one round trip; Decrement
// compensates when the view turns out not to count.
type ViewCache interface {
	LookupAndIncrement(ctx context.Context, shortURL string) (cached string, delta int64, err error)
	SetPaste(ctx context.Context, shortURL, data string, ttl time.Duration) error
	InvalidatePaste(ctx context.Context, shortURL string) error
	Decrement(ctx context.Context, shortURL string) error
}

// EventPublisher receives the view event off the request path.
type EventPublisher interface {
	Publish(event *models.ViewEvent)
}

type ViewResponse struct {
	PasteID   int64  `json:"paste_id"`
	ShortURL  string `json:"short_url"`
	Content   string `json:"content"`
	ViewCount int64  `json:"view_count"`
}

// ViewHandler records views: cache-aside paste resolution, atomic counter
// bump, and a fire-and-forget event to the aggregation pipeline.
type ViewHandler struct {
	store     PasteStore
	cache     ViewCache
	publisher EventPublisher

	cacheTTL    time.Duration
	callTimeout time.Duration
	now         func() time.Time
}

func NewViewHandler(store PasteStore, cache ViewCache, publisher EventPublisher,
	cacheTTL, callTimeout time.Duration) *ViewHandler {
	return &ViewHandler{
		store:       store,
		cache:       cache,
		publisher:   publisher,
		cacheTTL:    cacheTTL,
		callTimeout: callTimeout,
		now:         time.Now,
	}
}

// Record handles GET /view/{short_url}.
func (h *ViewHandler) Record() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			writeError(w, http.StatusMethodNotAllowed, "method not allowed")
			return
		}

		shortURL := utils.PathSegment(r.URL.Path, 1)
		if shortURL == "" {
			writeError(w, http.StatusBadRequest, "short URL required")
			return
		}

		ctx, cancel := context.WithTimeout(r.Context(), h.callTimeout)
		defer cancel()

		// One pipelined round trip: cached paste + fresh counter delta. If
		// the cache is down the view cannot be counted, so the request
		// fails rather than silently under-counting.
		cached, delta, err := h.cache.LookupAndIncrement(ctx, shortURL)
		if err != nil {
			log.Printf("view: cache unavailable for %s: %v", shortURL, err)
			respondError(w, &models.ServiceUnavailableError{Message: "service unavailable"})
			return
		}

		paste, fromStore, err := h.resolvePaste(ctx, shortURL, cached)
		if err != nil {
			// The pipelined increment already landed; take it back so the
			// failed request is not counted as a view.
			h.compensate(shortURL)
			var notFound *models.NotFoundError
			if !errors.As(err, &notFound) {
				log.Printf("view: store unavailable for %s: %v", shortURL, err)
				err = &models.ServiceUnavailableError{Message: "service unavailable"}
			}
			respondError(w, err)
			return
		}

		if paste.IsExpired(h.now()) {
			h.compensate(shortURL)
			if err := h.cache.InvalidatePaste(ctx, shortURL); err != nil {
				log.Printf("view: failed to invalidate expired paste %s: %v", shortURL, err)
			}
			respondError(w, &models.ExpiredError{ShortURL: shortURL})
			return
		}

		if fromStore {
			if data, err := json.Marshal(paste); err == nil {
				if err := h.cache.SetPaste(ctx, shortURL, string(data), h.cacheTTL); err != nil {
					log.Printf("view: failed to cache paste %s: %v", shortURL, err)
				}
			}
		}

		// The cached copy carries the durable count; the delta holds the
		// increments since the last reconciliation.
		liveCount := paste.ViewCount + delta

		event := &models.ViewEvent{
			PasteID:   paste.ID,
			ShortURL:  shortURL,
			ViewCount: liveCount,
			IPAddress: utils.ExtractIP(r),
			UserID:    r.Header.Get("X-User-ID"),
			SessionID: sessionID(r),
			Referrer:  r.Referer(),
			UserAgent: r.UserAgent(),
			CreatedAt: h.now().UTC(),
		}
		go h.publisher.Publish(event)

		writeJSON(w, http.StatusOK, ViewResponse{
			PasteID:   paste.ID,
			ShortURL:  paste.ShortURL,
			Content:   paste.Content,
			ViewCount: liveCount,
		})
	}
}

// resolvePaste is the cache-aside read: cached JSON when present, durable
// store otherwise. The bool reports whether the store was hit (and the
// cache should be repopulated).
func (h *ViewHandler) resolvePaste(ctx context.Context, shortURL, cached string) (*models.Paste, bool, error) {
	if cached != "" {
		paste := &models.Paste{}
		if err := json.Unmarshal([]byte(cached), paste); err == nil {
			return paste, false, nil
		}
		// Corrupt cache entry; fall through to the store.
		log.Printf("view: unreadable cache entry for %s, falling back to store", shortURL)
	}

	paste, err := h.store.GetPasteByShortURL(ctx, shortURL)
	if err != nil {
		return nil, false, err
	}
	return paste, true, nil
}

func (h *ViewHandler) compensate(shortURL string) {
	ctx, cancel := context.WithTimeout(context.Background(), h.callTimeout)
	defer cancel()
	if err := h.cache.Decrement(ctx, shortURL); err != nil {
		log.Printf("view: failed to undo counter bump for %s: %v", shortURL, err)
	}
}

func sessionID(r *http.Request) string {
	if sid := r.Header.Get("X-Session-ID"); sid != "" {
		return sid
	}
	if c, err := r.Cookie("session_id"); err == nil {
		return c.Value
	}
	return ""
}

package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"strconv"
	"time"

	"paste-analytics-service/models"
	"paste-analytics-service/utils"
)

// PasteAdminStore is the durable-store surface for the collaborator-facing
// paste endpoints (creation feeds the pipeline, deletion owns cache
// invalidation).
type PasteAdminStore interface {
	CreatePaste(ctx context.Context, paste *models.Paste) error
	GetPasteByShortURL(ctx context.Context, shortURL string) (*models.Paste, error)
	GetPasteByID(ctx context.Context, id int64) (*models.Paste, error)
	DeletePaste(ctx context.Context, id int64) error
}

// AdminCache is the cache surface paste deletion and metadata reads need.
type AdminCache interface {
	GetPaste(ctx context.Context, shortURL string) (string, bool, error)
	SetPaste(ctx context.Context, shortURL, data string, ttl time.Duration) error
	InvalidatePaste(ctx context.Context, shortURL string) error
	DropCounter(ctx context.Context, shortURL string) error
}

type CreatePasteRequest struct {
	Content   string `json:"content"`
	ExpiresIn int    `json:"expires_in"` // minutes, 0 = never
}

type PasteHandler struct {
	store PasteAdminStore
	cache AdminCache

	cacheTTL    time.Duration
	callTimeout time.Duration
	now         func() time.Time
}

func NewPasteHandler(store PasteAdminStore, cache AdminCache, cacheTTL, callTimeout time.Duration) *PasteHandler {
	return &PasteHandler{
		store:       store,
		cache:       cache,
		cacheTTL:    cacheTTL,
		callTimeout: callTimeout,
		now:         time.Now,
	}
}

// Create handles POST /pastes.
func (h *PasteHandler) Create() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			writeError(w, http.StatusMethodNotAllowed, "method not allowed")
			return
		}

		var req CreatePasteRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid request body")
			return
		}
		if req.Content == "" {
			writeError(w, http.StatusBadRequest, "content is required")
			return
		}

		var expiresAt *time.Time
		if req.ExpiresIn > 0 {
			t := h.now().UTC().Add(time.Duration(req.ExpiresIn) * time.Minute)
			expiresAt = &t
		}

		ctx, cancel := context.WithTimeout(r.Context(), h.callTimeout)
		defer cancel()

		// Retry with a fresh code on short-URL collision, same as any
		// short-code issuer. Anything other than a collision means the
		// store is in trouble, so one attempt is enough.
		var paste *models.Paste
		maxRetries := 5
		for i := 0; i < maxRetries; i++ {
			paste = &models.Paste{
				ShortURL:  utils.GenerateShortURL(),
				Content:   req.Content,
				ExpiresAt: expiresAt,
			}
			err := h.store.CreatePaste(ctx, paste)
			if err == nil {
				break
			}
			var conflict *models.ConflictError
			if !errors.As(err, &conflict) {
				log.Printf("pastes: failed to create: %v", err)
				respondError(w, &models.ServiceUnavailableError{Message: "service unavailable"})
				return
			}
			if i == maxRetries-1 {
				log.Printf("pastes: short URL collisions exhausted %d retries: %v", maxRetries, err)
				writeError(w, http.StatusInternalServerError, "failed to create paste")
				return
			}
		}

		writeJSON(w, http.StatusCreated, paste)
	}
}

// Get handles GET /pastes/{short_url}: metadata without recording a view.
func (h *PasteHandler) Get() http.HandlerFunc {
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

		paste, fromStore, err := h.lookup(ctx, shortURL)
		if err != nil {
			var notFound *models.NotFoundError
			if !errors.As(err, &notFound) {
				log.Printf("pastes: lookup failed for %s: %v", shortURL, err)
				err = &models.ServiceUnavailableError{Message: "service unavailable"}
			}
			respondError(w, err)
			return
		}

		if paste.IsExpired(h.now()) {
			if err := h.cache.InvalidatePaste(ctx, shortURL); err != nil {
				log.Printf("pastes: failed to invalidate expired paste %s: %v", shortURL, err)
			}
			respondError(w, &models.ExpiredError{ShortURL: shortURL})
			return
		}

		if fromStore {
			if data, err := json.Marshal(paste); err == nil {
				if err := h.cache.SetPaste(ctx, shortURL, string(data), h.cacheTTL); err != nil {
					log.Printf("pastes: failed to cache paste %s: %v", shortURL, err)
				}
			}
		}

		writeJSON(w, http.StatusOK, paste)
	}
}

// Delete handles DELETE /pastes/{id}. The cleanup collaborator calls this;
// invalidating the cached entry and the live counter is this service's
// responsibility.
func (h *PasteHandler) Delete() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodDelete {
			writeError(w, http.StatusMethodNotAllowed, "method not allowed")
			return
		}

		id, err := strconv.ParseInt(utils.PathSegment(r.URL.Path, 1), 10, 64)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid paste id")
			return
		}

		ctx, cancel := context.WithTimeout(r.Context(), h.callTimeout)
		defer cancel()

		paste, err := h.store.GetPasteByID(ctx, id)
		if err != nil {
			var notFound *models.NotFoundError
			if !errors.As(err, &notFound) {
				log.Printf("pastes: delete lookup failed for %d: %v", id, err)
				err = &models.ServiceUnavailableError{Message: "service unavailable"}
			}
			respondError(w, err)
			return
		}

		if err := h.store.DeletePaste(ctx, id); err != nil {
			log.Printf("pastes: failed to delete %d: %v", id, err)
			writeError(w, http.StatusInternalServerError, "failed to delete paste")
			return
		}

		if err := h.cache.InvalidatePaste(ctx, paste.ShortURL); err != nil {
			log.Printf("pastes: failed to invalidate cache for %s: %v", paste.ShortURL, err)
		}
		if err := h.cache.DropCounter(ctx, paste.ShortURL); err != nil {
			log.Printf("pastes: failed to drop counter for %s: %v", paste.ShortURL, err)
		}

		writeJSON(w, http.StatusOK, map[string]string{"message": "paste deleted"})
	}
}

func (h *PasteHandler) lookup(ctx context.Context, shortURL string) (*models.Paste, bool, error) {
	cached, ok, err := h.cache.GetPaste(ctx, shortURL)
	if err == nil && ok {
		paste := &models.Paste{}
		if err := json.Unmarshal([]byte(cached), paste); err == nil {
			return paste, false, nil
		}
	}
	if err != nil {
		log.Printf("pastes: cache read failed for %s: %v", shortURL, err)
	}

	paste, err := h.store.GetPasteByShortURL(ctx, shortURL)
	if err != nil {
		return nil, false, err
	}
	return paste, true, nil
}

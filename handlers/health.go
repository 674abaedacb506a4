package handlers

import (
	"context"
	"net/http"
	"time"
)

// Pinger is anything with dependency connectivity to check.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Health handles GET /health - simple liveness check
func Health() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]interface{}{
			"status":    "ok",
			"timestamp": time.Now().UTC().Format(time.RFC3339),
		})
	}
}

// Readiness handles GET /ready - readiness check with dependencies
func Readiness(store, cache Pinger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()

		dbHealthy := store.Ping(ctx) == nil
		cacheHealthy := cache.Ping(ctx) == nil

		status := http.StatusOK
		if !dbHealthy || !cacheHealthy {
			status = http.StatusServiceUnavailable
		}

		writeJSON(w, status, map[string]interface{}{
			"status":    map[string]bool{"database": dbHealthy, "redis": cacheHealthy},
			"ready":     dbHealthy && cacheHealthy,
			"timestamp": time.Now().UTC().Format(time.RFC3339),
		})
	}
}

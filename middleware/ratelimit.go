package middleware

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"strconv"
	"strings"
	"time"

	"paste-analytics-service/utils"
)

// Limiter counts requests per key within a window.
type Limiter interface {
	CountRequest(ctx context.Context, key string, window time.Duration) (int64, error)
}

// RateLimit middleware implements per-IP rate limiting backed by the
// counter cache. A limiter failure fails open.
func RateLimit(limiter Limiter, limit int, window time.Duration) Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			// The view fast path is exempt; it has its own counting.
			if strings.HasPrefix(r.URL.Path, "/view/") {
				next.ServeHTTP(w, r)
				return
			}

			ip := utils.ExtractIP(r)
			key := fmt.Sprintf("ratelimit:%s:%s", ip, r.URL.Path)

			count, err := limiter.CountRequest(r.Context(), key, window)
			if err != nil {
				log.Printf("Rate limit check failed: %v", err)
				next.ServeHTTP(w, r)
				return
			}

			if count > int64(limit) {
				w.Header().Set("Content-Type", "application/json")
				w.Header().Set("Retry-After", strconv.Itoa(int(window.Seconds())))
				w.WriteHeader(http.StatusTooManyRequests)
				fmt.Fprintf(w, `{"error":"Rate limit exceeded"}`)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

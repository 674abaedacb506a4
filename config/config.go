package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	DatabaseURL string
	RedisURL    string
	Port        string

	CacheTTL          time.Duration // paste metadata cache entries
	ReconcileInterval time.Duration // live counter drain cadence
	QueueSize         int           // view event queue capacity
	DequeueTimeout    time.Duration // aggregator poll timeout
	MaxRetries        int           // persistence retries before giving up
	MaxEventFailures  int           // consecutive failures before an event is skipped
	BackfillBatch     int           // unprocessed events re-enqueued per idle sweep
	CallTimeout       time.Duration // per-call limit on cache/store round trips
}

func Load() (*Config, error) {
	// Optional .env for local development; ignored when absent.
	_ = godotenv.Load()

	dbURL := os.Getenv("DATABASE_URL")
	if dbURL == "" {
		return nil, fmt.Errorf("DATABASE_URL environment variable is required")
	}

	redisURL := os.Getenv("REDIS_URL")
	if redisURL == "" {
		redisURL = "localhost:6379"
	}

	port := os.Getenv("PORT")
	if port == "" {
		port = "8080"
	}

	return &Config{
		DatabaseURL:       dbURL,
		RedisURL:          redisURL,
		Port:              port,
		CacheTTL:          getDuration("CACHE_TTL_SECONDS", 300) * time.Second,
		ReconcileInterval: getDuration("RECONCILE_INTERVAL_SECONDS", 10) * time.Second,
		QueueSize:         getInt("QUEUE_SIZE", 10000),
		DequeueTimeout:    getDuration("DEQUEUE_TIMEOUT_MS", 500) * time.Millisecond,
		MaxRetries:        getInt("MAX_RETRIES", 3),
		MaxEventFailures:  getInt("MAX_EVENT_FAILURES", 5),
		BackfillBatch:     getInt("BACKFILL_BATCH", 100),
		CallTimeout:       getDuration("CALL_TIMEOUT_MS", 2000) * time.Millisecond,
	}, nil
}

func getInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return def
}

func getDuration(key string, def int) time.Duration {
	return time.Duration(getInt(key, def))
}

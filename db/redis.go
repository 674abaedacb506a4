package db

import (
	"context"
	"encoding/json"
	"fmt"
	"paste-analytics-service/models"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	pasteKeyPrefix   = "paste:"
	counterKeyPrefix = "views:pending:"
)

// RedisDB is the fast counter cache: it holds cache-aside paste metadata
// under paste:<short_url> and the per-paste live view-count delta under
// views:pending:<short_url>. Counter keys have no TTL; they live until the
// reconciler drains them.
type RedisDB struct {
	client *redis.Client
}

func NewRedisDB(redisURL string) (*RedisDB, error) {
	var opt *redis.Options

	// Try parsing as URL first
	if parsed, err := redis.ParseURL(fmt.Sprintf("redis://%s", redisURL)); err == nil {
		opt = parsed
	} else {
		// Try as simple host:port
		opt = &redis.Options{
			Addr: redisURL,
		}
	}

	opt.PoolSize = 10
	opt.MinIdleConns = 5

	client := redis.NewClient(opt)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	return &RedisDB{client: client}, nil
}

func (r *RedisDB) Close() error {
	return r.client.Close()
}

func (r *RedisDB) Ping(ctx context.Context) error {
	return r.client.Ping(ctx).Err()
}

// LookupAndIncrement fetches the cached paste and bumps the live counter in
// a single pipelined round trip. Returns the cached JSON ("" on cache miss)
// and the counter delta after the increment.
func (r *RedisDB) LookupAndIncrement(ctx context.Context, shortURL string) (string, int64, error) {
	var getCmd *redis.StringCmd
	var incrCmd *redis.IntCmd

	_, err := r.client.Pipelined(ctx, func(pipe redis.Pipeliner) error {
		getCmd = pipe.Get(ctx, pasteKeyPrefix+shortURL)
		incrCmd = pipe.Incr(ctx, counterKeyPrefix+shortURL)
		return nil
	})
	if err != nil && err != redis.Nil {
		return "", 0, fmt.Errorf("failed pipelined lookup: %w", err)
	}

	cached, err := getCmd.Result()
	if err == redis.Nil {
		cached = ""
	} else if err != nil {
		return "", 0, fmt.Errorf("failed to get cached paste: %w", err)
	}

	delta, err := incrCmd.Result()
	if err != nil {
		return "", 0, fmt.Errorf("failed to increment counter: %w", err)
	}

	return cached, delta, nil
}

// Decrement undoes a single counter bump. Used when the pipelined increment
// turns out to belong to a not-found or expired paste.
func (r *RedisDB) Decrement(ctx context.Context, shortURL string) error {
	if err := r.client.Decr(ctx, counterKeyPrefix+shortURL).Err(); err != nil {
		return fmt.Errorf("failed to decrement counter: %w", err)
	}
	return nil
}

func (r *RedisDB) GetPaste(ctx context.Context, shortURL string) (string, bool, error) {
	val, err := r.client.Get(ctx, pasteKeyPrefix+shortURL).Result()
	if err == redis.Nil {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("failed to get cached paste: %w", err)
	}
	return val, true, nil
}

func (r *RedisDB) SetPaste(ctx context.Context, shortURL, data string, ttl time.Duration) error {
	if err := r.client.Set(ctx, pasteKeyPrefix+shortURL, data, ttl).Err(); err != nil {
		return fmt.Errorf("failed to cache paste: %w", err)
	}
	return nil
}

func (r *RedisDB) InvalidatePaste(ctx context.Context, shortURL string) error {
	if err := r.client.Del(ctx, pasteKeyPrefix+shortURL).Err(); err != nil {
		return fmt.Errorf("failed to invalidate cached paste: %w", err)
	}
	return nil
}

// DropCounter removes the live counter outright. Only paste deletion uses
// this; reconciliation drains with DrainCounter instead.
func (r *RedisDB) DropCounter(ctx context.Context, shortURL string) error {
	if err := r.client.Del(ctx, counterKeyPrefix+shortURL).Err(); err != nil {
		return fmt.Errorf("failed to drop counter: %w", err)
	}
	return nil
}

// PendingCounters scans for short URLs that have an undrained live counter.
func (r *RedisDB) PendingCounters(ctx context.Context) ([]string, error) {
	var shortURLs []string
	iter := r.client.Scan(ctx, 0, counterKeyPrefix+"*", 100).Iterator()
	for iter.Next(ctx) {
		shortURLs = append(shortURLs, iter.Val()[len(counterKeyPrefix):])
	}
	if err := iter.Err(); err != nil {
		return nil, fmt.Errorf("failed to scan counters: %w", err)
	}
	return shortURLs, nil
}

// DrainCounter atomically reads and clears the live counter via GETDEL, so
// an increment landing after the drain starts a fresh delta instead of
// being lost or double counted.
func (r *RedisDB) DrainCounter(ctx context.Context, shortURL string) (int64, error) {
	val, err := r.client.GetDel(ctx, counterKeyPrefix+shortURL).Int64()
	if err == redis.Nil {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("failed to drain counter: %w", err)
	}
	return val, nil
}

// RestoreCounter puts a drained delta back after a failed merge so the
// views keep accruing until the next cycle.
func (r *RedisDB) RestoreCounter(ctx context.Context, shortURL string, delta int64) error {
	if err := r.client.IncrBy(ctx, counterKeyPrefix+shortURL, delta).Err(); err != nil {
		return fmt.Errorf("failed to restore counter: %w", err)
	}
	return nil
}

// PendingDelta reads the live counter without clearing it. Missing key
// reads as zero delta.
func (r *RedisDB) PendingDelta(ctx context.Context, shortURL string) (int64, error) {
	val, err := r.client.Get(ctx, counterKeyPrefix+shortURL).Int64()
	if err == redis.Nil {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("failed to get pending delta: %w", err)
	}
	return val, nil
}

// CountRequest bumps a rate-limit counter, starting the window's TTL on
// the first hit.
func (r *RedisDB) CountRequest(ctx context.Context, key string, window time.Duration) (int64, error) {
	count, err := r.client.Incr(ctx, key).Result()
	if err != nil {
		return 0, fmt.Errorf("failed to count request: %w", err)
	}
	if count == 1 {
		r.client.Expire(ctx, key, window)
	}
	return count, nil
}

// RefreshCachedViewCount rewrites the cached paste's view_count after a
// reconciliation merge, keeping the entry's remaining TTL. A cache miss is
// not an error; the next cache-aside fill picks up the durable value.
func (r *RedisDB) RefreshCachedViewCount(ctx context.Context, shortURL string, viewCount int64) error {
	val, err := r.client.Get(ctx, pasteKeyPrefix+shortURL).Result()
	if err == redis.Nil {
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to get cached paste: %w", err)
	}

	var paste models.Paste
	if err := json.Unmarshal([]byte(val), &paste); err != nil {
		// Unreadable entry; drop it rather than serve garbage.
		return r.InvalidatePaste(ctx, shortURL)
	}
	paste.ViewCount = viewCount

	data, err := json.Marshal(&paste)
	if err != nil {
		return fmt.Errorf("failed to marshal cached paste: %w", err)
	}
	if err := r.client.Set(ctx, pasteKeyPrefix+shortURL, string(data), redis.KeepTTL).Err(); err != nil {
		return fmt.Errorf("failed to refresh cached paste: %w", err)
	}
	return nil
}

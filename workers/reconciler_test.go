package workers

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"paste-analytics-service/models"
	"paste-analytics-service/retry"
)

type fakeCounterCache struct {
	mu        sync.Mutex
	counters  map[string]int64
	refreshed map[string]int64
}

func newFakeCounterCache() *fakeCounterCache {
	return &fakeCounterCache{
		counters:  make(map[string]int64),
		refreshed: make(map[string]int64),
	}
}

func (f *fakeCounterCache) PendingCounters(ctx context.Context) ([]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var urls []string
	for url := range f.counters {
		urls = append(urls, url)
	}
	return urls, nil
}

func (f *fakeCounterCache) DrainCounter(ctx context.Context, shortURL string) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	delta := f.counters[shortURL]
	delete(f.counters, shortURL)
	return delta, nil
}

func (f *fakeCounterCache) RestoreCounter(ctx context.Context, shortURL string, delta int64) error {
	// The real client rejects cancelled contexts before issuing the command.
	if err := ctx.Err(); err != nil {
		return err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.counters[shortURL] += delta
	return nil
}

func (f *fakeCounterCache) RefreshCachedViewCount(ctx context.Context, shortURL string, viewCount int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.refreshed[shortURL] = viewCount
	return nil
}

func (f *fakeCounterCache) delta(shortURL string) int64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.counters[shortURL]
}

type fakeReconcileStore struct {
	mu            sync.Mutex
	counts        map[string]int64
	conflictsLeft int
	failWith      error
	mergeHook     func() error
	procErrors    []string
}

func (f *fakeReconcileStore) MergeViewCount(ctx context.Context, shortURL string, delta int64) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.mergeHook != nil {
		if err := f.mergeHook(); err != nil {
			return 0, err
		}
	}
	if f.failWith != nil {
		return 0, f.failWith
	}
	if f.conflictsLeft > 0 {
		f.conflictsLeft--
		return 0, &models.ConflictError{Err: context.DeadlineExceeded}
	}
	if _, ok := f.counts[shortURL]; !ok {
		return 0, &models.NotFoundError{Message: "paste not found"}
	}
	f.counts[shortURL] += delta
	return f.counts[shortURL], nil
}

func (f *fakeReconcileStore) InsertProcessingError(ctx context.Context, errorType, message, payload string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.procErrors = append(f.procErrors, errorType)
	return nil
}

func fastRetryPolicy() retry.Policy {
	return retry.Policy{MaxAttempts: 3, InitialInterval: time.Millisecond, MaxInterval: 5 * time.Millisecond}
}

func TestReconcileMergesAndClears(t *testing.T) {
	cache := newFakeCounterCache()
	cache.counters["abc123"] = 5
	store := &fakeReconcileStore{counts: map[string]int64{"abc123": 10}}

	r := NewReconciler(cache, store, time.Second, time.Second, fastRetryPolicy())
	r.ReconcileOnce(context.Background())

	assert.Equal(t, int64(15), store.counts["abc123"])
	assert.Equal(t, int64(0), cache.delta("abc123"))
	assert.Equal(t, int64(15), cache.refreshed["abc123"])
	assert.Empty(t, store.procErrors)
}

func TestReconcileRetriesContention(t *testing.T) {
	cache := newFakeCounterCache()
	cache.counters["abc123"] = 3
	store := &fakeReconcileStore{counts: map[string]int64{"abc123": 0}, conflictsLeft: 2}

	r := NewReconciler(cache, store, time.Second, time.Second, fastRetryPolicy())
	r.ReconcileOnce(context.Background())

	assert.Equal(t, int64(3), store.counts["abc123"])
	assert.Equal(t, int64(0), cache.delta("abc123"))
	assert.Empty(t, store.procErrors)
}

func TestReconcileRestoresDeltaOnPersistentFailure(t *testing.T) {
	cache := newFakeCounterCache()
	cache.counters["abc123"] = 4
	store := &fakeReconcileStore{
		counts:        map[string]int64{"abc123": 0},
		conflictsLeft: 100, // more conflicts than the retry policy allows
	}

	r := NewReconciler(cache, store, time.Second, time.Second, fastRetryPolicy())
	r.ReconcileOnce(context.Background())

	// Nothing merged, but nothing lost either: the delta went back.
	assert.Equal(t, int64(0), store.counts["abc123"])
	assert.Equal(t, int64(4), cache.delta("abc123"))
	assert.Equal(t, []string{"reconcile_failed"}, store.procErrors)

	// Next cycle succeeds and picks up the restored delta.
	store.mu.Lock()
	store.conflictsLeft = 0
	store.mu.Unlock()
	r.ReconcileOnce(context.Background())
	assert.Equal(t, int64(4), store.counts["abc123"])
	assert.Equal(t, int64(0), cache.delta("abc123"))
}

func TestReconcileRestoresDeltaWhenStoppedMidMerge(t *testing.T) {
	cache := newFakeCounterCache()
	cache.counters["abc123"] = 7
	store := &fakeReconcileStore{counts: map[string]int64{"abc123": 0}}

	// Shutdown lands while the merge is in flight: the worker context is
	// cancelled and the merge fails with it.
	ctx, cancel := context.WithCancel(context.Background())
	store.mergeHook = func() error {
		cancel()
		return ctx.Err()
	}

	r := NewReconciler(cache, store, time.Second, time.Second, fastRetryPolicy())
	r.ReconcileOnce(ctx)

	// Nothing merged, and the drained delta went back despite the dead
	// worker context.
	assert.Equal(t, int64(0), store.counts["abc123"])
	assert.Equal(t, int64(7), cache.delta("abc123"))
	assert.Equal(t, []string{"reconcile_failed"}, store.procErrors)
}

func TestReconcileDropsDeltaForDeletedPaste(t *testing.T) {
	cache := newFakeCounterCache()
	cache.counters["gone99"] = 2
	store := &fakeReconcileStore{counts: map[string]int64{}}

	r := NewReconciler(cache, store, time.Second, time.Second, fastRetryPolicy())
	r.ReconcileOnce(context.Background())

	assert.Equal(t, int64(0), cache.delta("gone99"))
	assert.Empty(t, store.procErrors)
}

func TestReconcileIsIdempotentWhenRerun(t *testing.T) {
	cache := newFakeCounterCache()
	cache.counters["abc123"] = 5
	store := &fakeReconcileStore{counts: map[string]int64{"abc123": 0}}

	r := NewReconciler(cache, store, time.Second, time.Second, fastRetryPolicy())
	r.ReconcileOnce(context.Background())
	r.ReconcileOnce(context.Background())
	r.ReconcileOnce(context.Background())

	require.Equal(t, int64(5), store.counts["abc123"])
}

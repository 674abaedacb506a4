package workers

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"paste-analytics-service/models"
	"paste-analytics-service/retry"
)

// CounterCache is the slice of the fast counter cache the reconciler needs.
type CounterCache interface {
	PendingCounters(ctx context.Context) ([]string, error)
	DrainCounter(ctx context.Context, shortURL string) (int64, error)
	RestoreCounter(ctx context.Context, shortURL string, delta int64) error
	RefreshCachedViewCount(ctx context.Context, shortURL string, viewCount int64) error
}

// ReconcileStore is the slice of the durable store the reconciler needs.
type ReconcileStore interface {
	MergeViewCount(ctx context.Context, shortURL string, delta int64) (int64, error)
	InsertProcessingError(ctx context.Context, errorType, message, payload string) error
}

// Reconciler periodically drains the per-paste live counters into the
// durable view_count. It is safe to re-run at any point: each cycle merges
// an atomically drained delta, so a repeated cycle merges nothing twice.
type Reconciler struct {
	cache       CounterCache
	store       ReconcileStore
	interval    time.Duration
	callTimeout time.Duration
	policy      retry.Policy
}

func NewReconciler(cache CounterCache, store ReconcileStore, interval, callTimeout time.Duration, policy retry.Policy) *Reconciler {
	return &Reconciler{
		cache:       cache,
		store:       store,
		interval:    interval,
		callTimeout: callTimeout,
		policy:      policy,
	}
}

// Run drains counters on a fixed interval until the context is cancelled.
// A final drain happens on shutdown so counts accumulated since the last
// tick are not stranded in the cache.
func (r *Reconciler) Run(ctx context.Context) {
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	log.Printf("reconciler: started (interval=%s)", r.interval)
	for {
		select {
		case <-ticker.C:
			r.ReconcileOnce(ctx)
		case <-ctx.Done():
			drainCtx, cancel := context.WithTimeout(context.Background(), r.callTimeout)
			r.ReconcileOnce(drainCtx)
			cancel()
			log.Println("reconciler: stopped")
			return
		}
	}
}

// ReconcileOnce merges every pending live counter into the durable store.
// A merge failure restores the drained delta, records a ProcessingError,
// and moves on; the paste is retried next cycle with the delta intact.
func (r *Reconciler) ReconcileOnce(ctx context.Context) {
	shortURLs, err := r.cache.PendingCounters(ctx)
	if err != nil {
		log.Printf("reconciler: failed to enumerate counters: %v", err)
		return
	}

	for _, shortURL := range shortURLs {
		r.reconcileCounter(ctx, shortURL)
	}
}

func (r *Reconciler) reconcileCounter(ctx context.Context, shortURL string) {
	delta, err := r.cache.DrainCounter(ctx, shortURL)
	if err != nil {
		log.Printf("reconciler: failed to drain counter for %s: %v", shortURL, err)
		return
	}
	if delta == 0 {
		return
	}

	var total int64
	err = retry.Do(ctx, r.policy, isTransient, func() error {
		callCtx, cancel := context.WithTimeout(ctx, r.callTimeout)
		defer cancel()
		var mergeErr error
		total, mergeErr = r.store.MergeViewCount(callCtx, shortURL, delta)
		return mergeErr
	})

	if err != nil {
		var notFound *models.NotFoundError
		if errors.As(err, &notFound) {
			// Paste deleted since the views accrued; the delta has nowhere
			// to go.
			log.Printf("reconciler: dropping %d views for deleted paste %s", delta, shortURL)
			return
		}
		// The merge may have failed because the worker ctx was cancelled
		// (shutdown mid-cycle). The restore must still land or the drained
		// delta is gone, so it runs on its own context.
		restoreCtx, cancel := context.WithTimeout(context.Background(), r.callTimeout)
		defer cancel()
		if restoreErr := r.cache.RestoreCounter(restoreCtx, shortURL, delta); restoreErr != nil {
			log.Printf("reconciler: failed to restore counter for %s: %v", shortURL, restoreErr)
		}
		msg := fmt.Sprintf("merge failed for %s after retries: %v", shortURL, err)
		log.Printf("reconciler: %s", msg)
		if insErr := r.store.InsertProcessingError(restoreCtx, "reconcile_failed", msg,
			fmt.Sprintf(`{"short_url":%q,"delta":%d}`, shortURL, delta)); insErr != nil {
			log.Printf("reconciler: failed to record processing error: %v", insErr)
		}
		return
	}

	// Keep the cached copy's view_count in step with the durable value so
	// readers between cycles see durable + fresh delta.
	if err := r.cache.RefreshCachedViewCount(ctx, shortURL, total); err != nil {
		log.Printf("reconciler: failed to refresh cached count for %s: %v", shortURL, err)
	}
}

// isTransient reports whether the error is worth a local retry: write
// contention always, availability blips too.
func isTransient(err error) bool {
	var notFound *models.NotFoundError
	if errors.As(err, &notFound) {
		return false
	}
	var validation *models.ValidationError
	if errors.As(err, &validation) {
		return false
	}
	// Conflicts, timeouts, and unknown store errors all get another try.
	return true
}

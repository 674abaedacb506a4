package workers

import (
	"context"
	"fmt"
	"log"
	"time"

	"paste-analytics-service/events"
	"paste-analytics-service/metrics"
	"paste-analytics-service/models"
)

// EventStore is the slice of the durable store the aggregator needs.
type EventStore interface {
	ProcessViewEvent(ctx context.Context, eventID int64) (bool, error)
	SkipViewEvent(ctx context.Context, eventID int64, note string) error
	UnprocessedEvents(ctx context.Context, minAge time.Duration, limit int) ([]*models.ViewEvent, error)
	InsertProcessingError(ctx context.Context, errorType, message, payload string) error
}

const (
	backfillMinAge   = 30 * time.Second
	backfillInterval = time.Minute
)

// Aggregator is the single consumer of the view-event queue. It turns raw
// events into per-paste aggregates and records processing samples into the
// system metrics window.
type Aggregator struct {
	queue       *events.Queue
	store       EventStore
	metrics     *metrics.Recorder
	callTimeout time.Duration
	dequeueWait time.Duration
	maxFailures int // consecutive failures before one event is skipped
	batchLimit  int // unprocessed events fetched per backfill sweep

	errorBackoff time.Duration
	lastBackfill time.Time
}

func NewAggregator(queue *events.Queue, store EventStore, recorder *metrics.Recorder,
	callTimeout, dequeueWait time.Duration, maxFailures, batchLimit int) *Aggregator {
	return &Aggregator{
		queue:       queue,
		store:       store,
		metrics:     recorder,
		callTimeout: callTimeout,
		dequeueWait: dequeueWait,
		maxFailures: maxFailures,
		batchLimit:  batchLimit,

		errorBackoff: time.Second,
	}
}

// Run consumes events until the context is cancelled. A failing event is
// retried in place; after maxFailures consecutive failures it is marked
// processed with a note and skipped so the queue keeps moving.
func (a *Aggregator) Run(ctx context.Context) {
	log.Println("aggregator: started")
	for {
		select {
		case <-ctx.Done():
			log.Println("aggregator: stopped")
			return
		default:
		}

		event, ok := a.queue.Dequeue(ctx, a.dequeueWait)
		if !ok {
			a.maybeBackfill(ctx)
			continue
		}

		a.processWithRetry(ctx, event)
	}
}

func (a *Aggregator) processWithRetry(ctx context.Context, event *models.ViewEvent) {
	for failures := 0; ; {
		err := a.processOne(ctx, event)
		if err == nil {
			return
		}
		if ctx.Err() != nil {
			return
		}

		failures++
		log.Printf("aggregator: event %d failed (attempt %d): %v", event.ID, failures, err)
		a.metrics.Record(0, true)
		a.recordError(ctx, "aggregation_failed", err, event)

		if failures >= a.maxFailures {
			note := fmt.Sprintf("skipped after %d failures: %v", failures, err)
			if skipErr := a.store.SkipViewEvent(ctx, event.ID, note); skipErr != nil {
				log.Printf("aggregator: failed to skip event %d: %v", event.ID, skipErr)
			}
			a.recordError(ctx, "permanent_processing_failure", fmt.Errorf("%s", note), event)
			return
		}

		// Avoid a tight error loop against a struggling store.
		select {
		case <-time.After(a.errorBackoff):
		case <-ctx.Done():
			return
		}
	}
}

func (a *Aggregator) processOne(ctx context.Context, event *models.ViewEvent) error {
	start := time.Now()

	callCtx, cancel := context.WithTimeout(ctx, a.callTimeout)
	defer cancel()

	updated, err := a.store.ProcessViewEvent(callCtx, event.ID)
	if err != nil {
		return err
	}
	if !updated {
		// Redelivered event, already counted. Not a sample worth recording.
		return nil
	}

	a.metrics.Record(time.Since(start), false)
	return nil
}

// maybeBackfill re-enqueues old unprocessed events from the durable store.
// These exist when the in-memory queue was full or the process died between
// the durable insert and the enqueue; re-processing is idempotent.
func (a *Aggregator) maybeBackfill(ctx context.Context) {
	if time.Since(a.lastBackfill) < backfillInterval {
		return
	}
	a.lastBackfill = time.Now()

	callCtx, cancel := context.WithTimeout(ctx, a.callTimeout)
	defer cancel()

	pending, err := a.store.UnprocessedEvents(callCtx, backfillMinAge, a.batchLimit)
	if err != nil {
		log.Printf("aggregator: backfill query failed: %v", err)
		return
	}
	if len(pending) == 0 {
		return
	}

	enqueued := 0
	for _, event := range pending {
		if !a.queue.Enqueue(event) {
			break
		}
		enqueued++
	}
	if enqueued > 0 {
		a.metrics.RecordBackfill(enqueued)
		log.Printf("aggregator: backfilled %d unprocessed events", enqueued)
	}
}

func (a *Aggregator) recordError(ctx context.Context, errorType string, cause error, event *models.ViewEvent) {
	payload := fmt.Sprintf(`{"event_id":%d,"paste_id":%d}`, event.ID, event.PasteID)
	if err := a.store.InsertProcessingError(ctx, errorType, cause.Error(), payload); err != nil {
		log.Printf("aggregator: failed to record processing error: %v", err)
	}
}

package events

import (
	"context"
	"fmt"
	"log"
	"time"

	"paste-analytics-service/metrics"
	"paste-analytics-service/models"
)

// EventStore is the slice of the durable store the publisher needs.
type EventStore interface {
	InsertViewEvent(ctx context.Context, event *models.ViewEvent) error
	InsertProcessingError(ctx context.Context, errorType, message, payload string) error
}

// Publisher persists view events and hands them to the aggregator queue.
// It runs off the request goroutine; nothing it does can fail a view
// request.
type Publisher struct {
	store   EventStore
	queue   *Queue
	metrics *metrics.Recorder
	timeout time.Duration
}

func NewPublisher(store EventStore, queue *Queue, recorder *metrics.Recorder, timeout time.Duration) *Publisher {
	return &Publisher{
		store:   store,
		queue:   queue,
		metrics: recorder,
		timeout: timeout,
	}
}

// Publish writes the durable view_events row and enqueues the event for
// aggregation. Failures are logged as processing errors and swallowed; a
// row that never reaches the queue stays unprocessed and is picked up by
// the aggregator's backfill sweep.
func (p *Publisher) Publish(event *models.ViewEvent) {
	ctx, cancel := context.WithTimeout(context.Background(), p.timeout)
	defer cancel()

	if err := p.store.InsertViewEvent(ctx, event); err != nil {
		p.recordError(ctx, "event_persist_failed", err, event)
		p.metrics.RecordDrop()
		return
	}

	if !p.queue.Enqueue(event) {
		p.recordError(ctx, "queue_full",
			fmt.Errorf("queue full, event %d deferred to backfill", event.ID), event)
		p.metrics.RecordDrop()
	}
}

func (p *Publisher) recordError(ctx context.Context, errorType string, cause error, event *models.ViewEvent) {
	log.Printf("publisher: %s: %v", errorType, cause)
	payload := fmt.Sprintf(`{"paste_id":%d,"short_url":%q}`, event.PasteID, event.ShortURL)
	if err := p.store.InsertProcessingError(ctx, errorType, cause.Error(), payload); err != nil {
		log.Printf("publisher: failed to record processing error: %v", err)
	}
}

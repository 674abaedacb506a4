package events

import (
	"context"
	"time"

	"paste-analytics-service/models"
)

// Queue is the bounded channel connecting the view path to the aggregator.
// Producers never block: a full queue rejects the enqueue and the durable
// view_events row is recovered later by the backfill sweep.
type Queue struct {
	ch chan *models.ViewEvent
}

func NewQueue(capacity int) *Queue {
	return &Queue{ch: make(chan *models.ViewEvent, capacity)}
}

// Enqueue hands an event to the consumer without blocking. Returns false
// when the queue is full.
func (q *Queue) Enqueue(event *models.ViewEvent) bool {
	select {
	case q.ch <- event:
		return true
	default:
		return false
	}
}

// Dequeue waits up to timeout for an event. Returns (nil, false) on an
// empty queue or cancelled context.
func (q *Queue) Dequeue(ctx context.Context, timeout time.Duration) (*models.ViewEvent, bool) {
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case event := <-q.ch:
		return event, true
	case <-timer.C:
		return nil, false
	case <-ctx.Done():
		return nil, false
	}
}

func (q *Queue) Len() int {
	return len(q.ch)
}

// Package metrics keeps a bounded in-memory window of event-processing
// samples. Rates are recomputed from the window on every read; nothing
// here is persisted.
package metrics

import (
	"sync"
	"sync/atomic"
	"time"
)

const defaultWindowSize = 1000

type sample struct {
	at      time.Time
	latency time.Duration
	failed  bool
}

// Snapshot is the system-wide view computed from the recent-sample window.
type Snapshot struct {
	IngestionRate  float64 `json:"ingestion_rate"`   // events/sec over the window
	ErrorRate      float64 `json:"error_rate"`       // errors/events in the window
	AvgLatency     float64 `json:"avg_latency"`      // seconds
	WindowSamples  int     `json:"window_samples"`
	DroppedEvents  int64   `json:"dropped_events"`   // enqueue failures since start
	BackfillEvents int64   `json:"backfill_events"`  // events recovered from the store
}

// Recorder holds the ring buffer of processing samples. One instance is
// created at startup and shared by the publisher and aggregator.
type Recorder struct {
	mu      sync.Mutex
	samples []sample
	next    int
	filled  bool

	dropped    atomic.Int64
	backfilled atomic.Int64

	now func() time.Time
}

func NewRecorder() *Recorder {
	return &Recorder{
		samples: make([]sample, defaultWindowSize),
		now:     time.Now,
	}
}

// Record adds one processing sample to the window, evicting the oldest
// when full.
func (r *Recorder) Record(latency time.Duration, failed bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.samples[r.next] = sample{at: r.now(), latency: latency, failed: failed}
	r.next++
	if r.next == len(r.samples) {
		r.next = 0
		r.filled = true
	}
}

// RecordDrop counts a view event that could not be enqueued.
func (r *Recorder) RecordDrop() {
	r.dropped.Add(1)
}

// RecordBackfill counts events re-enqueued from the durable store.
func (r *Recorder) RecordBackfill(n int) {
	r.backfilled.Add(int64(n))
}

// Snapshot recomputes the rates from the current window contents.
func (r *Recorder) Snapshot() Snapshot {
	r.mu.Lock()
	defer r.mu.Unlock()

	n := r.next
	if r.filled {
		n = len(r.samples)
	}

	snap := Snapshot{
		WindowSamples:  n,
		DroppedEvents:  r.dropped.Load(),
		BackfillEvents: r.backfilled.Load(),
	}
	if n == 0 {
		return snap
	}

	var (
		oldest, newest time.Time
		totalLatency   time.Duration
		failures       int
	)
	for i := 0; i < n; i++ {
		s := r.samples[i]
		if oldest.IsZero() || s.at.Before(oldest) {
			oldest = s.at
		}
		if s.at.After(newest) {
			newest = s.at
		}
		totalLatency += s.latency
		if s.failed {
			failures++
		}
	}

	span := newest.Sub(oldest).Seconds()
	if span > 0 {
		snap.IngestionRate = float64(n) / span
	} else {
		snap.IngestionRate = float64(n)
	}
	snap.ErrorRate = float64(failures) / float64(n)
	snap.AvgLatency = totalLatency.Seconds() / float64(n)

	return snap
}

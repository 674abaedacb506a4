package metrics

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestSnapshotEmptyWindow(t *testing.T) {
	r := NewRecorder()

	snap := r.Snapshot()
	assert.Zero(t, snap.IngestionRate)
	assert.Zero(t, snap.ErrorRate)
	assert.Zero(t, snap.AvgLatency)
	assert.Zero(t, snap.WindowSamples)
}

func TestSnapshotRates(t *testing.T) {
	r := NewRecorder()
	base := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	tick := 0
	r.now = func() time.Time {
		tick++
		return base.Add(time.Duration(tick) * time.Second)
	}

	// 10 samples, one failure, 100ms each, spread over 9s of wall clock.
	for i := 0; i < 10; i++ {
		r.Record(100*time.Millisecond, i == 3)
	}

	snap := r.Snapshot()
	assert.Equal(t, 10, snap.WindowSamples)
	assert.InDelta(t, 10.0/9.0, snap.IngestionRate, 1e-9)
	assert.InDelta(t, 0.1, snap.ErrorRate, 1e-9)
	assert.InDelta(t, 0.1, snap.AvgLatency, 1e-9)
}

func TestWindowIsBounded(t *testing.T) {
	r := NewRecorder()

	for i := 0; i < defaultWindowSize+500; i++ {
		r.Record(time.Millisecond, false)
	}

	snap := r.Snapshot()
	assert.Equal(t, defaultWindowSize, snap.WindowSamples)
}

func TestDropAndBackfillCounters(t *testing.T) {
	r := NewRecorder()

	r.RecordDrop()
	r.RecordDrop()
	r.RecordBackfill(7)

	snap := r.Snapshot()
	assert.Equal(t, int64(2), snap.DroppedEvents)
	assert.Equal(t, int64(7), snap.BackfillEvents)
}

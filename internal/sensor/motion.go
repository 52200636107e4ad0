package sensor

import (
	"context"
	"log/slog"
	"sync/atomic"
	"time"
)

// ///////////////////////////////////////////////
// Motion Sensor
// ///////////////////////////////////////////////

// sampleRetention is how long recorded motion samples are kept. Samples only
// serve gap reconciliation, which looks back at most one suspend gap.
const sampleRetention = 48 * time.Hour

// SampleStore is the per-minute sample log backing [MotionSensor]'s
// historical queries. Implemented by the storage layer.
type SampleStore interface {
	RecordSample(t time.Time, stationary bool) error
	StationaryMinutes(ctx context.Context, from, to time.Time) (int, error)
	PruneSamplesBefore(t time.Time) error
}

// MotionSensor consumes stationary/not-stationary transitions pushed by an
// external motion classifier and answers historical queries from a per-minute
// sample log. Transitions may arrive on any goroutine; only the latest value
// is consulted at tick time, held as an atomic snapshot.
type MotionSensor struct {
	store SampleStore
	// stationary is the latest pushed classification.
	stationary atomic.Bool
	// lastPrune rate-limits sample pruning to about once a day.
	lastPrune atomic.Int64
}

// NewMotionSensor creates a MotionSensor recording samples into store.
func NewMotionSensor(store SampleStore) *MotionSensor {
	return &MotionSensor{store: store}
}

// SetStationary records a transition from the external classifier.
// Safe to call from any goroutine.
func (s *MotionSensor) SetStationary(stationary bool) {
	s.stationary.Store(stationary)
}

// Observe returns the latest pushed classification as the sitting verdict
// and logs a sample for the current minute. The idle threshold does not
// apply to this variant.
func (s *MotionSensor) Observe(now time.Time, _ time.Duration) Verdict {
	stationary := s.stationary.Load()
	if err := s.store.RecordSample(now, stationary); err != nil {
		slog.Warn("failed to record motion sample", "error", err)
	}
	s.maybePrune(now)
	return Verdict{Sitting: stationary}
}

// StationaryMinutes integrates the sample log over [from, to).
func (s *MotionSensor) StationaryMinutes(ctx context.Context, from, to time.Time) (int, error) {
	return s.store.StationaryMinutes(ctx, from, to)
}

// Close is a no-op; the sample store is owned by the caller.
func (s *MotionSensor) Close() error { return nil }

// maybePrune drops samples past retention, at most once per day.
func (s *MotionSensor) maybePrune(now time.Time) {
	const pruneEvery = int64(24 * time.Hour / time.Second)
	last := s.lastPrune.Load()
	if now.Unix()-last < pruneEvery {
		return
	}
	if !s.lastPrune.CompareAndSwap(last, now.Unix()) {
		return
	}
	if err := s.store.PruneSamplesBefore(now.Add(-sampleRetention)); err != nil {
		slog.Debug("failed to prune motion samples", "error", err)
	}
}

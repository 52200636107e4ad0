// Package sensor produces the activity signal the tracker consumes: a
// per-tick sitting verdict plus a stationary-minutes query over a historical
// range for gap reconciliation.
//
// Two variants implement [Source]. The idle variant derives the verdict from
// input idle time (how long since the user last produced an activity marker);
// the motion variant consumes externally fed stationary transitions and
// records per-minute samples so historical ranges can be integrated. The
// tracker is identical across both.
package sensor

import (
	"context"
	"time"
)

// Verdict is one tick's reduction of the activity signal.
type Verdict struct {
	// Sitting reports whether the user counts as sitting right now.
	Sitting bool
	// Idle is the precisely observed input idle duration, when the variant
	// knows it. The tracker back-dates a closing session's end by this
	// amount. Always zero for the motion variant.
	Idle time.Duration
}

// Source is the activity-signal capability consumed by the tracker.
type Source interface {
	// Observe returns the sitting verdict for now. idleThreshold is the
	// settings-driven cutoff for the idle variant; the motion variant
	// ignores it.
	Observe(now time.Time, idleThreshold time.Duration) Verdict

	// StationaryMinutes reports how many whole minutes of [from, to) were
	// spent sitting. Variants without historical data return 0.
	StationaryMinutes(ctx context.Context, from, to time.Time) (int, error)

	Close() error
}

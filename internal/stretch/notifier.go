package stretch

import (
	"fmt"
	"log/slog"
	"sync"
)

// ///////////////////////////////////////////////
// Collaborator Interfaces
// ///////////////////////////////////////////////

// CursorStore persists the rotation cursor. Implemented by the storage layer.
type CursorStore interface {
	// NextStretchIndex returns the index of the stretch to suggest next.
	NextStretchIndex() (int, error)
	// AdvanceStretchIndex advances the cursor modulo count.
	AdvanceStretchIndex(count int) error
}

// Sender delivers a formatted reminder. Delivery is fire-and-forget: an
// error is logged by the notifier, never surfaced to the tracker.
type Sender interface {
	Send(title, body string) error
}

// HapticPlayer is implemented by senders with a haptic surface.
type HapticPlayer interface {
	PlayHaptic(kind string) error
}

// ///////////////////////////////////////////////
// Notifier
// ///////////////////////////////////////////////

// Notifier selects the next stretch round-robin and hands it to the delivery
// channel. The select-then-advance pair runs under a mutex so concurrent
// dispatchers can neither skip nor double-count a rotation slot.
type Notifier struct {
	store  CursorStore
	sender Sender
	title  string
	haptic bool

	mu sync.Mutex
}

// NewNotifier creates a Notifier dispatching through sender under the given
// notification title. When haptic is set and the sender supports it, each
// reminder also plays a haptic.
func NewNotifier(store CursorStore, sender Sender, title string, haptic bool) *Notifier {
	return &Notifier{store: store, sender: sender, title: title, haptic: haptic}
}

// SendReminder picks the next stretch from catalog and dispatches it.
// A nil or empty catalog is a no-op.
func (n *Notifier) SendReminder(catalog []Stretch) {
	if len(catalog) == 0 {
		return
	}

	n.mu.Lock()
	index, err := n.store.NextStretchIndex()
	if err != nil {
		slog.Warn("failed to read stretch rotation cursor", "error", err)
		index = 0
	}
	s := catalog[index%len(catalog)]
	if err := n.store.AdvanceStretchIndex(len(catalog)); err != nil {
		slog.Warn("failed to advance stretch rotation cursor", "error", err)
	}
	n.mu.Unlock()

	body := fmt.Sprintf("%s (%ds) — %s", s.Name, s.DurationSeconds, s.Instruction)
	if err := n.sender.Send(n.title, body); err != nil {
		slog.Warn("failed to send stretch reminder", "stretch", s.ID, "error", err)
	}

	if n.haptic {
		if hp, ok := n.sender.(HapticPlayer); ok {
			if err := hp.PlayHaptic("notification"); err != nil {
				slog.Debug("haptic playback failed", "error", err)
			}
		}
	}
}

// Package clock provides the server's monotonic notion of time and event
// identifiers, plus the skew-clamping arithmetic the ingest engine depends
// on to make client timestamps safe to order.
package clock

import (
	"time"

	"github.com/google/uuid"
)

// Clock abstracts wall-clock access so ingestion and export code can be
// tested with a fixed point in time instead of time.Now().
type Clock interface {
	// NowMS returns the current server time as Unix-epoch milliseconds.
	NowMS() int64
}

// System is the production Clock backed by time.Now().
type System struct{}

// NowMS implements Clock.
func (System) NowMS() int64 {
	return time.Now().UnixMilli()
}

// Fixed is a Clock that always returns the same instant. Used by tests that
// need deterministic skew-clamping and ordering behavior.
type Fixed int64

// NowMS implements Clock.
func (f Fixed) NowMS() int64 {
	return int64(f)
}

// NewEventID returns a new random UUID string suitable for event_id,
// decision_id-adjacent identifiers, and export job ids.
func NewEventID() string {
	return uuid.NewString()
}

// ClampSkew clamps a client-reported timestamp (ts_client, in Unix-epoch
// milliseconds) to the symmetric window [now-window, now+window].
//
// This is the single piece of arithmetic behind spec invariant P4: the
// persisted ts_client_effective must never differ from server time by more
// than the configured skew window, regardless of how far off a client's
// clock has drifted.
func ClampSkew(tsClient, now int64, window time.Duration) int64 {
	w := window.Milliseconds()

	lo := now - w
	hi := now + w

	switch {
	case tsClient < lo:
		return lo
	case tsClient > hi:
		return hi
	default:
		return tsClient
	}
}

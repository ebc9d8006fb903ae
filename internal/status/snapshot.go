// Package status holds the connection state snapshot, its display mapping,
// and the publisher that fans snapshots out to listeners.
package status

import "math"

// MaxReconnectAttempts is the attempt cap shown next to the reconnect counter.
const MaxReconnectAttempts = 10

// Snapshot is a point-in-time record of upstream connectivity.
// It is replaced wholesale on every change and never mutated in place.
type Snapshot struct {
	IsConnected       bool   `json:"is_connected"`
	IsReconnecting    bool   `json:"is_reconnecting"`
	ReconnectAttempts int    `json:"reconnect_attempts"`
	LastError         string `json:"last_error,omitempty"`

	// Latency is the last measured round trip in milliseconds.
	Latency *float64 `json:"latency_ms,omitempty"`
}

// State is the presentation-level classification of a Snapshot.
type State string

const (
	StateConnected    State = "connected"
	StateReconnecting State = "reconnecting"
	StateFailed       State = "failed"
	StateDisconnected State = "disconnected"
)

// String returns the string representation of State
func (s State) String() string {
	return string(s)
}

// Connected builds the snapshot for a live connection. latency may be nil.
func Connected(latency *float64) Snapshot {
	return Snapshot{IsConnected: true, Latency: latency}.Normalize()
}

// Reconnecting builds the snapshot for retry attempt n. lastErr is the
// failure that caused the retry and may be empty.
func Reconnecting(attempt int, lastErr string) Snapshot {
	return Snapshot{IsReconnecting: true, ReconnectAttempts: attempt, LastError: lastErr}.Normalize()
}

// Failed builds the snapshot reported after the retry budget is exhausted.
func Failed(attempts int, lastErr string) Snapshot {
	return Snapshot{ReconnectAttempts: attempts, LastError: lastErr}.Normalize()
}

// Disconnected builds the idle snapshot: no attempt made, no error.
func Disconnected() Snapshot {
	return Snapshot{}
}

// Normalize returns a copy of s with the snapshot invariants restored.
// Connected wins over reconnecting, and a connected snapshot carries no
// attempts and no error. Latency only survives on a connected snapshot.
func (s Snapshot) Normalize() Snapshot {
	if s.IsConnected {
		s.IsReconnecting = false
		s.ReconnectAttempts = 0
		s.LastError = ""
	}
	if s.ReconnectAttempts < 0 {
		s.ReconnectAttempts = 0
	}
	if s.Latency != nil {
		v := *s.Latency
		if !s.IsConnected || v < 0 || math.IsNaN(v) || math.IsInf(v, 0) {
			s.Latency = nil
		} else {
			s.Latency = &v
		}
	}
	return s
}

// State classifies the snapshot using the same precedence as Describe.
func (s Snapshot) State() State {
	switch {
	case s.IsConnected:
		return StateConnected
	case s.IsReconnecting:
		return StateReconnecting
	case s.LastError != "":
		return StateFailed
	default:
		return StateDisconnected
	}
}

// LatencyVisible reports whether a latency value may be shown.
func (s Snapshot) LatencyVisible() bool {
	return s.IsConnected && s.Latency != nil
}

// Equal compares two snapshots by value, including latency.
func (s Snapshot) Equal(o Snapshot) bool {
	if s.IsConnected != o.IsConnected ||
		s.IsReconnecting != o.IsReconnecting ||
		s.ReconnectAttempts != o.ReconnectAttempts ||
		s.LastError != o.LastError {
		return false
	}
	if s.Latency == nil || o.Latency == nil {
		return s.Latency == nil && o.Latency == nil
	}
	return *s.Latency == *o.Latency
}

// Milliseconds is a helper for building latency values.
func Milliseconds(v float64) *float64 {
	return &v
}

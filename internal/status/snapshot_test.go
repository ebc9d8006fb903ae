package status

import (
	"math"
	"testing"
)

func TestNormalize(t *testing.T) {
	tests := []struct {
		name     string
		in       Snapshot
		expected Snapshot
	}{
		{
			"connected clears attempts and error",
			Snapshot{IsConnected: true, IsReconnecting: true, ReconnectAttempts: 5, LastError: "x", Latency: Milliseconds(12)},
			Snapshot{IsConnected: true, Latency: Milliseconds(12)},
		},
		{
			"negative attempts",
			Snapshot{ReconnectAttempts: -2},
			Snapshot{},
		},
		{
			"latency dropped while disconnected",
			Snapshot{LastError: "x", ReconnectAttempts: 1, Latency: Milliseconds(120)},
			Snapshot{LastError: "x", ReconnectAttempts: 1},
		},
		{
			"negative latency dropped",
			Snapshot{IsConnected: true, Latency: Milliseconds(-1)},
			Snapshot{IsConnected: true},
		},
		{
			"NaN latency dropped",
			Snapshot{IsConnected: true, Latency: Milliseconds(math.NaN())},
			Snapshot{IsConnected: true},
		},
	}

	for _, tt := range tests {
		got := tt.in.Normalize()
		if !got.Equal(tt.expected) {
			t.Errorf("%s: Normalize() = %+v, expected %+v", tt.name, got, tt.expected)
		}
		if got.IsConnected && got.IsReconnecting {
			t.Errorf("%s: connected and reconnecting both set", tt.name)
		}
	}
}

func TestNormalize_CopiesLatency(t *testing.T) {
	v := 40.0
	s := Snapshot{IsConnected: true, Latency: &v}.Normalize()
	v = 99
	if *s.Latency != 40 {
		t.Errorf("Latency = %v, expected 40 after caller mutation", *s.Latency)
	}
}

func TestState(t *testing.T) {
	tests := []struct {
		snapshot Snapshot
		expected State
	}{
		{Connected(Milliseconds(3)), StateConnected},
		{Reconnecting(1, ""), StateReconnecting},
		{Failed(10, "gave up"), StateFailed},
		{Disconnected(), StateDisconnected},
	}

	for _, tt := range tests {
		if got := tt.snapshot.State(); got != tt.expected {
			t.Errorf("State(%+v) = %s, expected %s", tt.snapshot, got, tt.expected)
		}
	}
}

func TestLatencyVisible(t *testing.T) {
	if (Snapshot{IsConnected: false, Latency: Milliseconds(120)}).LatencyVisible() {
		t.Errorf("latency must not be visible while disconnected")
	}
	if (Snapshot{IsConnected: true}).LatencyVisible() {
		t.Errorf("latency must not be visible when absent")
	}
	if !Connected(Milliseconds(8)).LatencyVisible() {
		t.Errorf("latency should be visible while connected")
	}
}

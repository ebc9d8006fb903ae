package status

import "fmt"

// Icon names the glyph shown for a state.
type Icon string

const (
	IconSuccess      Icon = "success"
	IconSpinner      Icon = "spinner"
	IconWarning      Icon = "warning"
	IconDisconnected Icon = "disconnected"
)

// Color is the tag used for the status dot and text.
type Color string

const (
	ColorGreen  Color = "green"
	ColorYellow Color = "yellow"
	ColorRed    Color = "red"
	ColorGray   Color = "gray"
)

// Display is what every status view renders for a snapshot.
type Display struct {
	Icon  Icon   `json:"icon"`
	Color Color  `json:"color"`
	Text  string `json:"text"`
}

// Describe maps a snapshot to its display. First match wins:
// connected, reconnecting, failed, disconnected.
func Describe(s Snapshot) Display {
	switch s.State() {
	case StateConnected:
		return Display{Icon: IconSuccess, Color: ColorGreen, Text: "Connected"}
	case StateReconnecting:
		return Display{
			Icon:  IconSpinner,
			Color: ColorYellow,
			Text:  fmt.Sprintf("Reconnecting... (%d/%d)", displayAttempts(s.ReconnectAttempts), MaxReconnectAttempts),
		}
	case StateFailed:
		return Display{Icon: IconWarning, Color: ColorRed, Text: "Connection Failed"}
	default:
		return Display{Icon: IconDisconnected, Color: ColorGray, Text: "Disconnected"}
	}
}

// ShowReconnectButton reports whether a manual retry should be offered.
// An idle disconnect with no attempts made does not offer one.
func ShowReconnectButton(s Snapshot) bool {
	return !s.IsConnected && !s.IsReconnecting && s.ReconnectAttempts > 0
}

// IndicatorVisible reports whether the floating indicator should show.
func IndicatorVisible(s Snapshot) bool {
	return !s.IsConnected || s.IsReconnecting
}

func displayAttempts(n int) int {
	if n < 0 {
		return 0
	}
	if n > MaxReconnectAttempts {
		return MaxReconnectAttempts
	}
	return n
}

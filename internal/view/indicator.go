package view

import (
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/svirmi/webdesk/internal/status"
)

var ErrInvalidCorner = errors.New("invalid corner")

// Corner anchors the floating indicator.
type Corner string

const (
	TopLeft     Corner = "top-left"
	TopRight    Corner = "top-right"
	BottomLeft  Corner = "bottom-left"
	BottomRight Corner = "bottom-right"
)

func ParseCorner(s string) (Corner, error) {
	switch c := Corner(strings.ToLower(strings.TrimSpace(s))); c {
	case TopLeft, TopRight, BottomLeft, BottomRight:
		return c, nil
	case "":
		return BottomRight, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrInvalidCorner, s)
	}
}

type IndicatorModel struct {
	status.Display
	Visible bool   `json:"visible"`
	Corner  Corner `json:"corner"`
}

// Indicator shows itself only while connectivity is degraded. It keeps
// its own subscription, independent of any panel.
type Indicator struct {
	corner Corner

	mu          sync.RWMutex
	snapshot    status.Snapshot
	unsubscribe func()
}

func NewIndicator(corner Corner) *Indicator {
	if corner == "" {
		corner = BottomRight
	}
	return &Indicator{corner: corner}
}

func (ind *Indicator) Mount(src Source, onUpdate func(IndicatorModel)) {
	ind.Unmount()

	unsubscribe := src.OnStatusChange(func(s status.Snapshot) {
		ind.mu.Lock()
		ind.snapshot = s
		ind.mu.Unlock()
		if onUpdate != nil {
			onUpdate(BuildIndicatorModel(s, ind.corner))
		}
	})

	ind.mu.Lock()
	ind.snapshot = src.Status()
	ind.unsubscribe = unsubscribe
	ind.mu.Unlock()
}

func (ind *Indicator) Unmount() {
	ind.mu.Lock()
	unsubscribe := ind.unsubscribe
	ind.unsubscribe = nil
	ind.mu.Unlock()

	if unsubscribe != nil {
		unsubscribe()
	}
}

func (ind *Indicator) Visible() bool {
	ind.mu.RLock()
	defer ind.mu.RUnlock()
	return status.IndicatorVisible(ind.snapshot)
}

func (ind *Indicator) Model() IndicatorModel {
	ind.mu.RLock()
	defer ind.mu.RUnlock()
	return BuildIndicatorModel(ind.snapshot, ind.corner)
}

// Render writes nothing while the indicator is hidden.
func (ind *Indicator) Render(w io.Writer) error {
	return renderIndicator(w, ind.Model())
}

func BuildIndicatorModel(s status.Snapshot, corner Corner) IndicatorModel {
	return IndicatorModel{
		Display: status.Describe(s),
		Visible: status.IndicatorVisible(s),
		Corner:  corner,
	}
}

// Package view turns status snapshots into the connection panel and the
// floating indicator shown on the desktop.
package view

import (
	"fmt"
	"io"
	"sync"

	"github.com/svirmi/webdesk/internal/status"
)

// Source is the connection manager as seen by a view.
type Source interface {
	Status() status.Snapshot
	OnStatusChange(fn status.Listener) (unsubscribe func())
	ForceReconnect()
}

type PanelOptions struct {
	Compact     bool
	ShowDetails bool
	Class       string
}

// PanelModel is everything the panel renders for one snapshot.
type PanelModel struct {
	status.Display
	State         status.State `json:"state"`
	Compact       bool         `json:"compact"`
	ShowReconnect bool         `json:"show_reconnect"`
	LatencyBadge  string       `json:"latency_badge,omitempty"`
	Details       []string     `json:"details,omitempty"`
	Tooltip       string       `json:"tooltip,omitempty"`
	Class         string       `json:"class,omitempty"`
}

// Panel is the detailed connection status view. It caches the last
// snapshot it saw and never modifies it.
type Panel struct {
	opts PanelOptions

	mu          sync.RWMutex
	src         Source
	snapshot    status.Snapshot
	unsubscribe func()
}

func NewPanel(opts PanelOptions) *Panel {
	return &Panel{opts: opts}
}

// Mount subscribes to src and caches its current snapshot. onUpdate, if
// set, is called with the new model after every change. Mounting an
// already mounted panel remounts it.
func (p *Panel) Mount(src Source, onUpdate func(PanelModel)) {
	p.Unmount()

	unsubscribe := src.OnStatusChange(func(s status.Snapshot) {
		p.mu.Lock()
		p.snapshot = s
		p.mu.Unlock()
		if onUpdate != nil {
			onUpdate(p.opts.model(s))
		}
	})

	p.mu.Lock()
	p.src = src
	p.snapshot = src.Status()
	p.unsubscribe = unsubscribe
	p.mu.Unlock()
}

// Unmount releases the subscription. Safe to call more than once.
func (p *Panel) Unmount() {
	p.mu.Lock()
	unsubscribe := p.unsubscribe
	p.unsubscribe = nil
	p.src = nil
	p.mu.Unlock()

	if unsubscribe != nil {
		unsubscribe()
	}
}

// Snapshot returns the cached snapshot.
func (p *Panel) Snapshot() status.Snapshot {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.snapshot
}

func (p *Panel) Model() PanelModel {
	return p.opts.model(p.Snapshot())
}

// Reconnect triggers ForceReconnect when the retry action is offered.
// It reports whether the request was sent.
func (p *Panel) Reconnect() bool {
	p.mu.RLock()
	src := p.src
	snapshot := p.snapshot
	p.mu.RUnlock()

	if src == nil || !status.ShowReconnectButton(snapshot) {
		return false
	}
	src.ForceReconnect()
	return true
}

func (p *Panel) Render(w io.Writer) error {
	return renderPanel(w, p.Model())
}

// BuildPanelModel maps a snapshot without mounting a panel.
func BuildPanelModel(s status.Snapshot, opts PanelOptions) PanelModel {
	return opts.model(s)
}

func (o PanelOptions) model(s status.Snapshot) PanelModel {
	m := PanelModel{
		Display:       status.Describe(s),
		State:         s.State(),
		Compact:       o.Compact,
		ShowReconnect: status.ShowReconnectButton(s),
		Class:         o.Class,
	}

	if s.LatencyVisible() {
		m.LatencyBadge = fmt.Sprintf("%.0fms", *s.Latency)
	}

	var details []string
	switch s.State() {
	case status.StateReconnecting:
		details = append(details, fmt.Sprintf("Attempt %d of %d", min(s.ReconnectAttempts, status.MaxReconnectAttempts), status.MaxReconnectAttempts))
		if s.LastError != "" {
			details = append(details, "Last error: "+s.LastError)
		}
	case status.StateFailed:
		details = append(details, "Error: "+s.LastError)
	}

	if o.Compact {
		m.Tooltip = m.Text
		if m.LatencyBadge != "" {
			m.Tooltip += " (" + m.LatencyBadge + ")"
		}
		for _, d := range details {
			m.Tooltip += "\n" + d
		}
	} else if o.ShowDetails {
		m.Details = details
	}

	return m
}

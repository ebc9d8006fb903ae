package websocket

import (
	"time"

	"github.com/svirmi/webdesk/internal/connection"
	"github.com/svirmi/webdesk/internal/status"
)

// Metrics represents the server's runtime metrics
type Metrics struct {
	ActiveConnections int64             `json:"active_connections"`
	TotalConnections  int64             `json:"total_connections"`
	DroppedClients    int64             `json:"dropped_clients"`
	StartTime         time.Time         `json:"start_time"`
	MaxConnections    int               `json:"max_connections"`
	MaxMessageSize    int64             `json:"max_message_size"`
	Uptime            string            `json:"uptime"`
	Connection        status.Snapshot   `json:"connection"`
	Upstream          *connection.Stats `json:"upstream,omitempty"`
	Publisher         *status.Metrics   `json:"publisher,omitempty"`
	Sessions          []ClientStats     `json:"sessions"`
}

// UpstreamStats is implemented by the connection manager.
type UpstreamStats interface {
	Stats() connection.Stats
}

// PublisherMetrics is implemented by sources backed by a status.Publisher.
type PublisherMetrics interface {
	GetMetrics() status.Metrics
}

func (s *Server) collectMetrics() Metrics {
	m := Metrics{
		ActiveConnections: int64(s.hub.ClientCount()),
		TotalConnections:  s.hub.TotalConnections(),
		DroppedClients:    s.hub.DroppedClients(),
		StartTime:         s.startTime,
		MaxConnections:    s.cfg.MaxConnections,
		MaxMessageSize:    s.cfg.MaxMessageSize,
		Uptime:            time.Since(s.startTime).Round(time.Second).String(),
		Connection:        s.source.Status(),
		Sessions:          s.hub.Sessions(),
	}
	if s.upstream != nil {
		stats := s.upstream.Stats()
		m.Upstream = &stats
	}
	if pm, ok := s.source.(PublisherMetrics); ok {
		metrics := pm.GetMetrics()
		m.Publisher = &metrics
	}
	return m
}

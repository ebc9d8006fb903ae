package websocket

import (
	"context"
	"errors"
	"sort"
	"sync/atomic"

	"github.com/rs/zerolog"
	"github.com/svirmi/webdesk/internal/logger"
	"github.com/svirmi/webdesk/internal/protocol"
)

var (
	ErrHubFull   = errors.New("hub is at max connections")
	ErrHubClosed = errors.New("hub is not running")
)

type registration struct {
	client *Client
	result chan error
}

// Hub tracks browser sessions and fans frames out to all of them.
type Hub struct {
	clients    map[*Client]struct{}
	broadcast  chan []byte
	register   chan registration
	unregister chan *Client
	sessions   chan chan []ClientStats
	done       chan struct{}

	maxConnections int
	count          atomic.Int64
	total          atomic.Int64
	dropped        atomic.Int64

	logger zerolog.Logger
}

func NewHub(maxConnections int, bufferSize int) *Hub {
	return &Hub{
		clients:        make(map[*Client]struct{}),
		broadcast:      make(chan []byte, bufferSize),
		register:       make(chan registration),
		unregister:     make(chan *Client),
		sessions:       make(chan chan []ClientStats),
		done:           make(chan struct{}),
		maxConnections: maxConnections,
		logger:         logger.GetLogger("hub"),
	}
}

func (h *Hub) Run(ctx context.Context) {
	h.logger.Info().Int("max_connections", h.maxConnections).Msg("Starting WebSocket hub")
	defer close(h.done)

	for {
		select {
		case <-ctx.Done():
			for client := range h.clients {
				delete(h.clients, client)
				client.Close()
			}
			h.count.Store(0)
			h.logger.Info().Msg("Shutting down WebSocket hub")
			return

		case req := <-h.register:
			if len(h.clients) >= h.maxConnections {
				req.result <- ErrHubFull
				continue
			}
			h.clients[req.client] = struct{}{}
			h.count.Store(int64(len(h.clients)))
			h.total.Add(1)
			req.result <- nil
			h.logger.Info().
				Str("client_id", req.client.id).
				Int("total_clients", len(h.clients)).
				Msg("Client registered")

		case reply := <-h.sessions:
			stats := make([]ClientStats, 0, len(h.clients))
			for client := range h.clients {
				stats = append(stats, client.GetStats())
			}
			reply <- stats

		case client := <-h.unregister:
			if _, ok := h.clients[client]; ok {
				delete(h.clients, client)
				h.count.Store(int64(len(h.clients)))
				client.Close()
				h.logger.Info().
					Str("client_id", client.id).
					Int("total_clients", len(h.clients)).
					Msg("Client unregistered")
			}

		case message := <-h.broadcast:
			for client := range h.clients {
				if !client.Enqueue(message) {
					delete(h.clients, client)
					client.Close()
					h.dropped.Add(1)
					h.logger.Warn().
						Str("client_id", client.id).
						Int("total_clients", len(h.clients)).
						Msg("Removed slow client")
				}
			}
			h.count.Store(int64(len(h.clients)))
		}
	}
}

// Register adds a session. It fails when the hub is full or stopped.
func (h *Hub) Register(c *Client) error {
	req := registration{client: c, result: make(chan error, 1)}
	select {
	case h.register <- req:
		return <-req.result
	case <-h.done:
		return ErrHubClosed
	}
}

func (h *Hub) Unregister(c *Client) {
	select {
	case h.unregister <- c:
	case <-h.done:
	}
}

// Broadcast queues a frame for every session.
func (h *Hub) Broadcast(msg []byte) {
	select {
	case h.broadcast <- msg:
	case <-h.done:
	}
}

// ForwardEvent re-broadcasts an upstream frame to browsers as an event.
func (h *Hub) ForwardEvent(msg *protocol.Message) {
	raw, err := protocol.Encode(protocol.TypeEvent, msg)
	if err != nil {
		h.logger.Error().Err(err).Str("type", msg.Type).Msg("Failed to encode upstream event")
		return
	}
	h.Broadcast(raw)
}

// Sessions returns the stats of every registered session, oldest first.
func (h *Hub) Sessions() []ClientStats {
	reply := make(chan []ClientStats, 1)
	select {
	case h.sessions <- reply:
	case <-h.done:
		return nil
	}
	stats := <-reply
	sort.Slice(stats, func(i, j int) bool {
		return stats[i].ConnectedAt.Before(stats[j].ConnectedAt)
	})
	return stats
}

// Full is a fast pre-check for the upgrade handler. Register enforces the
// limit.
func (h *Hub) Full() bool {
	return h.count.Load() >= int64(h.maxConnections)
}

func (h *Hub) ClientCount() int {
	return int(h.count.Load())
}

func (h *Hub) TotalConnections() int64 {
	return h.total.Load()
}

func (h *Hub) DroppedClients() int64 {
	return h.dropped.Load()
}

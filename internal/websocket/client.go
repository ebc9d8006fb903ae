package websocket

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/svirmi/webdesk/internal/logger"
	"github.com/svirmi/webdesk/internal/protocol"
	"github.com/svirmi/webdesk/internal/sequence"
	"github.com/svirmi/webdesk/internal/view"
)

// Client represents a single browser session
type Client struct {
	// The websocket connection
	conn *websocket.Conn

	// The hub managing this client
	hub *Hub

	// Buffered channel of outbound messages
	send chan []byte

	// Closed when the session ends
	done      chan struct{}
	closeOnce sync.Once

	// Unique client identifier
	id string

	// Context for handling client lifecycle
	ctx    context.Context
	cancel context.CancelFunc

	processor *protocol.Processor
	logger    zerolog.Logger

	// Views mounted for this session. viewMu orders their frames.
	viewMu    sync.Mutex
	panel     *view.Panel
	indicator *view.Indicator

	// Client metadata
	metadata struct {
		userID      string
		userAgent   string
		remoteAddr  string
		connectedAt time.Time
	}

	// Client statistics
	stats struct {
		messagesReceived atomic.Int64
		messagesSent     atomic.Int64
		bytesReceived    atomic.Int64
		bytesSent        atomic.Int64
		errors           atomic.Int64
		lastPing         atomic.Value // stores time.Time
	}
}

// ClientStats is a point-in-time view of one session.
type ClientStats struct {
	ID               string    `json:"id"`
	UserID           string    `json:"user_id"`
	UserAgent        string    `json:"user_agent"`
	RemoteAddr       string    `json:"remote_addr"`
	ConnectedAt      time.Time `json:"connected_at"`
	MessagesReceived int64     `json:"messages_received"`
	MessagesSent     int64     `json:"messages_sent"`
	BytesReceived    int64     `json:"bytes_received"`
	BytesSent        int64     `json:"bytes_sent"`
	Errors           int64     `json:"errors"`
	LastPing         time.Time `json:"last_ping"`
}

// NewClient creates a new client instance
func NewClient(hub *Hub, conn *websocket.Conn, proc *protocol.Processor, bufferSize int, userID, userAgent string) *Client {
	ctx, cancel := context.WithCancel(context.Background())

	client := &Client{
		hub:       hub,
		conn:      conn,
		send:      make(chan []byte, bufferSize),
		done:      make(chan struct{}),
		id:        uuid.New().String(),
		ctx:       ctx,
		cancel:    cancel,
		processor: proc,
	}

	// Initialize metadata
	client.metadata.connectedAt = time.Now()
	client.metadata.userID = userID
	client.metadata.userAgent = userAgent
	client.metadata.remoteAddr = conn.RemoteAddr().String()
	client.stats.lastPing.Store(time.Now())

	client.logger = logger.GetLogger("client").With().
		Str("client_id", client.id).
		Str("user_id", userID).
		Logger()

	return client
}

// Mount attaches a panel and an indicator to src. Each view keeps its own
// subscription and pushes its current model to the browser on every
// change, so the last frame of each type always matches the view.
func (c *Client) Mount(src view.Source, panelOpts view.PanelOptions, corner view.Corner) {
	c.viewMu.Lock()
	defer c.viewMu.Unlock()

	c.panel = view.NewPanel(panelOpts)
	c.indicator = view.NewIndicator(corner)

	c.panel.Mount(src, func(view.PanelModel) { c.pushPanel() })
	c.indicator.Mount(src, func(view.IndicatorModel) { c.pushIndicator() })

	c.push(protocol.TypePanel, c.panel.Model())
	c.push(protocol.TypeIndicator, c.indicator.Model())
}

func (c *Client) pushPanel() {
	c.viewMu.Lock()
	defer c.viewMu.Unlock()
	c.push(protocol.TypePanel, c.panel.Model())
}

func (c *Client) pushIndicator() {
	c.viewMu.Lock()
	defer c.viewMu.Unlock()
	c.push(protocol.TypeIndicator, c.indicator.Model())
}

// Unmount releases both view subscriptions. Safe to call more than once.
func (c *Client) Unmount() {
	if c.panel != nil {
		c.panel.Unmount()
	}
	if c.indicator != nil {
		c.indicator.Unmount()
	}
}

// PlaySequence streams seq to this session only. It stops when the
// session ends.
func (c *Client) PlaySequence(seq sequence.Sequence) {
	err := sequence.Run(c.ctx, seq, func(p sequence.Progress) {
		c.push(protocol.TypeSequence, p)
	})
	if err != nil {
		c.logger.Debug().Err(err).Str("sequence", seq.Name).Msg("Sequence interrupted")
	}
}

// ReadPump pumps messages from the websocket connection to the client
func (c *Client) ReadPump(pongWait time.Duration, maxMessageSize int64) {
	defer func() {
		c.Unmount()
		c.hub.Unregister(c)
		c.Close()
		c.conn.Close()
	}()

	// Configure connection
	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.stats.lastPing.Store(time.Now())
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err,
				websocket.CloseGoingAway,
				websocket.CloseNormalClosure) {
				c.logError("read error", err)
			}
			return
		}

		// Update statistics
		c.stats.messagesReceived.Add(1)
		c.stats.bytesReceived.Add(int64(len(message)))

		msg, err := c.processor.Decode(message)
		if err != nil {
			c.logError("process error", err)
			c.push(protocol.TypeError, map[string]string{"error": err.Error()})
			continue
		}

		c.handle(msg)
	}
}

func (c *Client) handle(msg *protocol.Message) {
	switch msg.Type {
	case protocol.TypeReconnect:
		sent := c.panel != nil && c.panel.Reconnect()
		c.logger.Info().Bool("sent", sent).Msg("Reconnect requested by client")
	case protocol.TypePing:
		c.push(protocol.TypePong, nil)
	default:
		c.logger.Debug().Str("type", msg.Type).Msg("Ignoring client message")
	}
}

// WritePump pumps messages from the send queue to the websocket connection
func (c *Client) WritePump(writeWait, pingPeriod time.Duration) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case <-c.done:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			c.conn.WriteMessage(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseGoingAway, ""))
			return

		case message := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				c.logError("write error", err)
				return
			}

			// Update statistics
			c.stats.messagesSent.Add(1)
			c.stats.bytesSent.Add(int64(len(message)))

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				c.logError("ping error", err)
				return
			}
		}
	}
}

// Enqueue queues a frame without blocking. It reports false when the
// session is closed or its queue is full.
func (c *Client) Enqueue(msg []byte) bool {
	select {
	case <-c.done:
		return false
	default:
	}

	select {
	case c.send <- msg:
		return true
	default:
		return false
	}
}

// Reject tells the browser to retry later and releases the session. Used
// when the hub refuses the client.
func (c *Client) Reject(writeWait time.Duration, err error) {
	c.conn.SetWriteDeadline(time.Now().Add(writeWait))
	c.conn.WriteMessage(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseTryAgainLater, err.Error()))
	c.Close()
	c.conn.Close()
}

// Close ends the session. Safe to call more than once.
func (c *Client) Close() {
	c.closeOnce.Do(func() {
		c.cancel()
		close(c.done)
	})
}

// GetStats returns current client statistics
func (c *Client) GetStats() ClientStats {
	lastPing, _ := c.stats.lastPing.Load().(time.Time)
	return ClientStats{
		ID:               c.id,
		UserID:           c.metadata.userID,
		UserAgent:        c.metadata.userAgent,
		RemoteAddr:       c.metadata.remoteAddr,
		ConnectedAt:      c.metadata.connectedAt,
		MessagesReceived: c.stats.messagesReceived.Load(),
		MessagesSent:     c.stats.messagesSent.Load(),
		BytesReceived:    c.stats.bytesReceived.Load(),
		BytesSent:        c.stats.bytesSent.Load(),
		Errors:           c.stats.errors.Load(),
		LastPing:         lastPing,
	}
}

// Helper methods

// push encodes and queues a frame for this session.
func (c *Client) push(msgType string, payload any) {
	raw, err := protocol.Encode(msgType, payload)
	if err != nil {
		c.logError("encode error", err)
		return
	}
	if !c.Enqueue(raw) {
		c.logger.Warn().Str("type", msgType).Msg("Dropped frame for client")
	}
}

// logError logs an error with context
func (c *Client) logError(context string, err error) {
	c.stats.errors.Add(1)
	c.logger.Error().Err(err).Str("context", context).Msg("Client error")
}

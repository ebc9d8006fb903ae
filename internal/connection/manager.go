// Package connection keeps the process-wide websocket connection to the
// upstream event feed and reports its state as status snapshots.
package connection

import (
	"context"
	"errors"
	"math"
	"math/rand"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/svirmi/webdesk/internal/logger"
	"github.com/svirmi/webdesk/internal/protocol"
	"github.com/svirmi/webdesk/internal/status"
)

var errClosedByPeer = errors.New("connection closed by upstream")

type Options struct {
	URL              string
	MaxAttempts      int
	BaseDelay        time.Duration
	MaxDelay         time.Duration
	HandshakeTimeout time.Duration
	PingInterval     time.Duration
	PongWait         time.Duration
	WriteTimeout     time.Duration
	MaxMessageSize   int64
}

// MessageHandler receives decoded upstream frames.
type MessageHandler func(msg *protocol.Message)

// Manager owns one upstream connection for the lifetime of the process.
// Its state is read through Status and OnStatusChange and is only changed
// by network events or ForceReconnect.
type Manager struct {
	opts      Options
	dialer    websocket.Dialer
	publisher *status.Publisher
	processor *protocol.Processor
	logger    zerolog.Logger

	reconnect chan struct{}

	mu      sync.RWMutex
	conn    *websocket.Conn
	handler MessageHandler

	// Atomic counters
	messagesCount atomic.Int64
	bytesReceived atomic.Int64
	errorCount    atomic.Int64
	lastMessage   atomic.Value // stores time.Time
}

func NewManager(opts Options, publisher *status.Publisher) *Manager {
	if opts.MaxAttempts <= 0 {
		opts.MaxAttempts = status.MaxReconnectAttempts
	}
	if opts.BaseDelay <= 0 {
		opts.BaseDelay = time.Second
	}
	if opts.MaxDelay < opts.BaseDelay {
		opts.MaxDelay = opts.BaseDelay
	}
	if opts.WriteTimeout <= 0 {
		opts.WriteTimeout = 10 * time.Second
	}
	if opts.MaxMessageSize <= 0 {
		opts.MaxMessageSize = 512 * 1024
	}

	m := &Manager{
		opts: opts,
		dialer: websocket.Dialer{
			HandshakeTimeout: opts.HandshakeTimeout,
		},
		publisher: publisher,
		processor: protocol.NewProcessor(opts.MaxMessageSize),
		logger:    logger.GetLogger("connection_manager").With().Str("url", opts.URL).Logger(),
		reconnect: make(chan struct{}, 1),
	}
	m.lastMessage.Store(time.Time{})
	return m
}

// SetMessageHandler installs the receiver for upstream frames.
func (m *Manager) SetMessageHandler(h MessageHandler) {
	m.mu.Lock()
	m.handler = h
	m.mu.Unlock()
}

// Status returns the current snapshot.
func (m *Manager) Status() status.Snapshot {
	return m.publisher.Status()
}

// OnStatusChange registers fn for every later snapshot and returns the
// function that removes it.
func (m *Manager) OnStatusChange(fn status.Listener) (unsubscribe func()) {
	return m.publisher.Subscribe(fn)
}

// GetMetrics reports the delivery counters of the status publisher.
func (m *Manager) GetMetrics() status.Metrics {
	return m.publisher.GetMetrics()
}

// ForceReconnect asks for an immediate attempt. From Failed or Disconnected
// it starts a fresh cycle at attempt 1. While reconnecting it skips the
// pending backoff without resetting the count. It is ignored while
// connected. It never blocks and may be called repeatedly.
func (m *Manager) ForceReconnect() {
	if m.Status().IsConnected {
		m.logger.Debug().Msg("Reconnect requested while connected, ignoring")
		return
	}
	select {
	case m.reconnect <- struct{}{}:
		m.logger.Info().Msg("Manual reconnect requested")
	default:
	}
}

// Run dials and redials until ctx is cancelled.
func (m *Manager) Run(ctx context.Context) error {
	m.logger.Info().Int("max_attempts", m.opts.MaxAttempts).Msg("Starting connection manager")

	attempt := 0
	for {
		conn, err := m.dial(ctx)
		if err == nil {
			attempt = 0
			m.drainReconnect()
			m.publisher.Publish(status.Connected(nil))
			m.logger.Info().Msg("Upstream connected")

			err = m.serve(ctx, conn)
		}

		if ctx.Err() != nil {
			m.publisher.Publish(status.Disconnected())
			m.logger.Info().Msg("Connection manager stopped")
			return nil
		}

		m.errorCount.Add(1)
		m.logger.Warn().Err(err).Int("attempt", attempt).Msg("Upstream connection lost")

		if attempt >= m.opts.MaxAttempts {
			m.publisher.Publish(status.Failed(attempt, err.Error()))
			m.logger.Error().Int("attempts", attempt).Msg("Reconnect attempts exhausted, waiting for manual reconnect")

			select {
			case <-ctx.Done():
				m.publisher.Publish(status.Disconnected())
				return nil
			case <-m.reconnect:
			}

			m.publisher.Publish(status.Reconnecting(1, err.Error()))
			attempt = 1
			continue
		}

		attempt++
		m.publisher.Publish(status.Reconnecting(attempt, err.Error()))

		delay := m.backoff(attempt)
		m.logger.Debug().Int("attempt", attempt).Dur("delay", delay).Msg("Scheduling reconnect")

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			m.publisher.Publish(status.Disconnected())
			return nil
		case <-m.reconnect:
			timer.Stop()
		case <-timer.C:
		}
	}
}

// backoff is base * 2^(attempt-1) capped at MaxDelay, plus jitter below base.
func (m *Manager) backoff(attempt int) time.Duration {
	exp := math.Pow(2, float64(attempt-1))
	delay := time.Duration(float64(m.opts.BaseDelay) * exp)
	if delay > m.opts.MaxDelay || delay <= 0 {
		delay = m.opts.MaxDelay
	}
	jitter := time.Duration(rand.Int63n(int64(m.opts.BaseDelay)))
	return delay + jitter
}

func (m *Manager) dial(ctx context.Context) (*websocket.Conn, error) {
	conn, _, err := m.dialer.DialContext(ctx, m.opts.URL, nil)
	if err != nil {
		return nil, err
	}

	m.mu.Lock()
	m.conn = conn
	m.mu.Unlock()

	return conn, nil
}

// serve pings the connection and measures latency while readPump consumes
// frames. It returns when the connection drops or ctx is cancelled.
func (m *Manager) serve(ctx context.Context, conn *websocket.Conn) error {
	defer func() {
		m.mu.Lock()
		if m.conn == conn {
			m.conn = nil
		}
		m.mu.Unlock()
		conn.Close()
	}()

	var pingSent atomic.Int64

	conn.SetReadLimit(m.opts.MaxMessageSize)
	if m.opts.PongWait > 0 {
		conn.SetReadDeadline(time.Now().Add(m.opts.PongWait))
	}
	conn.SetPongHandler(func(string) error {
		if sent := pingSent.Load(); sent > 0 {
			rtt := time.Since(time.Unix(0, sent))
			ms := float64(rtt.Microseconds()) / 1000
			m.publisher.Publish(status.Connected(&ms))
		}
		if m.opts.PongWait > 0 {
			conn.SetReadDeadline(time.Now().Add(m.opts.PongWait))
		}
		return nil
	})

	errc := make(chan error, 1)
	go func() {
		errc <- m.readPump(conn)
	}()

	var tick <-chan time.Time
	if m.opts.PingInterval > 0 {
		ticker := time.NewTicker(m.opts.PingInterval)
		defer ticker.Stop()
		tick = ticker.C
	}

	for {
		select {
		case <-ctx.Done():
			deadline := time.Now().Add(m.opts.WriteTimeout)
			conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseGoingAway, "shutting down"), deadline)
			return ctx.Err()

		case err := <-errc:
			return err

		case <-tick:
			pingSent.Store(time.Now().UnixNano())
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(m.opts.WriteTimeout)); err != nil {
				return err
			}
		}
	}
}

func (m *Manager) readPump(conn *websocket.Conn) error {
	for {
		_, message, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				return errClosedByPeer
			}
			return err
		}

		m.lastMessage.Store(time.Now())
		m.messagesCount.Add(1)
		m.bytesReceived.Add(int64(len(message)))

		msg, err := m.processor.Decode(message)
		if err != nil {
			m.logger.Warn().Err(err).Int("size", len(message)).Msg("Dropping invalid upstream frame")
			continue
		}

		m.mu.RLock()
		handler := m.handler
		m.mu.RUnlock()

		if handler != nil {
			handler(msg)
		}
	}
}

func (m *Manager) drainReconnect() {
	select {
	case <-m.reconnect:
	default:
	}
}

type Stats struct {
	Connected     bool      `json:"connected"`
	LastMessage   time.Time `json:"last_message,omitempty"`
	MessagesCount int64     `json:"messages_count"`
	BytesReceived int64     `json:"bytes_received"`
	Errors        int64     `json:"errors"`
	InvalidFrames int64     `json:"invalid_frames"`
}

func (m *Manager) Stats() Stats {
	m.mu.RLock()
	connected := m.conn != nil
	m.mu.RUnlock()

	return Stats{
		Connected:     connected,
		LastMessage:   m.lastMessage.Load().(time.Time),
		MessagesCount: m.messagesCount.Load(),
		BytesReceived: m.bytesReceived.Load(),
		Errors:        m.errorCount.Load(),
		InvalidFrames: m.processor.GetStats().ErrorCount,
	}
}

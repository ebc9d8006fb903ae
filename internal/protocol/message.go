package protocol

import (
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"
)

// Message types exchanged with browsers and the upstream feed.
const (
	TypePanel     = "panel"
	TypeIndicator = "indicator"
	TypeSequence  = "sequence"
	TypeEvent     = "event"
	TypeReconnect = "reconnect"
	TypePing      = "ping"
	TypePong      = "pong"
	TypeError     = "error"
)

// Common errors
var (
	ErrMessageTooLarge = errors.New("message size exceeds limit")
	ErrMissingType     = errors.New("message type is required")
)

type Message struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
	Time    time.Time       `json:"time"`
}

// New builds a message with payload marshalled to JSON. A nil payload is omitted.
func New(msgType string, payload any) (Message, error) {
	msg := Message{Type: msgType, Time: time.Now().UTC()}
	if payload == nil {
		return msg, nil
	}
	raw, err := json.Marshal(payload)
	if err != nil {
		return Message{}, fmt.Errorf("marshal %s payload: %w", msgType, err)
	}
	msg.Payload = raw
	return msg, nil
}

// Encode builds a message and returns its wire form.
func Encode(msgType string, payload any) ([]byte, error) {
	msg, err := New(msgType, payload)
	if err != nil {
		return nil, err
	}
	return json.Marshal(msg)
}

type Processor struct {
	maxMessageSize int64
	stats          ProcessorStats
	mu             sync.Mutex
}

type ProcessorStats struct {
	ProcessedCount int64     `json:"processed_count"`
	ErrorCount     int64     `json:"error_count"`
	LastError      string    `json:"last_error,omitempty"`
	LastErrorTime  time.Time `json:"last_error_time,omitempty"`
	StartTime      time.Time `json:"start_time"`
}

func NewProcessor(maxMessageSize int64) *Processor {
	return &Processor{
		maxMessageSize: maxMessageSize,
		stats: ProcessorStats{
			StartTime: time.Now(),
		},
	}
}

// Decode validates and parses one frame.
func (p *Processor) Decode(data []byte) (*Message, error) {
	// Check message size
	if int64(len(data)) > p.maxMessageSize {
		return nil, p.fail(fmt.Errorf("%w: %d > %d", ErrMessageTooLarge, len(data), p.maxMessageSize))
	}

	// Parse message
	var msg Message
	if err := json.Unmarshal(data, &msg); err != nil {
		return nil, p.fail(fmt.Errorf("invalid message format: %w", err))
	}

	// Validate message type
	if msg.Type == "" {
		return nil, p.fail(ErrMissingType)
	}

	// Set message time if not set
	if msg.Time.IsZero() {
		msg.Time = time.Now().UTC()
	}

	p.mu.Lock()
	p.stats.ProcessedCount++
	p.mu.Unlock()

	return &msg, nil
}

func (p *Processor) fail(err error) error {
	p.mu.Lock()
	p.stats.ErrorCount++
	p.stats.LastError = err.Error()
	p.stats.LastErrorTime = time.Now()
	p.mu.Unlock()
	return err
}

func (p *Processor) GetStats() ProcessorStats {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.stats
}

package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/svirmi/webdesk/internal/status"
)

var ErrNotFound = errors.New("not found")

const schema = `
CREATE TABLE IF NOT EXISTS settings (
    user_id    TEXT NOT NULL,
    key        TEXT NOT NULL,
    value      TEXT NOT NULL,
    updated_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
    PRIMARY KEY (user_id, key)
);

CREATE TABLE IF NOT EXISTS connection_events (
    id          INTEGER PRIMARY KEY AUTOINCREMENT,
    state       TEXT NOT NULL,
    attempts    INTEGER NOT NULL DEFAULT 0,
    last_error  TEXT NOT NULL DEFAULT '',
    latency_ms  REAL,
    recorded_at DATETIME NOT NULL
);
`

// ConnectionEvent is one recorded state transition.
type ConnectionEvent struct {
	ID         int64        `json:"id"`
	State      status.State `json:"state"`
	Attempts   int          `json:"attempts"`
	LastError  string       `json:"last_error,omitempty"`
	Latency    *float64     `json:"latency_ms,omitempty"`
	RecordedAt time.Time    `json:"recorded_at"`
}

type SQLiteStore struct {
	db *sql.DB
	mu sync.Mutex

	lastState status.State
	lastError string
	attempts  int
}

func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil, err
	}

	// Enable WAL mode for better concurrent access
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, err
	}

	return &SQLiteStore{
		db: db,
	}, nil
}

// Migrate creates the tables if they do not exist.
func (s *SQLiteStore) Migrate(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("migrate: %w", err)
	}
	return nil
}

func (s *SQLiteStore) GetSetting(ctx context.Context, userID, key string) (string, error) {
	var value string
	err := s.db.QueryRowContext(ctx,
		`SELECT value FROM settings WHERE user_id = ? AND key = ?`, userID, key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return "", ErrNotFound
	}
	if err != nil {
		return "", fmt.Errorf("get setting %s: %w", key, err)
	}
	return value, nil
}

func (s *SQLiteStore) PutSetting(ctx context.Context, userID, key, value string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.ExecContext(ctx, `
        INSERT INTO settings (user_id, key, value, updated_at)
        VALUES (?, ?, ?, CURRENT_TIMESTAMP)
        ON CONFLICT (user_id, key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at
    `, userID, key, value)
	if err != nil {
		return fmt.Errorf("put setting %s: %w", key, err)
	}
	return nil
}

// RecordSnapshot stores s if it changes the state, the attempt count, or
// the error. Latency-only updates are skipped. It reports whether a row
// was written.
func (s *SQLiteStore) RecordSnapshot(ctx context.Context, snap status.Snapshot) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	state := snap.State()
	if state == s.lastState && snap.ReconnectAttempts == s.attempts && snap.LastError == s.lastError {
		return false, nil
	}

	var latency sql.NullFloat64
	if snap.LatencyVisible() {
		latency = sql.NullFloat64{Float64: *snap.Latency, Valid: true}
	}

	_, err := s.db.ExecContext(ctx, `
        INSERT INTO connection_events (state, attempts, last_error, latency_ms, recorded_at)
        VALUES (?, ?, ?, ?, ?)
    `, string(state), snap.ReconnectAttempts, snap.LastError, latency, time.Now().UTC())
	if err != nil {
		return false, fmt.Errorf("record snapshot: %w", err)
	}

	s.lastState = state
	s.attempts = snap.ReconnectAttempts
	s.lastError = snap.LastError
	return true, nil
}

// History returns up to limit events, newest first.
func (s *SQLiteStore) History(ctx context.Context, limit int) ([]ConnectionEvent, error) {
	if limit <= 0 {
		limit = 50
	}

	rows, err := s.db.QueryContext(ctx, `
        SELECT id, state, attempts, last_error, latency_ms, recorded_at
        FROM connection_events
        ORDER BY id DESC
        LIMIT ?
    `, limit)
	if err != nil {
		return nil, fmt.Errorf("query history: %w", err)
	}
	defer rows.Close()

	events := make([]ConnectionEvent, 0, limit)
	for rows.Next() {
		var (
			ev      ConnectionEvent
			state   string
			latency sql.NullFloat64
		)
		if err := rows.Scan(&ev.ID, &state, &ev.Attempts, &ev.LastError, &latency, &ev.RecordedAt); err != nil {
			return nil, fmt.Errorf("scan history: %w", err)
		}
		ev.State = status.State(state)
		if latency.Valid {
			v := latency.Float64
			ev.Latency = &v
		}
		events = append(events, ev)
	}
	return events, rows.Err()
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

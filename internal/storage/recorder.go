package storage

import (
	"context"
	"time"

	"github.com/rs/zerolog"
	"github.com/svirmi/webdesk/internal/logger"
	"github.com/svirmi/webdesk/internal/status"
)

// Recorder writes connection transitions to the store as they are published.
type Recorder struct {
	store   *SQLiteStore
	timeout time.Duration
	logger  zerolog.Logger
}

func NewRecorder(store *SQLiteStore, timeout time.Duration) *Recorder {
	return &Recorder{
		store:   store,
		timeout: timeout,
		logger:  logger.GetLogger("recorder"),
	}
}

// Attach subscribes to src and returns the unsubscribe function.
func (r *Recorder) Attach(subscribe func(status.Listener) func()) func() {
	return subscribe(r.Record)
}

func (r *Recorder) Record(s status.Snapshot) {
	ctx, cancel := context.WithTimeout(context.Background(), r.timeout)
	defer cancel()

	written, err := r.store.RecordSnapshot(ctx, s)
	if err != nil {
		r.logger.Error().Err(err).Str("state", s.State().String()).Msg("Failed to record connection event")
		return
	}
	if written {
		r.logger.Debug().
			Str("state", s.State().String()).
			Int("attempts", s.ReconnectAttempts).
			Msg("Recorded connection event")
	}
}

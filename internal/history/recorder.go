package history

import (
	"context"
	"errors"
	"log/slog"

	"github.com/peterje/steamsession/internal/login"
)

// Recorder persists the login event stream.
type Recorder struct {
	store *Store
	log   *slog.Logger
}

// NewRecorder creates a Recorder writing to store.
func NewRecorder(store *Store, log *slog.Logger) *Recorder {
	if log == nil {
		log = slog.Default()
	}
	return &Recorder{store: store, log: log.With("component", "history")}
}

// Run consumes events until ctx is done or the channel is closed.
func (r *Recorder) Run(ctx context.Context, events <-chan login.Event) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case e, ok := <-events:
			if !ok {
				return nil
			}
			if err := r.Record(ctx, e); err != nil {
				r.log.Warn("record event failed", "type", e.Type, "session", e.SessionID, "error", err)
			}
		}
	}
}

// Record applies one event to the attempt it belongs to.
func (r *Recorder) Record(ctx context.Context, e login.Event) error {
	switch e.Type {
	case login.EventStateChanged:
		if e.To == login.StateLaunching {
			return r.store.Begin(ctx, e.SessionID, e.Username, e.At)
		}
		err := r.store.SetState(ctx, e.SessionID, string(e.To))
		if errors.Is(err, ErrNotFound) {
			// Attempt started before the recorder subscribed.
			return nil
		}
		return err
	case login.EventCodeRequested:
		return r.store.MarkCodeRequested(ctx, e.SessionID)
	case login.EventCompleted:
		return r.store.Finish(ctx, e.SessionID, e.Success, e.Reason, e.At)
	}
	return nil
}

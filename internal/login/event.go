package login

import (
	"log/slog"
	"sync"
	"time"
)

// EventType names an event published to subscribers.
type EventType string

const (
	EventStateChanged  EventType = "state_changed"
	EventOutput        EventType = "output"
	EventCodeRequested EventType = "code_requested"
	EventWarning       EventType = "warning"
	EventCompleted     EventType = "completed"
)

// Event is published for every state change, output chunk, code request,
// warning and completion of a session.
type Event struct {
	Type      EventType `json:"type"`
	SessionID string    `json:"session_id"`
	Username  string    `json:"username,omitempty"`
	At        time.Time `json:"at"`

	From State `json:"from,omitempty"`
	To   State `json:"to,omitempty"`

	Text string `json:"text,omitempty"` // output and warning

	Success bool   `json:"success"` // completed
	Reason  string `json:"reason,omitempty"`
}

// hub fans events out to subscribers. Sends never block; a subscriber
// that falls behind loses events.
type hub struct {
	mu     sync.Mutex
	subs   map[chan Event]struct{}
	size   int
	closed bool
	log    *slog.Logger
}

func newHub(size int, log *slog.Logger) *hub {
	if size < 1 {
		size = 256
	}
	return &hub{subs: make(map[chan Event]struct{}), size: size, log: log}
}

func (h *hub) subscribe() (<-chan Event, func()) {
	ch := make(chan Event, h.size)
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		close(ch)
		return ch, func() {}
	}
	h.subs[ch] = struct{}{}
	h.mu.Unlock()

	var once sync.Once
	unsub := func() {
		once.Do(func() {
			h.mu.Lock()
			if _, ok := h.subs[ch]; ok {
				delete(h.subs, ch)
				close(ch)
			}
			h.mu.Unlock()
		})
	}
	return ch, unsub
}

func (h *hub) publish(e Event) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for ch := range h.subs {
		select {
		case ch <- e:
		default:
			h.log.Warn("subscriber full, event dropped", "type", e.Type, "session", e.SessionID)
		}
	}
}

// close closes every subscriber channel; later subscribers get a closed channel.
func (h *hub) close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.closed = true
	for ch := range h.subs {
		close(ch)
		delete(h.subs, ch)
	}
}

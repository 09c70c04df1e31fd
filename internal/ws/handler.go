package ws

import (
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/peterje/steamsession/internal/login"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

const writeTimeout = 10 * time.Second

// Session is the part of login.Manager the socket needs.
type Session interface {
	Subscribe() (<-chan login.Event, func())
	Snapshot() login.Snapshot
	SubmitCode(code string) error
	Cancel()
}

// clientMsg is an inbound control message.
type clientMsg struct {
	Type string `json:"type"` // "code" or "cancel"
	Code string `json:"code,omitempty"`
}

// snapshotMsg is the first message sent on every connection.
type snapshotMsg struct {
	Type     string         `json:"type"`
	Snapshot login.Snapshot `json:"snapshot"`
}

// errorMsg reports a rejected client message.
type errorMsg struct {
	Type  string `json:"type"`
	Error string `json:"error"`
}

type Handler struct {
	manager Session
	log     *slog.Logger
}

func NewHandler(manager Session, log *slog.Logger) *Handler {
	return &Handler{manager: manager, log: log.With("component", "ws")}
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	// Subscribe before the snapshot so no event falls between the two.
	events, unsub := h.manager.Subscribe()
	defer unsub()

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Warn("upgrade failed", "error", err)
		return
	}
	defer conn.Close()

	h.log.Debug("client connected", "remote", r.RemoteAddr)

	var writeMu sync.Mutex
	send := func(v any) error {
		writeMu.Lock()
		defer writeMu.Unlock()
		conn.SetWriteDeadline(time.Now().Add(writeTimeout))
		return conn.WriteJSON(v)
	}

	if err := send(snapshotMsg{Type: "snapshot", Snapshot: h.manager.Snapshot()}); err != nil {
		h.log.Warn("snapshot send failed", "error", err)
		return
	}

	var wg sync.WaitGroup
	done := make(chan struct{})

	// Client -> manager
	wg.Add(1)
	go func() {
		defer wg.Done()
		defer close(done)
		for {
			var msg clientMsg
			if err := conn.ReadJSON(&msg); err != nil {
				if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
					h.log.Debug("read from client failed", "error", err)
				}
				return
			}
			if err := h.dispatch(msg); err != nil {
				if send(errorMsg{Type: "error", Error: err.Error()}) != nil {
					return
				}
			}
		}
	}()

	// Manager events -> client
	for {
		select {
		case <-done:
			wg.Wait()
			h.log.Debug("client disconnected", "remote", r.RemoteAddr)
			return
		case e, ok := <-events:
			if !ok {
				writeMu.Lock()
				conn.WriteMessage(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseGoingAway, "shutting down"))
				writeMu.Unlock()
				conn.Close()
				wg.Wait()
				return
			}
			if err := send(e); err != nil {
				h.log.Debug("write to client failed", "error", err)
				conn.Close()
				wg.Wait()
				return
			}
		}
	}
}

func (h *Handler) dispatch(msg clientMsg) error {
	switch msg.Type {
	case "code":
		return h.manager.SubmitCode(msg.Code)
	case "cancel":
		h.manager.Cancel()
		return nil
	default:
		return fmt.Errorf("unknown message type %q", msg.Type)
	}
}

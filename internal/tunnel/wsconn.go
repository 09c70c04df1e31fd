package tunnel

import (
	"errors"
	"io"
	"sync"

	"github.com/gorilla/websocket"
)

// WSConn carries a byte stream over a websocket so yamux can run on top of
// it. Each Write is one binary message; Read streams across message
// boundaries and skips anything that is not binary.
type WSConn struct {
	conn *websocket.Conn
	mu   sync.Mutex // serializes writes
	r    io.Reader  // message being read
}

func NewWSConn(conn *websocket.Conn) *WSConn {
	return &WSConn{conn: conn}
}

func (w *WSConn) Read(p []byte) (int, error) {
	for {
		if w.r == nil {
			typ, r, err := w.conn.NextReader()
			if err != nil {
				return 0, err
			}
			if typ != websocket.BinaryMessage {
				continue
			}
			w.r = r
		}
		n, err := w.r.Read(p)
		if errors.Is(err, io.EOF) {
			w.r = nil
			if n == 0 {
				continue
			}
			err = nil
		}
		return n, err
	}
}

func (w *WSConn) Write(p []byte) (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if err := w.conn.WriteMessage(websocket.BinaryMessage, p); err != nil {
		return 0, err
	}
	return len(p), nil
}

func (w *WSConn) Close() error {
	return w.conn.Close()
}

var _ io.ReadWriteCloser = (*WSConn)(nil)

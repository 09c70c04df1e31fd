package tunnel

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"github.com/hashicorp/yamux"

	"github.com/peterje/steamsession/internal/config"
)

// SecretHeader carries the pre-shared secret on the tunnel handshake.
const SecretHeader = "X-Gateway-Secret"

// Client connects outbound to a gateway and multiplexes traffic via yamux,
// so the login API is reachable on hosts without an inbound port.
type Client struct {
	gatewayURL string // wss://gateway.example.com/tunnel
	secret     string // pre-shared secret
	localAddr  string // e.g. 127.0.0.1:8810
	dialer     websocket.Dialer
	log        *slog.Logger

	minBackoff time.Duration
	maxBackoff time.Duration
}

func NewClient(cfg config.Tunnel, localAddr string, log *slog.Logger) *Client {
	if log == nil {
		log = slog.Default()
	}
	return &Client{
		gatewayURL: cfg.GatewayURL,
		secret:     cfg.Secret,
		localAddr:  localAddr,
		dialer: websocket.Dialer{
			HandshakeTimeout: 10 * time.Second,
			TLSClientConfig:  &tls.Config{InsecureSkipVerify: cfg.SkipVerify},
		},
		log:        log.With("component", "tunnel"),
		minBackoff: time.Second,
		maxBackoff: 30 * time.Second,
	}
}

// Run connects to the gateway and serves tunnel traffic, reconnecting with
// backoff until ctx is cancelled.
func (c *Client) Run(ctx context.Context) error {
	backoff := c.minBackoff
	for {
		connected, err := c.connect(ctx)
		if ctx.Err() != nil {
			return nil
		}
		if connected {
			// Connected successfully at some point, reset backoff
			backoff = c.minBackoff
		}
		c.log.Warn("connection lost", "error", err, "retry_in", backoff)

		select {
		case <-ctx.Done():
			return nil
		case <-time.After(backoff):
		}
		if !connected {
			backoff = min(backoff*2, c.maxBackoff)
		}
	}
}

func (c *Client) connect(ctx context.Context) (bool, error) {
	header := http.Header{}
	header.Set(SecretHeader, c.secret)

	wsConn, resp, err := c.dialer.DialContext(ctx, c.gatewayURL, header)
	if err != nil {
		if resp != nil && resp.StatusCode == http.StatusUnauthorized {
			return false, fmt.Errorf("dial gateway: secret rejected")
		}
		return false, fmt.Errorf("dial gateway: %w", err)
	}
	defer wsConn.Close()

	c.log.Info("connected to gateway", "url", c.gatewayURL)

	// We are the yamux server: the gateway opens a stream per client connection.
	session, err := yamux.Server(NewWSConn(wsConn), yamux.DefaultConfig())
	if err != nil {
		return true, fmt.Errorf("yamux server: %w", err)
	}
	defer session.Close()

	stop := context.AfterFunc(ctx, func() { session.Close() })
	defer stop()

	for {
		stream, err := session.Accept()
		if err != nil {
			if errors.Is(err, io.EOF) || session.IsClosed() {
				return true, errors.New("session closed")
			}
			return true, fmt.Errorf("accept stream: %w", err)
		}
		go c.handleStream(stream)
	}
}

func (c *Client) handleStream(stream net.Conn) {
	defer stream.Close()

	local, err := net.Dial("tcp", c.localAddr)
	if err != nil {
		c.log.Warn("dial local failed", "addr", c.localAddr, "error", err)
		return
	}
	defer local.Close()

	// Bidirectional copy
	done := make(chan struct{})
	go func() {
		io.Copy(local, stream)
		if tcp, ok := local.(*net.TCPConn); ok {
			tcp.CloseWrite()
		}
		close(done)
	}()
	io.Copy(stream, local)
	<-done
}

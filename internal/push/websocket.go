package push

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// Dialer opens push channels against the chat service origin.
type Dialer struct {
	base   *url.URL
	dialer *websocket.Dialer
	logger *slog.Logger
}

// NewDialer derives the websocket origin from the HTTP base URL
// (http -> ws, https -> wss). jar supplies the session cookies for the
// handshake and may be nil.
func NewDialer(baseURL string, jar http.CookieJar, logger *slog.Logger) (*Dialer, error) {
	if logger == nil {
		return nil, fmt.Errorf("logger cannot be nil")
	}
	base, err := url.Parse(baseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse base url: %w", err)
	}
	switch base.Scheme {
	case "http", "ws":
		base.Scheme = "ws"
	case "https", "wss":
		base.Scheme = "wss"
	default:
		return nil, fmt.Errorf("unsupported scheme %q", base.Scheme)
	}

	return &Dialer{
		base: base,
		dialer: &websocket.Dialer{
			Proxy:            http.ProxyFromEnvironment,
			HandshakeTimeout: 10 * time.Second,
			Jar:              jar,
		},
		logger: logger,
	}, nil
}

// URL returns the websocket URL for path.
func (d *Dialer) URL(path string) (string, error) {
	u, err := d.base.Parse(path)
	if err != nil {
		return "", fmt.Errorf("failed to resolve %q: %w", path, err)
	}
	return u.String(), nil
}

// Dial connects to path.
func (d *Dialer) Dial(ctx context.Context, path string) (*Conn, error) {
	target, err := d.URL(path)
	if err != nil {
		return nil, err
	}

	conn, resp, err := d.dialer.DialContext(ctx, target, nil)
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("failed to connect to WebSocket (%s): %w", resp.Status, err)
		}
		return nil, fmt.Errorf("failed to connect to WebSocket: %w", err)
	}

	d.logger.Info("WebSocket connection established", "url", target)
	return &Conn{url: target, conn: conn, logger: d.logger}, nil
}

// Conn is one push channel. Writes are serialised. Reads must come from a
// single goroutine.
type Conn struct {
	url    string
	conn   *websocket.Conn
	logger *slog.Logger
	mu     sync.Mutex
	closed bool
}

// ReadMessage blocks for the next data frame. Decoding is left to the
// caller so a malformed frame does not end the read loop.
func (c *Conn) ReadMessage() ([]byte, error) {
	_, data, err := c.conn.ReadMessage()
	if err != nil {
		return nil, fmt.Errorf("failed to read frame: %w", err)
	}
	return data, nil
}

// WriteJSON publishes v as one text frame.
func (c *Conn) WriteJSON(v any) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return fmt.Errorf("connection is closed")
	}
	if err := c.conn.WriteJSON(v); err != nil {
		return fmt.Errorf("failed to write frame: %w", err)
	}
	return nil
}

// Close sends a normal-closure frame and closes the connection. It is safe
// to call more than once.
func (c *Conn) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return nil
	}
	c.closed = true

	deadline := time.Now().Add(time.Second)
	c.conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), deadline)
	err := c.conn.Close()

	c.logger.Info("WebSocket connection closed", "url", c.url)
	return err
}

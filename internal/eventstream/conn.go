package eventstream

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/vk/comfygrid/internal/ctxlog"
)

var (
	// ErrConnectTimeout is returned when the socket did not come up in time.
	ErrConnectTimeout = errors.New("timed out waiting for event stream connection")
	// ErrNotStarted is returned by Reconnect before the first Connect.
	ErrNotStarted = errors.New("event stream was never started")
	// ErrClosed is returned after Close.
	ErrClosed = errors.New("event stream closed")
)

// DefaultHandshakeTimeout bounds the WebSocket handshake.
const DefaultHandshakeTimeout = 5 * time.Second

// Handler receives every text frame.
type Handler interface {
	HandleMessage(ctx context.Context, data []byte)
}

// HandlerFunc adapts a function to Handler.
type HandlerFunc func(ctx context.Context, data []byte)

func (f HandlerFunc) HandleMessage(ctx context.Context, data []byte) { f(ctx, data) }

// URLFunc builds the feed address for a client id.
type URLFunc func(clientID string) string

// Option configures a Conn.
type Option func(*Conn)

// WithDialer replaces the WebSocket dialer.
func WithDialer(d *websocket.Dialer) Option {
	return func(c *Conn) { c.dialer = d }
}

// Conn is a reconnectable event feed.
type Conn struct {
	url     URLFunc
	handler Handler
	dialer  *websocket.Dialer

	// connectMu serializes Reconnect and Close.
	connectMu sync.Mutex

	mu       sync.Mutex
	base     context.Context
	status   Status
	changed  chan struct{}
	gen      uint64
	clientID string
	cancel   context.CancelFunc
	done     chan struct{}
	closed   bool
}

// New creates an idle connection. Nothing is dialed until Connect.
func New(url URLFunc, h Handler, opts ...Option) *Conn {
	c := &Conn{
		url:     url,
		handler: h,
		dialer:  &websocket.Dialer{HandshakeTimeout: DefaultHandshakeTimeout},
		changed: make(chan struct{}),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Status returns the current state.
func (c *Conn) Status() Status {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.status
}

// ClientID returns the id of the current or last connection.
func (c *Conn) ClientID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.clientID
}

// Connect tears down any existing socket and dials a new one for clientID
// in the background. The socket lives until ctx is done, the next Connect,
// or Close.
func (c *Conn) Connect(ctx context.Context, clientID string) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return ErrClosed
	}
	c.base = ctx
	c.mu.Unlock()
	return c.Reconnect(clientID)
}

// Reconnect is Connect reusing the lifetime of the first Connect.
func (c *Conn) Reconnect(clientID string) error {
	c.connectMu.Lock()
	defer c.connectMu.Unlock()
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return ErrClosed
	}
	if c.base == nil {
		c.mu.Unlock()
		return ErrNotStarted
	}
	c.stopLocked()

	c.gen++
	gen := c.gen
	ctx, cancel := context.WithCancel(c.base)
	done := make(chan struct{})
	c.clientID, c.cancel, c.done = clientID, cancel, done
	c.setStatusLocked(StatusConnecting)
	c.mu.Unlock()

	go func() {
		defer close(done)
		c.run(ctx, gen, clientID)
	}()
	return nil
}

// stopLocked cancels the running socket and waits for its reader to exit.
// c.mu is released while waiting.
func (c *Conn) stopLocked() {
	if c.cancel == nil {
		return
	}
	cancel, done := c.cancel, c.done
	c.cancel, c.done = nil, nil
	c.gen++
	c.mu.Unlock()
	cancel()
	<-done
	c.mu.Lock()
	c.setStatusLocked(StatusDisconnected)
}

// WaitForConnection blocks until the socket is connected. It fails with
// ErrConnectTimeout when timeout passes first.
func (c *Conn) WaitForConnection(ctx context.Context, timeout time.Duration) error {
	timer := time.NewTimer(timeout)
	defer timer.Stop()
	for {
		c.mu.Lock()
		status, changed, closed := c.status, c.changed, c.closed
		c.mu.Unlock()
		if closed {
			return ErrClosed
		}
		if status == StatusConnected {
			return nil
		}
		select {
		case <-changed:
		case <-timer.C:
			return fmt.Errorf("%w after %s (status %s)", ErrConnectTimeout, timeout, status)
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// Close disconnects and refuses further Connect calls.
func (c *Conn) Close() error {
	c.connectMu.Lock()
	defer c.connectMu.Unlock()
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil
	}
	c.stopLocked()
	c.closed = true
	c.setStatusLocked(StatusDisconnected)
	return nil
}

func (c *Conn) setStatusLocked(s Status) {
	if c.status == s {
		return
	}
	c.status = s
	close(c.changed)
	c.changed = make(chan struct{})
}

// setStatus ignores updates from a superseded generation.
func (c *Conn) setStatus(gen uint64, s Status) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if gen == c.gen {
		c.setStatusLocked(s)
	}
}

func (c *Conn) run(ctx context.Context, gen uint64, clientID string) {
	ctx, logger := ctxlog.With(ctx, "component", "eventstream", "client_id", clientID)
	url := c.url(clientID)

	logger.Debug("Dialing event stream.", "url", url)
	ws, _, err := c.dialer.DialContext(ctx, url, nil)
	if err != nil {
		if ctx.Err() != nil {
			c.setStatus(gen, StatusDisconnected)
			return
		}
		logger.Warn("Event stream connection failed.", "error", err)
		c.setStatus(gen, StatusError)
		return
	}
	defer ws.Close()

	stop := context.AfterFunc(ctx, func() {
		_ = ws.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(time.Second))
		_ = ws.Close()
	})
	defer stop()

	logger.Info("Event stream connected.")
	c.setStatus(gen, StatusConnected)

	for {
		kind, data, err := ws.ReadMessage()
		if err != nil {
			c.readFailed(ctx, gen, logger, err)
			return
		}
		if kind != websocket.TextMessage {
			// Binary frames carry preview images.
			continue
		}
		c.handler.HandleMessage(ctx, data)
	}
}

func (c *Conn) readFailed(ctx context.Context, gen uint64, logger *slog.Logger, err error) {
	switch {
	case ctx.Err() != nil:
		logger.Debug("Event stream stopped.")
		c.setStatus(gen, StatusDisconnected)
	case websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway):
		logger.Info("Event stream closed by backend.")
		c.setStatus(gen, StatusDisconnected)
	default:
		logger.Warn("Event stream read failed.", "error", err)
		c.setStatus(gen, StatusError)
	}
}

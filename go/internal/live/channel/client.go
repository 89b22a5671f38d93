// Package channel is the push channel client: a websocket transport that
// frames incoming text lines as commands and hands them to a Handler. It
// never retries on its own and never touches rendered state.
package channel

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"github.com/mcdev12/livecontrol/go/internal/live/command"
)

// Handler receives channel events. Callbacks run on the channel's read
// goroutine, one at a time.
type Handler interface {
	OnCommand(cmd command.Command)
	OnClose()
	OnError(err error)
}

// State is the channel lifecycle position
type State int

const (
	StateDisconnected State = iota
	StateConnecting
	StateOpen
	StateClosed
	StateErrored
)

func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateOpen:
		return "open"
	case StateClosed:
		return "closed"
	case StateErrored:
		return "errored"
	}
	return fmt.Sprintf("state(%d)", int(s))
}

var (
	ErrClosed           = errors.New("channel already closed")
	ErrNotConnected     = errors.New("channel not connected")
	ErrAlreadyConnected = errors.New("channel already connected")
)

// HandshakeError is returned when the server rejects the upgrade.
type HandshakeError struct {
	StatusCode int
	Err        error
}

func (e *HandshakeError) Error() string {
	return fmt.Sprintf("websocket handshake rejected with status %d: %v", e.StatusCode, e.Err)
}

func (e *HandshakeError) Unwrap() error { return e.Err }

// Unauthorized reports whether err is a handshake rejected with 401.
func Unauthorized(err error) bool {
	var hs *HandshakeError
	return errors.As(err, &hs) && hs.StatusCode == http.StatusUnauthorized
}

// Config holds dial and read settings
type Config struct {
	HandshakeTimeout time.Duration
	WriteTimeout     time.Duration
	MaxMessageSize   int64
	ReadBufferSize   int
	WriteBufferSize  int
}

// DefaultConfig returns the settings used by the admin and viewer pages.
func DefaultConfig() Config {
	return Config{
		HandshakeTimeout: 10 * time.Second,
		WriteTimeout:     5 * time.Second,
		MaxMessageSize:   64 * 1024,
		ReadBufferSize:   1024,
		WriteBufferSize:  1024,
	}
}

// Option customizes a Client
type Option func(*Client)

// WithCookieJar makes the handshake carry the session cookies from jar.
func WithCookieJar(jar http.CookieJar) Option {
	return func(c *Client) { c.dialer.Jar = jar }
}

// Client owns at most one live websocket connection.
type Client struct {
	url     string
	handler Handler
	dialer  *websocket.Dialer
	config  Config

	mu    sync.Mutex
	link  *link
	state State
	// closeRequested is set by a Disconnect that arrives mid-dial.
	closeRequested bool
}

// link is one dialed connection. closing is set by Disconnect so the read
// loop can tell a local close from a failure.
type link struct {
	conn    *websocket.Conn
	done    chan struct{}
	closing atomic.Bool
}

// New creates a client for the channel at path on the page origin.
func New(origin, path string, handler Handler, opts ...Option) (*Client, error) {
	if handler == nil {
		return nil, errors.New("channel handler is required")
	}
	u, err := RewriteURL(origin, path)
	if err != nil {
		return nil, err
	}
	c := &Client{
		url:     u,
		handler: handler,
		dialer:  &websocket.Dialer{Proxy: http.ProxyFromEnvironment},
	}
	c.applyConfig(DefaultConfig())
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

func (c *Client) applyConfig(cfg Config) {
	c.config = cfg
	c.dialer.HandshakeTimeout = cfg.HandshakeTimeout
	c.dialer.ReadBufferSize = cfg.ReadBufferSize
	c.dialer.WriteBufferSize = cfg.WriteBufferSize
}

// URL returns the rewritten websocket URL.
func (c *Client) URL() string { return c.url }

// State returns the current lifecycle state.
func (c *Client) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Done is closed when the current connection's read loop exits. It is nil
// before the first successful Connect.
func (c *Client) Done() <-chan struct{} {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.link == nil {
		return nil
	}
	return c.link.done
}

// Connect opens the socket and starts dispatching commands. A failed dial
// is reported to the handler (OnError then OnClose) and returned. Connect
// may be called again once the previous connection is closed or errored.
func (c *Client) Connect(ctx context.Context) error {
	c.mu.Lock()
	if c.state == StateConnecting || c.state == StateOpen {
		c.mu.Unlock()
		return ErrAlreadyConnected
	}
	c.state = StateConnecting
	c.closeRequested = false
	c.mu.Unlock()

	conn, resp, err := c.dialer.DialContext(ctx, c.url, nil)
	if resp != nil && resp.Body != nil {
		resp.Body.Close()
	}
	if err != nil {
		if resp != nil {
			err = &HandshakeError{StatusCode: resp.StatusCode, Err: err}
		}
		err = fmt.Errorf("dial %s: %w", c.url, err)
		c.mu.Lock()
		c.state = StateErrored
		c.closeRequested = false
		c.mu.Unlock()
		log.Warn().Err(err).Str("url", c.url).Msg("push channel connect failed")
		c.handler.OnError(err)
		c.handler.OnClose()
		return err
	}

	conn.SetReadLimit(c.config.MaxMessageSize)

	l := &link{conn: conn, done: make(chan struct{})}
	c.mu.Lock()
	if c.closeRequested {
		c.closeRequested = false
		c.state = StateClosed
		c.mu.Unlock()
		c.closeConn(conn)
		log.Debug().Str("url", c.url).Msg("push channel closed during handshake")
		c.handler.OnClose()
		return ErrClosed
	}
	c.link = l
	c.state = StateOpen
	c.mu.Unlock()

	log.Debug().Str("url", c.url).Msg("push channel open")

	go c.readPump(l)
	return nil
}

// Disconnect closes the socket. Calling it on a channel that is already
// closed returns ErrClosed; on one that never connected, ErrNotConnected.
// During a handshake the close is recorded and Connect drops the socket
// once the dial returns.
func (c *Client) Disconnect() error {
	c.mu.Lock()
	switch c.state {
	case StateDisconnected:
		c.mu.Unlock()
		return ErrNotConnected
	case StateClosed, StateErrored:
		c.mu.Unlock()
		return ErrClosed
	case StateConnecting:
		if c.closeRequested {
			c.mu.Unlock()
			return ErrClosed
		}
		c.closeRequested = true
		c.mu.Unlock()
		return nil
	}
	l := c.link
	l.closing.Store(true)
	c.state = StateClosed
	c.mu.Unlock()

	c.closeConn(l.conn)
	return nil
}

// closeConn sends a normal close frame and closes conn.
func (c *Client) closeConn(conn *websocket.Conn) {
	deadline := time.Now().Add(c.config.WriteTimeout)
	msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
	if err := conn.WriteControl(websocket.CloseMessage, msg, deadline); err != nil && !errors.Is(err, websocket.ErrCloseSent) {
		log.Debug().Err(err).Str("url", c.url).Msg("failed to send close frame")
	}
	// The read loop may have closed the socket already.
	if err := conn.Close(); err != nil {
		log.Debug().Err(err).Str("url", c.url).Msg("close push channel socket")
	}
}

// readPump decodes frames until the connection ends
func (c *Client) readPump(l *link) {
	defer close(l.done)

	for {
		_, message, err := l.conn.ReadMessage()
		if err != nil {
			c.finish(l, err)
			return
		}

		cmd, err := command.Decode(string(message))
		if err != nil {
			log.Warn().Err(err).Str("url", c.url).Msg("dropping malformed push line")
			continue
		}
		if !cmd.Type.Known() {
			log.Warn().Str("url", c.url).Str("type", string(cmd.Type)).Msg("dropping unknown push command")
			continue
		}
		c.handler.OnCommand(cmd)
	}
}

func (c *Client) finish(l *link, readErr error) {
	clean := l.closing.Load() || websocket.IsCloseError(readErr, websocket.CloseNormalClosure, websocket.CloseGoingAway)

	c.mu.Lock()
	if c.link == l {
		if clean {
			c.state = StateClosed
		} else {
			c.state = StateErrored
		}
	}
	c.mu.Unlock()

	l.conn.Close()

	if !clean {
		log.Warn().Err(readErr).Str("url", c.url).Msg("push channel errored")
		c.handler.OnError(readErr)
	} else {
		log.Debug().Str("url", c.url).Msg("push channel closed")
	}
	c.handler.OnClose()
}

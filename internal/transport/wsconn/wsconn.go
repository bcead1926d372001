// Package wsconn connects to the session gateway over a WebSocket.
package wsconn

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/fakeyudi/lokseva/internal/transport"
)

const defaultConnectTimeout = 15 * time.Second

type hello struct {
	Type            string `json:"type"`
	Room            string `json:"room"`
	ParticipantID   string `json:"participant_id"`
	ParticipantName string `json:"participant_name,omitempty"`
}

type serverFrame struct {
	Type    string `json:"type"`
	Message string `json:"message,omitempty"`
}

// Dialer opens gateway connections.
type Dialer struct {
	URL    string
	Logger *slog.Logger
	// Timeout bounds the dial and join handshake when ctx has no deadline.
	Timeout time.Duration
}

// Dial connects, joins s.Room and starts reading events.
func (d *Dialer) Dial(ctx context.Context, s transport.Session) (transport.Conn, error) {
	logger := d.Logger
	if logger == nil {
		logger = slog.Default()
	}
	timeout := d.Timeout
	if timeout <= 0 {
		timeout = defaultConnectTimeout
	}

	u, err := url.Parse(strings.TrimSpace(d.URL))
	if err != nil {
		return nil, fmt.Errorf("parse gateway url: %w", err)
	}
	q := u.Query()
	q.Set("room", s.Room)
	u.RawQuery = q.Encode()

	headers := make(http.Header)
	if s.Token != "" {
		headers.Set("Authorization", "Bearer "+s.Token)
	}

	dialCtx := ctx
	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		dialCtx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	ws, resp, err := websocket.DefaultDialer.DialContext(dialCtx, u.String(), headers)
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("gateway dial failed (status %d): %w", resp.StatusCode, err)
		}
		return nil, fmt.Errorf("gateway dial: %w", err)
	}

	if err := ws.WriteJSON(hello{
		Type:            "hello",
		Room:            s.Room,
		ParticipantID:   s.Identity.ID,
		ParticipantName: s.Identity.Name,
	}); err != nil {
		_ = ws.Close()
		return nil, fmt.Errorf("send hello: %w", err)
	}

	_ = ws.SetReadDeadline(time.Now().Add(timeout))
	_, payload, err := ws.ReadMessage()
	if err != nil {
		_ = ws.Close()
		return nil, fmt.Errorf("read hello_ack: %w", err)
	}
	_ = ws.SetReadDeadline(time.Time{})

	var first serverFrame
	if err := json.Unmarshal(payload, &first); err != nil {
		_ = ws.Close()
		return nil, fmt.Errorf("decode hello_ack: %w", err)
	}
	switch first.Type {
	case "hello_ack":
	case "error":
		_ = ws.Close()
		return nil, fmt.Errorf("gateway rejected join: %s", strings.TrimSpace(first.Message))
	default:
		_ = ws.Close()
		return nil, fmt.Errorf("unexpected first frame type %q", first.Type)
	}

	c := &Conn{
		id:          uuid.NewString(),
		ws:          ws,
		self:        s.Identity.ID,
		agentSender: s.AgentSender,
		logger:      logger.With("transport", "websocket"),
		done:        make(chan struct{}),
	}
	go c.readLoop()
	return c, nil
}

// Conn is a joined gateway session.
type Conn struct {
	transport.Mux

	id          string
	ws          *websocket.Conn
	self        string
	agentSender string
	logger      *slog.Logger

	done      chan struct{}
	writeMu   sync.Mutex
	closeOnce sync.Once
	closed    atomic.Bool

	errMu sync.Mutex
	err   error
}

func (c *Conn) ID() string            { return c.id }
func (c *Conn) Done() <-chan struct{} { return c.done }

// Send writes a chat message frame.
func (c *Conn) Send(ctx context.Context, msg transport.Outgoing) error {
	if c.closed.Load() {
		return transport.ErrClosed
	}
	select {
	case <-c.done:
		return transport.ErrClosed
	default:
	}
	msg.Type = transport.KindSend

	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if deadline, ok := ctx.Deadline(); ok {
		_ = c.ws.SetWriteDeadline(deadline)
		defer c.ws.SetWriteDeadline(time.Time{})
	}
	if err := c.ws.WriteJSON(msg); err != nil {
		return fmt.Errorf("write chat frame: %w", err)
	}
	return nil
}

// Close leaves the room and waits for the read loop to exit.
func (c *Conn) Close() error {
	c.closeOnce.Do(func() {
		c.closed.Store(true)
		c.writeMu.Lock()
		_ = c.ws.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(2*time.Second))
		c.writeMu.Unlock()
		_ = c.ws.Close()
	})
	<-c.done
	return nil
}

// Err returns the error that ended the connection, if any.
func (c *Conn) Err() error {
	c.errMu.Lock()
	defer c.errMu.Unlock()
	return c.err
}

func (c *Conn) setErr(err error) {
	c.errMu.Lock()
	defer c.errMu.Unlock()
	if c.err == nil {
		c.err = err
	}
}

func (c *Conn) readLoop() {
	defer close(c.done)
	for {
		messageType, data, err := c.ws.ReadMessage()
		if err != nil {
			if c.closed.Load() || websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				return
			}
			c.setErr(err)
			c.logger.Warn("gateway connection lost", "error", err)
			return
		}
		if messageType != websocket.TextMessage {
			continue
		}
		ev, err := transport.Decode(data, "")
		if err != nil {
			if errors.Is(err, transport.ErrUnknownKind) {
				c.logger.Debug("ignoring frame", "error", err)
			} else {
				c.logger.Warn("malformed frame", "error", err)
			}
			continue
		}
		if ev.SenderID != "" && ev.SenderID == c.agentSender {
			ev.SenderIsAgent = true
		}
		c.Dispatch(ev)
	}
}

// Package natsconn runs the session over a NATS bus. Each inbound kind has
// its own subject under <prefix>.<room>; outbound chat is published to
// <prefix>.<room>.send.
package natsconn

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go"

	"github.com/fakeyudi/lokseva/internal/transport"
)

const flushTimeout = 5 * time.Second

// withDeadline gives ctx a deadline; nats refuses to flush without one.
func withDeadline(ctx context.Context) (context.Context, context.CancelFunc) {
	if _, ok := ctx.Deadline(); ok {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, flushTimeout)
}

// Subject returns the subject carrying kind k for room.
func Subject(prefix, room string, k transport.Kind) string {
	if k == transport.KindSend {
		return fmt.Sprintf("%s.%s.send", prefix, room)
	}
	return fmt.Sprintf("%s.%s.%s", prefix, room, k)
}

// Dialer opens bus connections.
type Dialer struct {
	URL           string
	Token         string
	SubjectPrefix string
	Logger        *slog.Logger
}

// Dial connects to NATS and subscribes to the room's inbound subjects.
func (d *Dialer) Dial(ctx context.Context, s transport.Session) (transport.Conn, error) {
	logger := d.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("transport", "nats")
	prefix := strings.TrimSpace(d.SubjectPrefix)
	if prefix == "" {
		prefix = "lokseva"
	}

	c := &Conn{
		id:          uuid.NewString(),
		prefix:      prefix,
		room:        s.Room,
		agentSender: s.AgentSender,
		logger:      logger,
		done:        make(chan struct{}),
	}

	opts := []nats.Option{
		nats.Name("lokseva-" + s.Identity.ID),
		nats.MaxReconnects(60),
		nats.ReconnectWait(2 * time.Second),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				logger.Warn("nats disconnected", "error", err)
			}
		}),
		nats.ReconnectHandler(func(_ *nats.Conn) {
			logger.Info("nats reconnected")
		}),
		nats.ClosedHandler(func(_ *nats.Conn) {
			c.closeOnce.Do(func() { close(c.done) })
		}),
	}
	if d.Token != "" {
		opts = append(opts, nats.Token(d.Token))
	} else if s.Token != "" {
		opts = append(opts, nats.Token(s.Token))
	}
	if deadline, ok := ctx.Deadline(); ok {
		if remaining := time.Until(deadline); remaining > 0 {
			opts = append(opts, nats.Timeout(remaining))
		}
	}

	nc, err := nats.Connect(d.URL, opts...)
	if err != nil {
		return nil, fmt.Errorf("nats connect: %w", err)
	}
	c.nc = nc

	for _, k := range transport.InboundKinds {
		kind := k
		subject := Subject(prefix, s.Room, kind)
		sub, err := nc.Subscribe(subject, func(msg *nats.Msg) {
			c.handle(kind, msg.Data)
		})
		if err != nil {
			nc.Close()
			return nil, fmt.Errorf("subscribe %s: %w", subject, err)
		}
		c.subs = append(c.subs, sub)
		logger.Debug("subscribed", "subject", subject)
	}
	flushCtx, cancel := withDeadline(ctx)
	defer cancel()
	if err := nc.FlushWithContext(flushCtx); err != nil {
		nc.Close()
		return nil, fmt.Errorf("nats flush: %w", err)
	}
	return c, nil
}

// Conn is a bus-backed session connection.
type Conn struct {
	transport.Mux

	id          string
	nc          *nats.Conn
	subs        []*nats.Subscription
	prefix      string
	room        string
	agentSender string
	logger      *slog.Logger

	done      chan struct{}
	closeOnce sync.Once
}

func (c *Conn) ID() string            { return c.id }
func (c *Conn) Done() <-chan struct{} { return c.done }

// Err reports the last asynchronous connection error.
func (c *Conn) Err() error {
	if c.nc == nil {
		return nil
	}
	return c.nc.LastError()
}

// Send publishes a chat message and flushes so a dead connection surfaces
// as an error here rather than silently.
func (c *Conn) Send(ctx context.Context, msg transport.Outgoing) error {
	if c.nc.IsClosed() {
		return transport.ErrClosed
	}
	msg.Type = transport.KindSend
	payload, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("marshal payload: %w", err)
	}
	if err := c.nc.Publish(Subject(c.prefix, c.room, transport.KindSend), payload); err != nil {
		if errors.Is(err, nats.ErrConnectionClosed) {
			return transport.ErrClosed
		}
		return fmt.Errorf("publish: %w", err)
	}
	flushCtx, cancel := withDeadline(ctx)
	defer cancel()
	if err := c.nc.FlushWithContext(flushCtx); err != nil {
		return fmt.Errorf("flush: %w", err)
	}
	return nil
}

// Close unsubscribes and closes the bus connection.
func (c *Conn) Close() error {
	for _, sub := range c.subs {
		_ = sub.Unsubscribe()
	}
	c.nc.Close()
	<-c.done
	return nil
}

func (c *Conn) handle(kind transport.Kind, data []byte) {
	ev, err := transport.Decode(data, kind)
	if err != nil {
		c.logger.Warn("malformed event", "kind", kind, "error", err)
		return
	}
	// The subject is authoritative for the kind.
	ev.Type = kind
	if ev.SenderID != "" && ev.SenderID == c.agentSender {
		ev.SenderIsAgent = true
	}
	c.Dispatch(ev)
}

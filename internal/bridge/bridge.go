// Package bridge connects a live transport to the timeline and agent
// presenter. It is the only path chat messages leave the client on.
package bridge

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/fakeyudi/lokseva/internal/agentstate"
	"github.com/fakeyudi/lokseva/internal/identity"
	"github.com/fakeyudi/lokseva/internal/timeline"
	"github.com/fakeyudi/lokseva/internal/transport"
)

// chatNamespace seeds name-based ids for chat messages that arrive without
// one, so a retransmission maps to the same id.
var chatNamespace = uuid.MustParse("7f1d5c1e-4b0a-5d6e-9a57-3c0f8e2b6d41")

// ErrNotAttached is returned when sending without a live connection.
var ErrNotAttached = errors.New("no active session connection")

// ErrorKind classifies transport failures.
type ErrorKind int

const (
	SendFailed ErrorKind = iota + 1
)

func (k ErrorKind) String() string {
	if k == SendFailed {
		return "send_failed"
	}
	return fmt.Sprintf("ErrorKind(%d)", int(k))
}

// TransportError reports a failed outbound message. EntryID names the
// optimistic timeline entry, which is left in place.
type TransportError struct {
	Kind    ErrorKind
	EntryID string
	Err     error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("transport %s (entry %s): %v", e.Kind, e.EntryID, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

// Event is a normalised inbound event.
type Event interface{ isEvent() }

type ChatReceived struct{ Message timeline.ChatMessage }
type TranscriptReceived struct{ Segment timeline.TranscriptSegment }
type AgentStateChanged struct{ State agentstate.State }

func (ChatReceived) isEvent()       {}
func (TranscriptReceived) isEvent() {}
func (AgentStateChanged) isEvent()  {}

// Options configures a Bridge.
type Options struct {
	// Post schedules fn on the app's serialized loop. When nil, fn runs
	// inline on the transport goroutine.
	Post func(fn func())
	// Notify receives user-facing notices. It runs on the loop.
	Notify func(Notification)
	// OnChange runs on the loop after any event changed visible state.
	OnChange func()
	Logger   *slog.Logger
	Clock    func() time.Time
}

// Bridge owns the subscriptions of at most one connection at a time.
type Bridge struct {
	timeline  *timeline.Aggregator
	presenter *agentstate.Presenter
	opts      Options
	logger    *slog.Logger

	mu      sync.Mutex
	conn    transport.Conn
	self    identity.Identity
	cancels []func()
	gen     uint64
}

// New returns a detached bridge.
func New(agg *timeline.Aggregator, presenter *agentstate.Presenter, opts Options) *Bridge {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Clock == nil {
		opts.Clock = time.Now
	}
	if opts.Post == nil {
		opts.Post = func(fn func()) { fn() }
	}
	return &Bridge{
		timeline:  agg,
		presenter: presenter,
		opts:      opts,
		logger:    opts.Logger.With("component", "bridge"),
	}
}

// Attach subscribes to conn's three inbound kinds on behalf of self.
// Attaching the connection already attached is a no-op; attaching a
// different one detaches the previous connection first.
func (b *Bridge) Attach(conn transport.Conn, self identity.Identity) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.conn != nil && b.conn.ID() == conn.ID() {
		return
	}
	b.detachLocked()

	b.gen++
	gen := b.gen
	b.conn = conn
	b.self = self
	for _, k := range transport.InboundKinds {
		b.cancels = append(b.cancels, conn.Subscribe(k, func(ev transport.Event) {
			b.receive(gen, ev)
		}))
	}
	b.logger.Info("session attached", "conn", conn.ID())
}

// Detach drops all subscriptions. Events already queued from the detached
// connection are discarded when they reach the loop.
func (b *Bridge) Detach() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.detachLocked()
}

func (b *Bridge) detachLocked() {
	if b.conn == nil {
		return
	}
	for _, cancel := range b.cancels {
		cancel()
	}
	b.logger.Info("session detached", "conn", b.conn.ID())
	b.cancels = nil
	b.conn = nil
	b.gen++
}

// Attached reports whether a connection is attached.
func (b *Bridge) Attached() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.conn != nil
}

func (b *Bridge) current(gen uint64) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.gen == gen && b.conn != nil
}

func (b *Bridge) receive(gen uint64, raw transport.Event) {
	ev, ok := b.Normalize(raw)
	if !ok {
		return
	}
	b.opts.Post(func() {
		if !b.current(gen) {
			b.logger.Debug("dropping event from detached connection", "type", string(raw.Type))
			return
		}
		b.Apply(ev)
	})
}

// Normalize converts a transport frame into a domain event.
func (b *Bridge) Normalize(ev transport.Event) (Event, bool) {
	ts := ev.Time(b.opts.Clock)
	switch ev.Type {
	case transport.KindChat:
		id := strings.TrimSpace(ev.ID)
		if id == "" {
			id = uuid.NewSHA1(chatNamespace,
				[]byte(ev.SenderID+"\x00"+strconv.FormatInt(ts.UnixMilli(), 10)+"\x00"+ev.Text)).String()
		}
		return ChatReceived{Message: timeline.ChatMessage{
			ID:            id,
			SenderID:      ev.SenderID,
			SenderName:    ev.SenderName,
			SenderIsAgent: ev.SenderIsAgent,
			Text:          ev.Text,
			Timestamp:     ts,
		}}, true
	case transport.KindTranscription:
		if strings.TrimSpace(ev.ID) == "" {
			b.logger.Warn("transcription segment without id dropped", "sender", ev.SenderID)
			return nil, false
		}
		return TranscriptReceived{Segment: timeline.TranscriptSegment{
			ID:            ev.ID,
			SenderID:      ev.SenderID,
			SenderName:    ev.SenderName,
			SenderIsAgent: ev.SenderIsAgent,
			Text:          ev.Text,
			Final:         ev.Final,
			Timestamp:     ts,
		}}, true
	case transport.KindAgentState:
		return AgentStateChanged{State: agentstate.Parse(ev.State)}, true
	default:
		return nil, false
	}
}

// Apply feeds a normalised event to the timeline or presenter. It must run
// on the app loop.
func (b *Bridge) Apply(ev Event) {
	changed := false
	switch e := ev.(type) {
	case ChatReceived:
		ok, _ := b.timeline.ApplyChatMessage(e.Message)
		changed = ok
		if ok && !e.Message.SenderIsAgent && e.Message.SenderID != b.selfID() {
			b.notify(Notification{
				Kind:  NewMessage,
				Title: "New message",
				Body:  fmt.Sprintf("%s: %s", senderLabel(e.Message), e.Message.Text),
			})
		}
	case TranscriptReceived:
		changed, _ = b.timeline.ApplyTranscript(e.Segment)
	case AgentStateChanged:
		b.presenter.Apply(e.State)
		changed = true
	}
	if changed && b.opts.OnChange != nil {
		b.opts.OnChange()
	}
}

// Echo appends the local half of an outgoing message and returns the frame
// to deliver. It fails only when nothing is attached.
func (b *Bridge) Echo(text string) (timeline.ChatEntry, transport.Outgoing, transport.Conn, error) {
	b.mu.Lock()
	conn, self := b.conn, b.self
	b.mu.Unlock()
	if conn == nil {
		return timeline.ChatEntry{}, transport.Outgoing{}, nil, ErrNotAttached
	}
	entry := b.timeline.AppendLocal(self.ID, self.Name, text)
	if b.opts.OnChange != nil {
		b.opts.OnChange()
	}
	m := entry.Meta()
	return entry, transport.Outgoing{
		ID:          m.ID,
		SenderID:    m.SenderID,
		SenderName:  m.SenderName,
		Text:        m.Text,
		TimestampMS: m.Timestamp.UnixMilli(),
	}, conn, nil
}

// Deliver sends out on conn. A failure raises one SendFailed notification
// attributed to the entry and is returned as a *TransportError.
func (b *Bridge) Deliver(ctx context.Context, conn transport.Conn, out transport.Outgoing) error {
	err := conn.Send(ctx, out)
	if err == nil {
		return nil
	}
	terr := &TransportError{Kind: SendFailed, EntryID: out.ID, Err: err}
	b.logger.Warn("chat send failed", "entry", out.ID, "error", err)
	b.opts.Post(func() {
		b.notify(Notification{
			Kind:    SendFailure,
			Title:   "Message not sent",
			Body:    "Your message could not be delivered. Check your connection and try again.",
			EntryID: out.ID,
		})
		if b.opts.OnChange != nil {
			b.opts.OnChange()
		}
	})
	return terr
}

// SendOutgoing echoes text locally, then delivers it. The local entry stays
// even if delivery fails.
func (b *Bridge) SendOutgoing(ctx context.Context, text string) (timeline.ChatEntry, error) {
	if strings.TrimSpace(text) == "" {
		return timeline.ChatEntry{}, errors.New("empty message")
	}
	entry, out, conn, err := b.Echo(text)
	if err != nil {
		return timeline.ChatEntry{}, err
	}
	return entry, b.Deliver(ctx, conn, out)
}

func (b *Bridge) selfID() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.self.ID
}

func (b *Bridge) notify(n Notification) {
	if b.opts.Notify == nil {
		return
	}
	if n.ID == "" {
		n.ID = uuid.NewString()
	}
	if n.At.IsZero() {
		n.At = b.opts.Clock()
	}
	b.opts.Notify(n)
}

func senderLabel(m timeline.ChatMessage) string {
	if m.SenderName != "" {
		return m.SenderName
	}
	if m.SenderID != "" {
		return m.SenderID
	}
	return "Someone"
}

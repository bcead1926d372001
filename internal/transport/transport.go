// Package transport defines the real-time connection the session runs
// over and the JSON frames exchanged on it.
package transport

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/fakeyudi/lokseva/internal/identity"
)

// Kind names an event frame.
type Kind string

const (
	KindChat          Kind = "chat_message"
	KindTranscription Kind = "transcription"
	KindAgentState    Kind = "agent_state"

	// KindSend is the only outbound frame.
	KindSend Kind = "send_chat"
)

// InboundKinds lists every kind a session subscribes to.
var InboundKinds = []Kind{KindChat, KindTranscription, KindAgentState}

// ErrUnknownKind is returned by Decode for frames outside InboundKinds.
var ErrUnknownKind = errors.New("unknown event kind")

// ErrClosed is returned by Send after the connection has shut down.
var ErrClosed = errors.New("connection closed")

// Event is an inbound frame. Which fields are meaningful depends on Type.
type Event struct {
	Type          Kind   `json:"type"`
	ID            string `json:"id,omitempty"`
	SenderID      string `json:"sender_id,omitempty"`
	SenderName    string `json:"sender_name,omitempty"`
	SenderIsAgent bool   `json:"sender_is_agent,omitempty"`
	Text          string `json:"text,omitempty"`
	Final         bool   `json:"final,omitempty"`
	State         string `json:"state,omitempty"`
	TimestampMS   int64  `json:"timestamp_ms,omitempty"`
}

// Time converts TimestampMS, falling back to now when the sender left it out.
func (e Event) Time(now func() time.Time) time.Time {
	if e.TimestampMS <= 0 {
		return now()
	}
	return time.UnixMilli(e.TimestampMS)
}

// Outgoing is a chat message sent by the local participant.
type Outgoing struct {
	Type        Kind   `json:"type"`
	ID          string `json:"id"`
	SenderID    string `json:"sender_id"`
	SenderName  string `json:"sender_name,omitempty"`
	Text        string `json:"text"`
	TimestampMS int64  `json:"timestamp_ms"`
}

// Decode parses one inbound frame. When the frame carries no type, fallback
// is used; transports that route by subject pass the subject's kind.
func Decode(data []byte, fallback Kind) (Event, error) {
	var ev Event
	if err := json.Unmarshal(data, &ev); err != nil {
		return Event{}, fmt.Errorf("decode event: %w", err)
	}
	ev.Type = Kind(strings.TrimSpace(string(ev.Type)))
	if ev.Type == "" {
		ev.Type = fallback
	}
	for _, k := range InboundKinds {
		if ev.Type == k {
			return ev, nil
		}
	}
	return Event{}, fmt.Errorf("%w: %q", ErrUnknownKind, ev.Type)
}

// Handler receives inbound events. Handlers run on the transport's read
// goroutine and must not block.
type Handler func(Event)

// Conn is one live connection to the session room.
type Conn interface {
	// ID distinguishes connection objects; a reconnect yields a new ID.
	ID() string
	// Subscribe registers h for events of kind k until cancel is called.
	Subscribe(k Kind, h Handler) (cancel func())
	Send(ctx context.Context, msg Outgoing) error
	// Done is closed once the connection has shut down.
	Done() <-chan struct{}
	Err() error
	Close() error
}

// Session identifies who joins which room.
type Session struct {
	Room        string
	Identity    identity.Identity
	Token       string
	AgentSender string
}

// Dialer opens connections.
type Dialer interface {
	Dial(ctx context.Context, s Session) (Conn, error)
}

// Mux fans events out to per-kind subscribers. Transports embed one.
type Mux struct {
	mu       sync.RWMutex
	handlers map[Kind]map[int]Handler
	next     int
}

// Subscribe registers h for kind k.
func (m *Mux) Subscribe(k Kind, h Handler) func() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.handlers == nil {
		m.handlers = make(map[Kind]map[int]Handler)
	}
	if m.handlers[k] == nil {
		m.handlers[k] = make(map[int]Handler)
	}
	id := m.next
	m.next++
	m.handlers[k][id] = h

	var once sync.Once
	return func() {
		once.Do(func() {
			m.mu.Lock()
			defer m.mu.Unlock()
			delete(m.handlers[k], id)
		})
	}
}

// Dispatch delivers ev to the subscribers of its kind and returns how many
// received it.
func (m *Mux) Dispatch(ev Event) int {
	m.mu.RLock()
	hs := make([]Handler, 0, len(m.handlers[ev.Type]))
	for _, h := range m.handlers[ev.Type] {
		hs = append(hs, h)
	}
	m.mu.RUnlock()
	for _, h := range hs {
		h(ev)
	}
	return len(hs)
}

// Subscribers returns the number of live subscriptions across all kinds.
func (m *Mux) Subscribers() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	n := 0
	for _, hs := range m.handlers {
		n += len(hs)
	}
	return n
}

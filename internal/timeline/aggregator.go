package timeline

import (
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Aggregator owns the timeline. Entries are kept sorted by timestamp with
// ties in arrival order. An entry never moves once inserted; interim
// transcripts are revised in place.
type Aggregator struct {
	logger *slog.Logger
	now    func() time.Time

	mu      sync.RWMutex
	entries []Entry
	index   map[string]int
	version uint64
}

// Option configures an Aggregator.
type Option func(*Aggregator)

// WithClock overrides the clock used for local echoes.
func WithClock(now func() time.Time) Option {
	return func(a *Aggregator) { a.now = now }
}

// WithLogger sets the logger consistency warnings are reported to.
func WithLogger(l *slog.Logger) Option {
	return func(a *Aggregator) { a.logger = l }
}

// New returns an empty aggregator.
func New(opts ...Option) *Aggregator {
	a := &Aggregator{
		logger: slog.Default(),
		now:    time.Now,
		index:  make(map[string]int),
	}
	for _, o := range opts {
		o(a)
	}
	return a
}

// ApplyTranscript inserts or revises a transcribed utterance. It reports
// whether the timeline changed. A non-nil error is always a
// *ConsistencyWarning and never prevents later updates.
func (a *Aggregator) ApplyTranscript(seg TranscriptSegment) (bool, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if i, ok := a.index[seg.ID]; ok {
		existing, isTranscript := a.entries[i].(TranscriptEntry)
		switch {
		case !isTranscript:
			return false, a.warn(DuplicateID, seg.ID)
		case existing.meta.Final:
			return false, a.warn(FinalizedEntry, seg.ID)
		}
		existing.meta.Text = seg.Text
		existing.meta.Final = seg.Final
		if seg.SenderName != "" {
			existing.meta.SenderName = seg.SenderName
		}
		a.entries[i] = existing
		a.version++
		return true, nil
	}

	a.insert(TranscriptEntry{meta: Meta{
		ID:            seg.ID,
		SenderID:      seg.SenderID,
		SenderName:    seg.SenderName,
		SenderIsAgent: seg.SenderIsAgent,
		Text:          seg.Text,
		Timestamp:     seg.Timestamp,
		Final:         seg.Final,
	}})
	if seg.Final {
		return true, a.warn(OutOfOrderFinal, seg.ID)
	}
	return true, nil
}

// ApplyChatMessage inserts a final chat entry. Repeating an id is a no-op.
func (a *Aggregator) ApplyChatMessage(msg ChatMessage) (bool, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if _, ok := a.index[msg.ID]; ok {
		return false, a.warn(DuplicateID, msg.ID)
	}
	a.insert(ChatEntry{meta: Meta{
		ID:            msg.ID,
		SenderID:      msg.SenderID,
		SenderName:    msg.SenderName,
		SenderIsAgent: msg.SenderIsAgent,
		Text:          msg.Text,
		Timestamp:     msg.Timestamp,
		Final:         true,
	}})
	return true, nil
}

// AppendLocal echoes an outgoing message before the transport has accepted
// it. The entry always lands at the end of the timeline.
func (a *Aggregator) AppendLocal(senderID, senderName, text string) ChatEntry {
	a.mu.Lock()
	defer a.mu.Unlock()

	ts := a.now()
	if n := len(a.entries); n > 0 {
		if last := a.entries[n-1].Meta().Timestamp; ts.Before(last) {
			ts = last
		}
	}
	e := ChatEntry{
		meta: Meta{
			ID:         uuid.NewString(),
			SenderID:   senderID,
			SenderName: senderName,
			Text:       strings.TrimSpace(text),
			Timestamp:  ts,
			Final:      true,
		},
		Local: true,
	}
	a.insert(e)
	return e
}

// Snapshot returns a copy of the timeline in display order.
func (a *Aggregator) Snapshot() []Entry {
	a.mu.RLock()
	defer a.mu.RUnlock()
	out := make([]Entry, len(a.entries))
	copy(out, a.entries)
	return out
}

// Len returns the number of entries.
func (a *Aggregator) Len() int {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return len(a.entries)
}

// Version increases on every change.
func (a *Aggregator) Version() uint64 {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.version
}

// Reset discards the timeline, e.g. when the session ends.
func (a *Aggregator) Reset() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.entries = nil
	a.index = make(map[string]int)
	a.version++
}

// insert places e after every entry with a timestamp not after its own.
func (a *Aggregator) insert(e Entry) {
	ts := e.Meta().Timestamp
	pos := sort.Search(len(a.entries), func(i int) bool {
		return a.entries[i].Meta().Timestamp.After(ts)
	})
	a.entries = append(a.entries, nil)
	copy(a.entries[pos+1:], a.entries[pos:])
	a.entries[pos] = e
	for i := pos; i < len(a.entries); i++ {
		a.index[a.entries[i].Meta().ID] = i
	}
	a.version++
}

func (a *Aggregator) warn(kind WarningKind, id string) error {
	w := &ConsistencyWarning{Kind: kind, ID: id}
	a.logger.Warn("timeline anomaly", "kind", kind.String(), "id", id)
	return w
}

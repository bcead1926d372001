// Package timeline merges live transcription and chat messages into one
// ordered conversation.
package timeline

import (
	"fmt"
	"time"
)

// Meta is the data common to every timeline entry.
type Meta struct {
	ID            string
	SenderID      string
	SenderName    string
	SenderIsAgent bool
	Text          string
	Timestamp     time.Time
	Final         bool
}

// Entry is either a ChatEntry or a TranscriptEntry. Consumers switch on the
// concrete type; no other implementations exist.
type Entry interface {
	Meta() Meta
	isEntry()
}

// ChatEntry is a discrete chat message. It is always final.
type ChatEntry struct {
	meta Meta
	// Local is set for messages echoed optimistically before the transport
	// accepted them.
	Local bool
}

func (c ChatEntry) Meta() Meta { return c.meta }
func (ChatEntry) isEntry()     {}

// TranscriptEntry is a speech-to-text utterance that may still be revised
// while not final.
type TranscriptEntry struct {
	meta Meta
}

func (t TranscriptEntry) Meta() Meta { return t.meta }
func (TranscriptEntry) isEntry()     {}

// KindOf names the variant of e for serialisation and logging.
func KindOf(e Entry) string {
	switch e.(type) {
	case ChatEntry:
		return "chat"
	case TranscriptEntry:
		return "transcript"
	default:
		return "unknown"
	}
}

// TranscriptSegment is one revision of a transcribed utterance.
type TranscriptSegment struct {
	ID            string
	SenderID      string
	SenderName    string
	SenderIsAgent bool
	Text          string
	Final         bool
	Timestamp     time.Time
}

// ChatMessage is a received chat message.
type ChatMessage struct {
	ID            string
	SenderID      string
	SenderName    string
	SenderIsAgent bool
	Text          string
	Timestamp     time.Time
}

// WarningKind classifies a consistency anomaly.
type WarningKind int

const (
	// DuplicateID: a chat id was seen before, or an id is reused across
	// entry variants.
	DuplicateID WarningKind = iota + 1
	// OutOfOrderFinal: a final transcript arrived for an id never seen as
	// interim. It is inserted as a fresh final entry.
	OutOfOrderFinal
	// FinalizedEntry: an update targeted an entry that is already final.
	FinalizedEntry
)

func (k WarningKind) String() string {
	switch k {
	case DuplicateID:
		return "duplicate_id"
	case OutOfOrderFinal:
		return "out_of_order_final"
	case FinalizedEntry:
		return "finalized_entry"
	default:
		return fmt.Sprintf("WarningKind(%d)", int(k))
	}
}

// ConsistencyWarning is a non-fatal anomaly. The aggregator has already
// resolved it by the time it is returned.
type ConsistencyWarning struct {
	Kind WarningKind
	ID   string
}

func (w *ConsistencyWarning) Error() string {
	return fmt.Sprintf("timeline %s: %s", w.Kind, w.ID)
}

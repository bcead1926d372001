package bridge

import "time"

// NotificationKind distinguishes notices.
type NotificationKind string

const (
	NewMessage  NotificationKind = "new_message"
	SendFailure NotificationKind = "send_failed"

	ConnectFailed  NotificationKind = "connect_failed"
	ConnectionLost NotificationKind = "connection_lost"
)

// Notification is a transient, non-blocking notice for the user.
type Notification struct {
	ID      string           `json:"id"`
	Kind    NotificationKind `json:"kind"`
	Title   string           `json:"title"`
	Body    string           `json:"body"`
	EntryID string           `json:"entry_id,omitempty"`
	At      time.Time        `json:"at"`
}

// Package telegram defines the fetch adapter boundary between the
// reconciliation engine and the remote message transport. The transport
// itself (authentication, pagination, wire format) lives behind the Fetcher
// interface; this package pins the message shape, the iteration contract,
// and the rate-limit signal the engine honors.
package telegram

import "time"

// RemoteMessage is the fixed shape of a remote timeline entry. The
// reconciler never inspects transport-specific structures beyond these
// fields.
type RemoteMessage struct {
	ID             int64
	Date           time.Time
	EditDate       *time.Time
	SenderID       int64
	SenderUsername string
	Text           string
	ReplyToMsgID   int64
	IsService      bool
}

// Edited reports whether the remote message carries an edit timestamp.
func (m *RemoteMessage) Edited() bool {
	return m.EditDate != nil && !m.EditDate.IsZero()
}

package database

import (
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"fmt"
	"time"
)

// Scope identifies an independent synchronization unit: a chat, or a
// chat plus forum topic. TopicID is -1 when the whole chat is mirrored.
type Scope struct {
	ChatID  int64 `db:"chat_id" json:"chat_id"`
	TopicID int64 `db:"topic_id" json:"topic_id"`
}

// String renders the scope for logging.
func (s Scope) String() string {
	if s.TopicID == NoTopic {
		return fmt.Sprintf("chat:%d", s.ChatID)
	}
	return fmt.Sprintf("chat:%d/topic:%d", s.ChatID, s.TopicID)
}

// NoTopic is the normalized topic id for scopes without a forum topic.
const NoTopic int64 = -1

// Message represents one mirrored remote message. Rows are uniquely keyed
// by (chat_id, topic_id, message_id) and never physically removed; remote
// deletion is recorded via the Deleted flag.
type Message struct {
	ID        uint      `db:"id"`
	ChatID    int64     `db:"chat_id"`
	TopicID   int64     `db:"topic_id"`
	MessageID int64     `db:"message_id"`
	Date      time.Time `db:"date"`

	EditDate       sql.NullTime   `db:"edit_date"`
	SenderID       sql.NullInt64  `db:"sender_id"`
	SenderUsername sql.NullString `db:"sender_username"`
	Text           string         `db:"text"`
	ReplyToMsgID   sql.NullInt64  `db:"reply_to_msg_id"`
	IsService      bool           `db:"is_service"`
	Deleted        bool           `db:"deleted"`

	ContentHash string    `db:"content_hash"`
	UpdatedAt   time.Time `db:"updated_at"`
}

// Scope returns the scope the message belongs to.
func (m *Message) Scope() Scope {
	return Scope{ChatID: m.ChatID, TopicID: m.TopicID}
}

// ContentHash fingerprints the mutable part of a message (text plus edit
// date) so unchanged records can be skipped without field-by-field
// comparison.
func ContentHash(text string, editDate sql.NullTime) string {
	edit := ""
	if editDate.Valid {
		edit = editDate.Time.UTC().Format(time.RFC3339Nano)
	}
	sum := sha256.Sum256([]byte(text + "\n" + edit))
	return hex.EncodeToString(sum[:])
}

// MessageState is the slim projection of a stored message used by the
// reconciler to decide between insert, update and no-op.
type MessageState struct {
	MessageID   int64        `db:"message_id"`
	ContentHash string       `db:"content_hash"`
	EditDate    sql.NullTime `db:"edit_date"`
	Deleted     bool         `db:"deleted"`
}

// Checkpoint records, per scope, the highest message id ever committed and
// the wall-clock time of the last completed run. LastMessageID only ever
// advances.
type Checkpoint struct {
	ChatID        int64        `db:"chat_id"`
	TopicID       int64        `db:"topic_id"`
	LastMessageID int64        `db:"last_message_id"`
	LastSyncAt    sql.NullTime `db:"last_sync_at"`
}

// Stats summarizes the contents of the message table for the status API.
type Stats struct {
	TotalMessages   int64        `db:"total_messages"`
	DeletedMessages int64        `db:"deleted_messages"`
	ServiceMessages int64        `db:"service_messages"`
	Scopes          int64        `db:"scopes"`
	EarliestDate    sql.NullTime `db:"earliest_date"`
	LatestDate      sql.NullTime `db:"latest_date"`
}

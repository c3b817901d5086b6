package export

import (
	"encoding/json"
	"fmt"
	"io"
	"unicode/utf8"

	"github.com/tgmirror/tgmirror/internal/database"
)

// jsonlRecord fixes the field order of JSONL lines. Pointer fields render
// as null when the underlying column is null.
type jsonlRecord struct {
	ChatID         int64   `json:"chat_id"`
	TopicID        int64   `json:"topic_id"`
	MessageID      int64   `json:"message_id"`
	Date           string  `json:"date"`
	EditDate       *string `json:"edit_date"`
	SenderID       *int64  `json:"sender_id"`
	SenderUsername *string `json:"sender_username"`
	ReplyToMsgID   *int64  `json:"reply_to_msg_id"`
	IsService      bool    `json:"is_service"`
	Deleted        bool    `json:"deleted"`
	Text           string  `json:"text"`
}

// writeJSONL renders the given rows as JSON Lines: one compact object per
// line, UTF-8, non-ASCII characters emitted literally. Text is cleaned and
// the text-level filters (min chars, hashtag-only) apply here.
func writeJSONL(w io.Writer, messages []*database.Message, opts Options) error {
	enc := json.NewEncoder(w)
	enc.SetEscapeHTML(false)

	seen := make(map[string]struct{})
	for _, m := range messages {
		if m.Text == "" {
			continue
		}
		cleaned := CleanText(m.Text)
		if opts.MinChars > 0 && utf8.RuneCountInString(cleaned) < opts.MinChars {
			continue
		}
		if opts.SkipHashtagOnly && HashtagOnly(cleaned) {
			continue
		}
		if opts.Dedupe {
			digest := dedupeDigest(opts.dedupeKey(), m, cleaned)
			if _, dup := seen[digest]; dup {
				continue
			}
			seen[digest] = struct{}{}
		}

		record := jsonlRecord{
			ChatID:    m.ChatID,
			TopicID:   m.TopicID,
			MessageID: m.MessageID,
			Date:      formatTime(m.Date),
			IsService: m.IsService,
			Deleted:   m.Deleted,
			Text:      cleaned,
		}
		if m.EditDate.Valid {
			edit := formatTime(m.EditDate.Time)
			record.EditDate = &edit
		}
		if m.SenderID.Valid {
			record.SenderID = &m.SenderID.Int64
		}
		if m.SenderUsername.Valid {
			record.SenderUsername = &m.SenderUsername.String
		}
		if m.ReplyToMsgID.Valid {
			record.ReplyToMsgID = &m.ReplyToMsgID.Int64
		}

		if err := enc.Encode(record); err != nil {
			return fmt.Errorf("failed to encode JSONL row for message %d: %w", m.MessageID, err)
		}
	}

	return nil
}

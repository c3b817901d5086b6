package export

import (
	"database/sql"
	"encoding/csv"
	"fmt"
	"io"
	"strconv"
	"time"

	"github.com/tgmirror/tgmirror/internal/database"
)

// csvHeaders is the fixed header row of CSV exports.
var csvHeaders = []string{
	"chat_id",
	"topic_id",
	"message_id",
	"date",
	"edit_date",
	"sender_id",
	"sender_username",
	"text",
	"reply_to_msg_id",
	"is_service",
	"deleted",
	"updated_at",
}

// utf8BOM makes spreadsheet tooling detect UTF-8 so non-Latin text opens
// correctly.
var utf8BOM = []byte{0xEF, 0xBB, 0xBF}

// writeCSV renders the given rows as a CSV document: byte-order marker,
// one header row, one row per record. Text is exported raw; text-level
// filters apply only to JSONL rendering.
func writeCSV(w io.Writer, messages []*database.Message, opts Options) error {
	if _, err := w.Write(utf8BOM); err != nil {
		return fmt.Errorf("failed to write byte-order marker: %w", err)
	}

	cw := csv.NewWriter(w)
	if err := cw.Write(csvHeaders); err != nil {
		return fmt.Errorf("failed to write CSV header: %w", err)
	}

	seen := make(map[string]struct{})
	for _, m := range messages {
		if opts.Dedupe {
			digest := dedupeDigest(opts.dedupeKey(), m, CleanText(m.Text))
			if _, dup := seen[digest]; dup {
				continue
			}
			seen[digest] = struct{}{}
		}

		record := []string{
			strconv.FormatInt(m.ChatID, 10),
			strconv.FormatInt(m.TopicID, 10),
			strconv.FormatInt(m.MessageID, 10),
			formatTime(m.Date),
			formatNullTime(m.EditDate),
			formatNullInt(m.SenderID),
			nullString(m.SenderUsername),
			m.Text,
			formatNullInt(m.ReplyToMsgID),
			formatBool(m.IsService),
			formatBool(m.Deleted),
			formatTime(m.UpdatedAt),
		}
		if err := cw.Write(record); err != nil {
			return fmt.Errorf("failed to write CSV row for message %d: %w", m.MessageID, err)
		}
	}

	cw.Flush()
	if err := cw.Error(); err != nil {
		return fmt.Errorf("failed to flush CSV output: %w", err)
	}
	return nil
}

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

func formatNullTime(t sql.NullTime) string {
	if !t.Valid {
		return ""
	}
	return formatTime(t.Time)
}

func formatNullInt(v sql.NullInt64) string {
	if !v.Valid {
		return ""
	}
	return strconv.FormatInt(v.Int64, 10)
}

func nullString(v sql.NullString) string {
	if !v.Valid {
		return ""
	}
	return v.String
}

func formatBool(b bool) string {
	if b {
		return "1"
	}
	return "0"
}

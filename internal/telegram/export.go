package telegram

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/tgmirror/tgmirror/internal/database"
)

// ExportFetcher implements Fetcher over Telegram Desktop JSON export
// files, one file per scope. It is the transport shipped with the binary;
// an MTProto-backed implementation can be swapped in behind the same
// interface without touching the reconciler.
type ExportFetcher struct {
	dir    string
	logger *slog.Logger
}

// NewExportFetcher creates a fetcher reading export files from dir. Files
// are named chat_<id>.json, or chat_<id>_topic_<id>.json for forum topic
// scopes.
func NewExportFetcher(dir string, logger *slog.Logger) *ExportFetcher {
	if logger == nil {
		logger = slog.Default()
	}
	return &ExportFetcher{
		dir:    dir,
		logger: logger.With("component", "export_fetcher"),
	}
}

// exportPageSize is the page granularity presented to the iterator. The
// source is local, so the value only shapes iteration batching.
const exportPageSize = 200

// FetchSince iterates messages with id > minID.
func (f *ExportFetcher) FetchSince(ctx context.Context, scope database.Scope, minID int64, ascending bool) (MessageIter, error) {
	msgs, err := f.load(ctx, scope)
	if err != nil {
		return nil, err
	}

	filtered := msgs[:0:0]
	for _, m := range msgs {
		if m.ID > minID {
			filtered = append(filtered, m)
		}
	}
	if !ascending {
		for i, j := 0, len(filtered)-1; i < j; i, j = i+1, j-1 {
			filtered[i], filtered[j] = filtered[j], filtered[i]
		}
		return &sliceIter{msgs: filtered}, nil
	}

	return NewPageIter(pageOver(filtered), minID), nil
}

// FetchWindow iterates messages created at or after since, by increasing
// id.
func (f *ExportFetcher) FetchWindow(ctx context.Context, scope database.Scope, since time.Time) (MessageIter, error) {
	msgs, err := f.load(ctx, scope)
	if err != nil {
		return nil, err
	}

	filtered := msgs[:0:0]
	for _, m := range msgs {
		if !m.Date.Before(since) {
			filtered = append(filtered, m)
		}
	}
	return NewPageIter(pageOver(filtered), 0), nil
}

// pageOver serves ascending-sorted messages in pages keyed by offset id.
func pageOver(msgs []*RemoteMessage) PageFunc {
	return func(ctx context.Context, offsetID int64) ([]*RemoteMessage, error) {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		start := sort.Search(len(msgs), func(i int) bool { return msgs[i].ID > offsetID })
		end := start + exportPageSize
		if end > len(msgs) {
			end = len(msgs)
		}
		return msgs[start:end], nil
	}
}

// load parses the scope's export file into ascending-sorted messages.
func (f *ExportFetcher) load(ctx context.Context, scope database.Scope) ([]*RemoteMessage, error) {
	path := f.scopePath(scope)

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("no export file at %s: %w", path, ErrScopeNotFound)
		}
		return nil, fmt.Errorf("failed to read export file %s: %w", path, err)
	}

	var file exportFile
	if err := json.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("failed to parse export file %s: %w", path, err)
	}

	msgs := make([]*RemoteMessage, 0, len(file.Messages))
	skipped := 0
	for i := range file.Messages {
		m, ok := file.Messages[i].toRemote()
		if !ok {
			skipped++
			continue
		}
		msgs = append(msgs, m)
	}
	sort.Slice(msgs, func(i, j int) bool { return msgs[i].ID < msgs[j].ID })

	f.logger.DebugContext(ctx, "Loaded export file",
		"path", path, "scope", scope.String(), "messages", len(msgs), "skipped", skipped)
	return msgs, nil
}

func (f *ExportFetcher) scopePath(scope database.Scope) string {
	name := fmt.Sprintf("chat_%d.json", scope.ChatID)
	if scope.TopicID != database.NoTopic {
		name = fmt.Sprintf("chat_%d_topic_%d.json", scope.ChatID, scope.TopicID)
	}
	return filepath.Join(f.dir, name)
}

// sliceIter iterates an in-memory slice.
type sliceIter struct {
	msgs []*RemoteMessage
	i    int
}

func (it *sliceIter) Next(ctx context.Context) (*RemoteMessage, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if it.i >= len(it.msgs) {
		return nil, ErrEndOfHistory
	}
	m := it.msgs[it.i]
	it.i++
	return m, nil
}

// exportFile mirrors the subset of the Telegram Desktop export format the
// adapter consumes.
type exportFile struct {
	ID       int64           `json:"id"`
	Messages []exportMessage `json:"messages"`
}

type exportMessage struct {
	ID             int64           `json:"id"`
	Type           string          `json:"type"`
	Date           string          `json:"date"`
	DateUnixtime   string          `json:"date_unixtime"`
	Edited         string          `json:"edited"`
	EditedUnixtime string          `json:"edited_unixtime"`
	From           string          `json:"from"`
	FromID         string          `json:"from_id"`
	ReplyToMsgID   int64           `json:"reply_to_message_id"`
	Text           json.RawMessage `json:"text"`
	TextEntities   []exportEntity  `json:"text_entities"`
}

type exportEntity struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

// exportDateLayout is the naive local-time layout used by the "date" and
// "edited" fields when no unixtime counterpart is present.
const exportDateLayout = "2006-01-02T15:04:05"

// toRemote converts one export record. Records without an id or a parsable
// creation date are reported as not convertible.
func (m *exportMessage) toRemote() (*RemoteMessage, bool) {
	if m.ID == 0 {
		return nil, false
	}
	date, ok := parseExportTime(m.DateUnixtime, m.Date)
	if !ok {
		return nil, false
	}

	out := &RemoteMessage{
		ID:             m.ID,
		Date:           date,
		SenderID:       parsePeerID(m.FromID),
		SenderUsername: m.From,
		Text:           flattenExportText(m.Text, m.TextEntities),
		ReplyToMsgID:   m.ReplyToMsgID,
		IsService:      m.Type == "service",
	}
	if edit, ok := parseExportTime(m.EditedUnixtime, m.Edited); ok {
		out.EditDate = &edit
	}
	return out, true
}

func parseExportTime(unixtime, naive string) (time.Time, bool) {
	if unixtime != "" {
		secs, err := strconv.ParseInt(unixtime, 10, 64)
		if err == nil && secs > 0 {
			return time.Unix(secs, 0).UTC(), true
		}
	}
	if naive != "" {
		t, err := time.Parse(exportDateLayout, naive)
		if err == nil {
			return t.UTC(), true
		}
	}
	return time.Time{}, false
}

// parsePeerID extracts the numeric id from export peer references such as
// "user12345" or "channel67890". Unknown forms yield 0.
func parsePeerID(ref string) int64 {
	trimmed := strings.TrimLeftFunc(ref, func(r rune) bool {
		return r < '0' || r > '9'
	})
	if trimmed == "" {
		return 0
	}
	id, err := strconv.ParseInt(trimmed, 10, 64)
	if err != nil {
		return 0
	}
	return id
}

// flattenExportText joins the export's text representation, which is
// either a plain string or an array mixing strings and entity objects.
func flattenExportText(raw json.RawMessage, entities []exportEntity) string {
	if len(entities) > 0 {
		var sb strings.Builder
		for _, e := range entities {
			sb.WriteString(e.Text)
		}
		return sb.String()
	}
	if len(raw) == 0 {
		return ""
	}

	var plain string
	if err := json.Unmarshal(raw, &plain); err == nil {
		return plain
	}

	var parts []json.RawMessage
	if err := json.Unmarshal(raw, &parts); err != nil {
		return ""
	}
	var sb strings.Builder
	for _, part := range parts {
		var s string
		if err := json.Unmarshal(part, &s); err == nil {
			sb.WriteString(s)
			continue
		}
		var ent exportEntity
		if err := json.Unmarshal(part, &ent); err == nil {
			sb.WriteString(ent.Text)
		}
	}
	return sb.String()
}

package export

import (
	"bytes"
	"database/sql"
	"strings"
	"testing"
	"time"

	"github.com/sebdah/goldie/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tgmirror/tgmirror/internal/database"
)

func fixtureMessages() []*database.Message {
	date := func(s string) time.Time {
		t, err := time.Parse(time.RFC3339, s)
		if err != nil {
			panic(err)
		}
		return t
	}
	updated := date("2024-03-02T00:00:00Z")

	return []*database.Message{
		{
			ChatID: 100, TopicID: database.NoTopic, MessageID: 1,
			Date:           date("2024-03-01T10:00:00Z"),
			SenderID:       sql.NullInt64{Int64: 7, Valid: true},
			SenderUsername: sql.NullString{String: "alice", Valid: true},
			Text:           "Hello, world",
			ContentHash:    "h1",
			UpdatedAt:      updated,
		},
		{
			ChatID: 100, TopicID: database.NoTopic, MessageID: 2,
			Date:           date("2024-03-01T11:00:00Z"),
			EditDate:       sql.NullTime{Time: date("2024-03-01T11:30:00Z"), Valid: true},
			SenderID:       sql.NullInt64{Int64: 8, Valid: true},
			SenderUsername: sql.NullString{String: "bob", Valid: true},
			Text:           "Line one\nLine two",
			ReplyToMsgID:   sql.NullInt64{Int64: 1, Valid: true},
			ContentHash:    "h2",
			UpdatedAt:      updated,
		},
		{
			ChatID: 100, TopicID: database.NoTopic, MessageID: 3,
			Date:        date("2024-03-01T12:00:00Z"),
			Text:        "Привет мир 🙂",
			ContentHash: "h3",
			UpdatedAt:   updated,
		},
	}
}

func TestWriteCSVGolden(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	require.NoError(t, writeCSV(&buf, fixtureMessages(), Options{}))

	g := goldie.New(t, goldie.WithFixtureDir("testdata"), goldie.WithNameSuffix(".golden"))
	g.Assert(t, "csv_basic", buf.Bytes())
}

func TestWriteJSONLGolden(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	require.NoError(t, writeJSONL(&buf, fixtureMessages(), Options{}))

	g := goldie.New(t, goldie.WithFixtureDir("testdata"), goldie.WithNameSuffix(".golden"))
	g.Assert(t, "jsonl_basic", buf.Bytes())
}

func TestWriteCSVStartsWithBOM(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	require.NoError(t, writeCSV(&buf, fixtureMessages(), Options{}))
	assert.True(t, bytes.HasPrefix(buf.Bytes(), []byte{0xEF, 0xBB, 0xBF}))
}

func TestRenderDeterministic(t *testing.T) {
	t.Parallel()

	msgs := fixtureMessages()
	opts := Options{Dedupe: true, DedupeKey: DedupeKeyText}

	var first, second bytes.Buffer
	require.NoError(t, writeCSV(&first, msgs, opts))
	require.NoError(t, writeCSV(&second, msgs, opts))
	assert.Equal(t, first.Bytes(), second.Bytes())

	first.Reset()
	second.Reset()
	require.NoError(t, writeJSONL(&first, msgs, opts))
	require.NoError(t, writeJSONL(&second, msgs, opts))
	assert.Equal(t, first.Bytes(), second.Bytes())
}

func TestWriteJSONLMinChars(t *testing.T) {
	t.Parallel()

	msgs := []*database.Message{
		{ChatID: 1, TopicID: -1, MessageID: 1, Date: time.Unix(1700000000, 0).UTC(), Text: "hi", ContentHash: "a"},
		{ChatID: 1, TopicID: -1, MessageID: 2, Date: time.Unix(1700000100, 0).UTC(), Text: "long enough text", ContentHash: "b"},
		// Rune count, not byte count: four Cyrillic runes are below the
		// threshold even though they take eight bytes.
		{ChatID: 1, TopicID: -1, MessageID: 3, Date: time.Unix(1700000200, 0).UTC(), Text: "миръ", ContentHash: "c"},
	}

	var buf bytes.Buffer
	require.NoError(t, writeJSONL(&buf, msgs, Options{MinChars: 10}))

	lines := nonEmptyLines(buf.String())
	require.Len(t, lines, 1)
	assert.Contains(t, lines[0], `"message_id":2`)
}

func TestWriteJSONLSkipsEmptyAndHashtagOnly(t *testing.T) {
	t.Parallel()

	msgs := []*database.Message{
		{ChatID: 1, TopicID: -1, MessageID: 1, Date: time.Unix(1700000000, 0).UTC(), Text: "", ContentHash: "a"},
		{ChatID: 1, TopicID: -1, MessageID: 2, Date: time.Unix(1700000100, 0).UTC(), Text: "#tag #only", ContentHash: "b"},
		{ChatID: 1, TopicID: -1, MessageID: 3, Date: time.Unix(1700000200, 0).UTC(), Text: "real content", ContentHash: "c"},
	}

	var buf bytes.Buffer
	require.NoError(t, writeJSONL(&buf, msgs, Options{SkipHashtagOnly: true}))

	lines := nonEmptyLines(buf.String())
	require.Len(t, lines, 1)
	assert.Contains(t, lines[0], `"message_id":3`)
}

func TestDedupeKeys(t *testing.T) {
	t.Parallel()

	day1 := time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)
	day2 := time.Date(2024, 3, 2, 10, 0, 0, 0, time.UTC)
	sender := func(name string) sql.NullString {
		return sql.NullString{String: name, Valid: true}
	}

	msgs := []*database.Message{
		{ChatID: 1, TopicID: -1, MessageID: 1, Date: day1, SenderUsername: sender("alice"), Text: "same text", ContentHash: "x"},
		{ChatID: 1, TopicID: -1, MessageID: 2, Date: day1, SenderUsername: sender("bob"), Text: "same text", ContentHash: "y"},
		{ChatID: 1, TopicID: -1, MessageID: 3, Date: day2, SenderUsername: sender("alice"), Text: "same text", ContentHash: "z"},
	}

	tests := []struct {
		name    string
		key     DedupeKey
		wantIDs []string
	}{
		{name: "text collapses all", key: DedupeKeyText, wantIDs: []string{`"message_id":1`}},
		{name: "text plus sender keeps per sender", key: DedupeKeyTextSender, wantIDs: []string{`"message_id":1`, `"message_id":2`}},
		{name: "text plus sender plus day keeps per day", key: DedupeKeyTextSenderDay, wantIDs: []string{`"message_id":1`, `"message_id":2`, `"message_id":3`}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			var buf bytes.Buffer
			require.NoError(t, writeJSONL(&buf, msgs, Options{Dedupe: true, DedupeKey: tt.key}))

			lines := nonEmptyLines(buf.String())
			require.Len(t, lines, len(tt.wantIDs))
			for i, want := range tt.wantIDs {
				assert.Contains(t, lines[i], want)
			}
		})
	}
}

func TestOptionsValidate(t *testing.T) {
	t.Parallel()

	assert.NoError(t, Options{}.Validate())
	assert.NoError(t, Options{DedupeKey: DedupeKeyTextSenderDay}.Validate())
	assert.Error(t, Options{DedupeKey: "bogus"}.Validate())
}

func nonEmptyLines(s string) []string {
	var out []string
	for _, line := range strings.Split(s, "\n") {
		if line != "" {
			out = append(out, line)
		}
	}
	return out
}

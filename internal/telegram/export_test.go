package telegram

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tgmirror/tgmirror/internal/database"
)

const sampleExport = `{
  "name": "Test Chat",
  "type": "private_supergroup",
  "id": 100,
  "messages": [
    {
      "id": 3,
      "type": "message",
      "date": "2024-03-01T12:00:00",
      "date_unixtime": "1709294400",
      "from": "alice",
      "from_id": "user7",
      "text": "plain string text"
    },
    {
      "id": 1,
      "type": "message",
      "date_unixtime": "1709287200",
      "from": "bob",
      "from_id": "user8",
      "reply_to_message_id": 0,
      "text": [
        "mixed ",
        {"type": "bold", "text": "formatted"},
        " parts"
      ]
    },
    {
      "id": 2,
      "type": "service",
      "date_unixtime": "1709290800",
      "from_id": "channel55",
      "text": "",
      "text_entities": []
    },
    {
      "id": 4,
      "type": "message",
      "date_unixtime": "1709298000",
      "edited_unixtime": "1709298060",
      "from_id": "user7",
      "text_entities": [
        {"type": "plain", "text": "edited "},
        {"type": "italic", "text": "message"}
      ]
    },
    {
      "id": 0,
      "type": "message",
      "date_unixtime": "1709298100",
      "text": "missing id, skipped"
    }
  ]
}`

func writeExportFile(t *testing.T, dir string, scope database.Scope, data string) {
	t.Helper()
	name := "chat_100.json"
	if scope.TopicID != database.NoTopic {
		name = "chat_100_topic_5.json"
	}
	require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(data), 0o644))
}

func TestExportFetcherFetchSince(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	scope := database.Scope{ChatID: 100, TopicID: database.NoTopic}
	writeExportFile(t, dir, scope, sampleExport)

	f := NewExportFetcher(dir, nil)
	it, err := f.FetchSince(context.Background(), scope, 1, true)
	require.NoError(t, err)

	var got []*RemoteMessage
	for {
		msg, nextErr := it.Next(context.Background())
		if nextErr != nil {
			assert.ErrorIs(t, nextErr, ErrEndOfHistory)
			break
		}
		got = append(got, msg)
	}

	require.Len(t, got, 3)
	assert.Equal(t, int64(2), got[0].ID)
	assert.True(t, got[0].IsService)
	assert.Equal(t, int64(55), got[0].SenderID)

	assert.Equal(t, int64(3), got[1].ID)
	assert.Equal(t, "plain string text", got[1].Text)
	assert.Equal(t, "alice", got[1].SenderUsername)
	assert.Equal(t, int64(7), got[1].SenderID)
	assert.Equal(t, time.Unix(1709294400, 0).UTC(), got[1].Date)

	assert.Equal(t, int64(4), got[2].ID)
	assert.Equal(t, "edited message", got[2].Text)
	require.NotNil(t, got[2].EditDate)
	assert.Equal(t, time.Unix(1709298060, 0).UTC(), *got[2].EditDate)
}

func TestExportFetcherFetchSinceDescending(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	scope := database.Scope{ChatID: 100, TopicID: database.NoTopic}
	writeExportFile(t, dir, scope, sampleExport)

	f := NewExportFetcher(dir, nil)
	it, err := f.FetchSince(context.Background(), scope, 0, false)
	require.NoError(t, err)

	var ids []int64
	for {
		msg, nextErr := it.Next(context.Background())
		if nextErr != nil {
			break
		}
		ids = append(ids, msg.ID)
	}
	assert.Equal(t, []int64{4, 3, 2, 1}, ids)
}

func TestExportFetcherFetchWindow(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	scope := database.Scope{ChatID: 100, TopicID: database.NoTopic}
	writeExportFile(t, dir, scope, sampleExport)

	f := NewExportFetcher(dir, nil)
	// Cutoff excludes message 1 (1709287200) and includes the rest.
	it, err := f.FetchWindow(context.Background(), scope, time.Unix(1709290800, 0).UTC())
	require.NoError(t, err)

	var ids []int64
	for {
		msg, nextErr := it.Next(context.Background())
		if nextErr != nil {
			break
		}
		ids = append(ids, msg.ID)
	}
	assert.Equal(t, []int64{2, 3, 4}, ids)
}

func TestExportFetcherMixedTextFlattening(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	scope := database.Scope{ChatID: 100, TopicID: database.NoTopic}
	writeExportFile(t, dir, scope, sampleExport)

	f := NewExportFetcher(dir, nil)
	it, err := f.FetchSince(context.Background(), scope, 0, true)
	require.NoError(t, err)

	msg, err := it.Next(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(1), msg.ID)
	assert.Equal(t, "mixed formatted parts", msg.Text)
	assert.Equal(t, int64(0), msg.ReplyToMsgID)
}

func TestExportFetcherScopeNotFound(t *testing.T) {
	t.Parallel()

	f := NewExportFetcher(t.TempDir(), nil)
	_, err := f.FetchSince(context.Background(), database.Scope{ChatID: 100, TopicID: database.NoTopic}, 0, true)
	assert.ErrorIs(t, err, ErrScopeNotFound)
}

func TestExportFetcherTopicScopePath(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	scope := database.Scope{ChatID: 100, TopicID: 5}
	writeExportFile(t, dir, scope, sampleExport)

	f := NewExportFetcher(dir, nil)
	it, err := f.FetchWindow(context.Background(), scope, time.Time{})
	require.NoError(t, err)

	msg, err := it.Next(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(1), msg.ID)

	// The whole-chat file does not exist, only the topic file.
	_, err = f.FetchWindow(context.Background(), database.Scope{ChatID: 100, TopicID: database.NoTopic}, time.Time{})
	assert.ErrorIs(t, err, ErrScopeNotFound)
}

package database_test

import (
	"context"
	"database/sql"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tgmirror/tgmirror/internal/database"
)

var testScope = database.Scope{ChatID: 100, TopicID: database.NoTopic}

func openTestStore(t *testing.T) database.Store {
	t.Helper()

	db, err := database.NewDB(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err, "opening a fresh database must apply migrations")
	t.Cleanup(func() { database.CloseDB(db) })

	return database.NewStore(db, nil)
}

func newMessage(scope database.Scope, id int64, date time.Time, text string) *database.Message {
	msg := &database.Message{
		ChatID:    scope.ChatID,
		TopicID:   scope.TopicID,
		MessageID: id,
		Date:      date.UTC(),
		Text:      text,
		UpdatedAt: date.UTC(),
	}
	msg.ContentHash = database.ContentHash(msg.Text, msg.EditDate)
	return msg
}

func TestApplyBatchInsertAndRead(t *testing.T) {
	t.Parallel()

	store := openTestStore(t)
	ctx := context.Background()
	base := time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)

	first := newMessage(testScope, 1, base, "hello")
	second := newMessage(testScope, 2, base.Add(time.Minute), "world")
	second.SenderID = sql.NullInt64{Int64: 7, Valid: true}
	second.SenderUsername = sql.NullString{String: "alice", Valid: true}
	second.IsService = true

	require.NoError(t, store.ApplyBatch(ctx, []*database.Message{first, second}, nil))

	states, err := store.MessageStates(ctx, testScope, []int64{1, 2, 3})
	require.NoError(t, err)
	require.Len(t, states, 2, "absent ids must be absent from the map")
	assert.Equal(t, first.ContentHash, states[1].ContentHash)
	assert.False(t, states[1].Deleted)
	assert.False(t, states[2].Deleted)

	msgs, err := store.SelectExport(ctx, database.ExportQuery{IncludeService: true})
	require.NoError(t, err)
	require.Len(t, msgs, 2)
	assert.Equal(t, int64(7), msgs[1].SenderID.Int64)
	assert.Equal(t, "alice", msgs[1].SenderUsername.String)
	assert.True(t, msgs[1].IsService)
}

func TestApplyBatchDuplicateInsertRollsBackWholeBatch(t *testing.T) {
	t.Parallel()

	store := openTestStore(t)
	ctx := context.Background()
	base := time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)

	require.NoError(t, store.ApplyBatch(ctx, []*database.Message{newMessage(testScope, 1, base, "hello")}, nil))

	fresh := newMessage(testScope, 2, base, "fresh")
	dup := newMessage(testScope, 1, base, "duplicate")
	err := store.ApplyBatch(ctx, []*database.Message{fresh, dup}, nil)
	require.Error(t, err, "inserting an existing id must fail")

	states, err := store.MessageStates(ctx, testScope, []int64{1, 2})
	require.NoError(t, err)
	assert.Len(t, states, 1, "the failed batch must not leave partial rows behind")
	_, ok := states[2]
	assert.False(t, ok)
}

func TestApplyBatchUpdateNeverTouchesFrozenColumns(t *testing.T) {
	t.Parallel()

	store := openTestStore(t)
	ctx := context.Background()
	base := time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)

	orig := newMessage(testScope, 1, base, "original")
	orig.IsService = true
	require.NoError(t, store.ApplyBatch(ctx, []*database.Message{orig}, nil))

	marked, err := store.MarkDeleted(ctx, testScope, []int64{1}, base.Add(time.Hour))
	require.NoError(t, err)
	require.Equal(t, int64(1), marked)

	upd := newMessage(testScope, 1, base.Add(48*time.Hour), "edited text")
	upd.EditDate = sql.NullTime{Time: base.Add(time.Hour).UTC(), Valid: true}
	upd.ContentHash = database.ContentHash(upd.Text, upd.EditDate)
	upd.IsService = false
	upd.Deleted = false
	require.NoError(t, store.ApplyBatch(ctx, nil, []*database.Message{upd}))

	msgs, err := store.SelectExport(ctx, database.ExportQuery{IncludeDeleted: true, IncludeService: true})
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	got := msgs[0]

	assert.Equal(t, "edited text", got.Text)
	assert.True(t, got.EditDate.Valid)
	assert.Equal(t, upd.ContentHash, got.ContentHash)

	assert.True(t, got.Deleted, "an update must not resurrect a deleted row")
	assert.True(t, got.IsService, "an update must not rewrite the service flag")
	assert.True(t, got.Date.Equal(base), "an update must not rewrite the creation date, got %v", got.Date)
}

func TestMarkDeletedIsOneWayAndCounted(t *testing.T) {
	t.Parallel()

	store := openTestStore(t)
	ctx := context.Background()
	base := time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)

	require.NoError(t, store.ApplyBatch(ctx, []*database.Message{
		newMessage(testScope, 1, base, "a"),
		newMessage(testScope, 2, base, "b"),
		newMessage(testScope, 3, base, "c"),
	}, nil))

	marked, err := store.MarkDeleted(ctx, testScope, []int64{1, 2}, base.Add(time.Hour))
	require.NoError(t, err)
	assert.Equal(t, int64(2), marked)

	// Re-marking one deleted row alongside a live one only counts the
	// live one.
	marked, err = store.MarkDeleted(ctx, testScope, []int64{2, 3}, base.Add(2*time.Hour))
	require.NoError(t, err)
	assert.Equal(t, int64(1), marked)

	marked, err = store.MarkDeleted(ctx, testScope, nil, base)
	require.NoError(t, err)
	assert.Zero(t, marked)
}

func TestListWindowIDsFiltersDateAndDeleted(t *testing.T) {
	t.Parallel()

	store := openTestStore(t)
	ctx := context.Background()
	base := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)

	require.NoError(t, store.ApplyBatch(ctx, []*database.Message{
		newMessage(testScope, 1, base.Add(-48*time.Hour), "old"),
		newMessage(testScope, 2, base, "at cutoff"),
		newMessage(testScope, 3, base.Add(time.Hour), "recent"),
		newMessage(testScope, 4, base.Add(2*time.Hour), "recent deleted"),
	}, nil))

	_, err := store.MarkDeleted(ctx, testScope, []int64{4}, base.Add(3*time.Hour))
	require.NoError(t, err)

	ids, err := store.ListWindowIDs(ctx, testScope, base)
	require.NoError(t, err)
	assert.Equal(t, []int64{2, 3}, ids, "the cutoff is inclusive and deleted rows are excluded")
}

func TestCheckpointZeroValueAndMonotonicAdvance(t *testing.T) {
	t.Parallel()

	store := openTestStore(t)
	ctx := context.Background()

	cp, err := store.Checkpoint(ctx, testScope)
	require.NoError(t, err)
	assert.Equal(t, testScope.ChatID, cp.ChatID)
	assert.Zero(t, cp.LastMessageID, "an unseen scope yields a zero checkpoint, not an error")
	assert.False(t, cp.LastSyncAt.Valid)

	firstSync := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	require.NoError(t, store.AdvanceCheckpoint(ctx, testScope, 42, firstSync))

	cp, err = store.Checkpoint(ctx, testScope)
	require.NoError(t, err)
	assert.Equal(t, int64(42), cp.LastMessageID)
	require.True(t, cp.LastSyncAt.Valid)

	// Advancing to a lower id refreshes last_sync_at but never regresses
	// the stored id.
	laterSync := firstSync.Add(time.Hour)
	require.NoError(t, store.AdvanceCheckpoint(ctx, testScope, 10, laterSync))

	cp, err = store.Checkpoint(ctx, testScope)
	require.NoError(t, err)
	assert.Equal(t, int64(42), cp.LastMessageID)
	assert.True(t, cp.LastSyncAt.Time.UTC().Equal(laterSync), "last_sync_at should still refresh, got %v", cp.LastSyncAt.Time)

	require.NoError(t, store.AdvanceCheckpoint(ctx, testScope, 99, laterSync.Add(time.Hour)))
	cp, err = store.Checkpoint(ctx, testScope)
	require.NoError(t, err)
	assert.Equal(t, int64(99), cp.LastMessageID)
}

func TestCheckpointsAreScopedIndependently(t *testing.T) {
	t.Parallel()

	store := openTestStore(t)
	ctx := context.Background()
	topicScope := database.Scope{ChatID: testScope.ChatID, TopicID: 5}
	now := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

	require.NoError(t, store.AdvanceCheckpoint(ctx, testScope, 42, now))
	require.NoError(t, store.AdvanceCheckpoint(ctx, topicScope, 7, now))

	cp, err := store.Checkpoint(ctx, topicScope)
	require.NoError(t, err)
	assert.Equal(t, int64(7), cp.LastMessageID)

	cp, err = store.Checkpoint(ctx, testScope)
	require.NoError(t, err)
	assert.Equal(t, int64(42), cp.LastMessageID)
}

func TestSelectExportOrderingAndFilters(t *testing.T) {
	t.Parallel()

	store := openTestStore(t)
	ctx := context.Background()
	base := time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)

	otherChat := database.Scope{ChatID: 50, TopicID: database.NoTopic}
	topicScope := database.Scope{ChatID: 100, TopicID: 5}

	service := newMessage(testScope, 2, base, "joined the group")
	service.IsService = true

	require.NoError(t, store.ApplyBatch(ctx, []*database.Message{
		newMessage(testScope, 3, base, "c"),
		newMessage(topicScope, 1, base, "t"),
		service,
		newMessage(otherChat, 9, base, "x"),
		newMessage(testScope, 1, base, "a"),
	}, nil))

	_, err := store.MarkDeleted(ctx, testScope, []int64{3}, base.Add(time.Hour))
	require.NoError(t, err)

	keys := func(msgs []*database.Message) [][3]int64 {
		out := make([][3]int64, 0, len(msgs))
		for _, m := range msgs {
			out = append(out, [3]int64{m.ChatID, m.TopicID, m.MessageID})
		}
		return out
	}

	msgs, err := store.SelectExport(ctx, database.ExportQuery{})
	require.NoError(t, err)
	assert.Equal(t, [][3]int64{
		{50, -1, 9},
		{100, -1, 1},
		{100, 5, 1},
	}, keys(msgs), "default query skips deleted and service rows in stable order")

	msgs, err = store.SelectExport(ctx, database.ExportQuery{IncludeDeleted: true, IncludeService: true})
	require.NoError(t, err)
	assert.Equal(t, [][3]int64{
		{50, -1, 9},
		{100, -1, 1},
		{100, -1, 2},
		{100, -1, 3},
		{100, 5, 1},
	}, keys(msgs))

	msgs, err = store.SelectExport(ctx, database.ExportQuery{Scope: &topicScope})
	require.NoError(t, err)
	assert.Equal(t, [][3]int64{{100, 5, 1}}, keys(msgs))
}

func TestStats(t *testing.T) {
	t.Parallel()

	store := openTestStore(t)
	ctx := context.Background()

	stats, err := store.Stats(ctx)
	require.NoError(t, err)
	assert.Zero(t, stats.TotalMessages)
	assert.False(t, stats.EarliestDate.Valid)

	base := time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)
	topicScope := database.Scope{ChatID: 100, TopicID: 5}
	service := newMessage(testScope, 2, base.Add(time.Hour), "pinned a message")
	service.IsService = true

	require.NoError(t, store.ApplyBatch(ctx, []*database.Message{
		newMessage(testScope, 1, base, "a"),
		service,
		newMessage(topicScope, 1, base.Add(2*time.Hour), "t"),
	}, nil))
	_, err = store.MarkDeleted(ctx, testScope, []int64{1}, base.Add(3*time.Hour))
	require.NoError(t, err)

	stats, err = store.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(3), stats.TotalMessages)
	assert.Equal(t, int64(1), stats.DeletedMessages)
	assert.Equal(t, int64(1), stats.ServiceMessages)
	assert.Equal(t, int64(2), stats.Scopes)
	require.True(t, stats.EarliestDate.Valid)
	assert.True(t, stats.EarliestDate.Time.UTC().Equal(base))
	require.True(t, stats.LatestDate.Valid)
	assert.True(t, stats.LatestDate.Time.UTC().Equal(base.Add(2*time.Hour)))
}

func TestRunSQLMaintenance(t *testing.T) {
	t.Parallel()

	store := openTestStore(t)
	require.NoError(t, store.RunSQLMaintenance(context.Background()))
}

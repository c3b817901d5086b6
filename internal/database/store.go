package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/jmoiron/sqlx"
)

// ExportQuery restricts which rows the export pipeline reads. The zero value
// selects every scope; text-level filters (min chars, hashtag-only) are
// applied downstream by the export package.
type ExportQuery struct {
	Scope          *Scope
	IncludeDeleted bool
	IncludeService bool
}

// Store defines the interface for database operations.
// Methods accept context.Context for cancellation and timeouts.
type Store interface {
	// Ping checks the database connection.
	Ping(ctx context.Context) error

	// MessageStates returns the stored state (content hash, edit date,
	// deleted flag) for the given message ids within a scope. Ids absent
	// from the store are absent from the returned map.
	MessageStates(ctx context.Context, scope Scope, messageIDs []int64) (map[int64]MessageState, error)

	// ApplyBatch durably commits one reconciliation batch: inserts and
	// updates are applied inside a single transaction so a crash loses at
	// most the whole batch, never part of it. Updates never modify the
	// date, is_service or deleted columns.
	ApplyBatch(ctx context.Context, inserts, updates []*Message) error

	// ListWindowIDs returns the ids of non-deleted messages in a scope
	// whose creation date is at or after 'since', used by deletion
	// detection to compute the absence set.
	ListWindowIDs(ctx context.Context, scope Scope, since time.Time) ([]int64, error)

	// MarkDeleted sets deleted = 1 for the given message ids in a scope.
	// Already-deleted rows are left untouched. Returns the number of rows
	// newly marked.
	MarkDeleted(ctx context.Context, scope Scope, messageIDs []int64, now time.Time) (int64, error)

	// Checkpoint retrieves the checkpoint for a scope. A scope that has
	// never been synchronized yields a zero checkpoint, not an error.
	Checkpoint(ctx context.Context, scope Scope) (*Checkpoint, error)

	// AdvanceCheckpoint moves a scope's checkpoint forward to lastMessageID.
	// The stored value never regresses: advancing to an id at or below the
	// current one only refreshes last_sync_at.
	AdvanceCheckpoint(ctx context.Context, scope Scope, lastMessageID int64, syncAt time.Time) error

	// SelectExport reads messages for export rendering in the stable
	// (chat_id, topic_id, message_id) ascending order.
	SelectExport(ctx context.Context, q ExportQuery) ([]*Message, error)

	// Stats summarizes the message table for the status endpoints.
	Stats(ctx context.Context) (*Stats, error)

	// RunSQLMaintenance performs database maintenance tasks like VACUUM.
	RunSQLMaintenance(ctx context.Context) error
}

// sqlxStore provides an implementation of the Store interface using sqlx.
type sqlxStore struct {
	db     *sqlx.DB
	logger *slog.Logger
}

// NewStore creates a new Store implementation backed by sqlx.
// It requires a connected sqlx.DB instance and a logger.
func NewStore(db *sqlx.DB, logger *slog.Logger) Store {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &sqlxStore{
		db:     db,
		logger: logger.With("component", "store"),
	}
}

// Ping checks the database connection.
func (s *sqlxStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// chunkSize bounds the number of bound variables per IN-list query, well
// below SQLite's variable limit.
const chunkSize = 500

func chunkIDs(ids []int64) [][]int64 {
	var chunks [][]int64
	for len(ids) > 0 {
		n := chunkSize
		if len(ids) < n {
			n = len(ids)
		}
		chunks = append(chunks, ids[:n])
		ids = ids[n:]
	}
	return chunks
}

// MessageStates returns stored state for the given ids within a scope.
func (s *sqlxStore) MessageStates(ctx context.Context, scope Scope, messageIDs []int64) (map[int64]MessageState, error) {
	states := make(map[int64]MessageState, len(messageIDs))
	if len(messageIDs) == 0 {
		return states, nil
	}

	if ctx.Err() != nil {
		return nil, ctx.Err()
	}

	for _, chunk := range chunkIDs(messageIDs) {
		query, args, err := sqlx.In(`
            SELECT message_id, content_hash, edit_date, deleted
            FROM messages
            WHERE chat_id = ? AND topic_id = ? AND message_id IN (?);
        `, scope.ChatID, scope.TopicID, chunk)
		if err != nil {
			return nil, fmt.Errorf("failed to build message state query: %w", err)
		}
		query = s.db.Rebind(query)

		var rows []MessageState
		if err := s.db.SelectContext(ctx, &rows, query, args...); err != nil {
			s.logger.ErrorContext(ctx, "Error loading message states", "scope", scope.String(), "error", err)
			return nil, fmt.Errorf("failed to load message states for %s: %w", scope, err)
		}
		for _, row := range rows {
			states[row.MessageID] = row
		}
	}

	s.logger.DebugContext(ctx, "Loaded message states", "scope", scope.String(), "requested", len(messageIDs), "found", len(states))
	return states, nil
}

const insertMessageSQL = `
    INSERT INTO messages (
        chat_id, topic_id, message_id, date, edit_date, sender_id,
        sender_username, text, reply_to_msg_id, is_service, deleted,
        content_hash, updated_at
    ) VALUES (
        :chat_id, :topic_id, :message_id, :date, :edit_date, :sender_id,
        :sender_username, :text, :reply_to_msg_id, :is_service, 0,
        :content_hash, :updated_at
    );
`

const updateMessageSQL = `
    UPDATE messages SET
        edit_date = :edit_date,
        sender_id = :sender_id,
        sender_username = :sender_username,
        text = :text,
        reply_to_msg_id = :reply_to_msg_id,
        content_hash = :content_hash,
        updated_at = :updated_at
    WHERE chat_id = :chat_id AND topic_id = :topic_id AND message_id = :message_id;
`

// ApplyBatch commits one reconciliation batch inside a single transaction.
func (s *sqlxStore) ApplyBatch(ctx context.Context, inserts, updates []*Message) error {
	if len(inserts) == 0 && len(updates) == 0 {
		return nil
	}

	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		s.logger.ErrorContext(ctx, "Failed to begin transaction for batch", "error", err)
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() {
		if tx != nil {
			if rollbackErr := tx.Rollback(); rollbackErr != nil {
				if !errors.Is(rollbackErr, sql.ErrTxDone) {
					s.logger.WarnContext(ctx, "Error rolling back transaction", "error", rollbackErr)
				}
			}
		}
	}()

	for _, msg := range inserts {
		if msg == nil {
			return fmt.Errorf("cannot insert nil message")
		}
		if _, err := tx.NamedExecContext(ctx, insertMessageSQL, msg); err != nil {
			s.logger.ErrorContext(ctx, "Error inserting message",
				"scope", msg.Scope().String(), "message_id", msg.MessageID, "error", err)
			return fmt.Errorf("failed to insert message %d in %s: %w", msg.MessageID, msg.Scope(), err)
		}
	}

	for _, msg := range updates {
		if msg == nil {
			return fmt.Errorf("cannot update nil message")
		}
		result, err := tx.NamedExecContext(ctx, updateMessageSQL, msg)
		if err != nil {
			s.logger.ErrorContext(ctx, "Error updating message",
				"scope", msg.Scope().String(), "message_id", msg.MessageID, "error", err)
			return fmt.Errorf("failed to update message %d in %s: %w", msg.MessageID, msg.Scope(), err)
		}
		affected, err := result.RowsAffected()
		if err == nil && affected != 1 {
			s.logger.WarnContext(ctx, "Unexpected number of rows affected by message update",
				"scope", msg.Scope().String(), "message_id", msg.MessageID, "affected", affected)
		}
	}

	if err := tx.Commit(); err != nil {
		s.logger.ErrorContext(ctx, "Failed to commit batch transaction", "error", err)
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	tx = nil

	s.logger.DebugContext(ctx, "Batch committed", "inserted", len(inserts), "updated", len(updates))
	return nil
}

// ListWindowIDs returns non-deleted message ids in the trailing window.
func (s *sqlxStore) ListWindowIDs(ctx context.Context, scope Scope, since time.Time) ([]int64, error) {
	if ctx.Err() != nil {
		return nil, ctx.Err()
	}

	var ids []int64
	query := `
        SELECT message_id
        FROM messages
        WHERE chat_id = ? AND topic_id = ? AND date >= ? AND deleted = 0
        ORDER BY message_id ASC;
    `

	if err := s.db.SelectContext(ctx, &ids, query, scope.ChatID, scope.TopicID, since.UTC()); err != nil {
		s.logger.ErrorContext(ctx, "Error listing window ids", "scope", scope.String(), "error", err)
		return nil, fmt.Errorf("failed to list window ids for %s: %w", scope, err)
	}

	return ids, nil
}

// MarkDeleted soft-deletes the given messages. The flag transition is
// one-way: rows already marked stay marked.
func (s *sqlxStore) MarkDeleted(ctx context.Context, scope Scope, messageIDs []int64, now time.Time) (int64, error) {
	if len(messageIDs) == 0 {
		return 0, nil
	}

	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		s.logger.ErrorContext(ctx, "Failed to begin transaction for deletion marking", "error", err)
		return 0, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() {
		if tx != nil {
			if rollbackErr := tx.Rollback(); rollbackErr != nil {
				if !errors.Is(rollbackErr, sql.ErrTxDone) {
					s.logger.WarnContext(ctx, "Error rolling back transaction", "error", rollbackErr)
				}
			}
		}
	}()

	var marked int64
	for _, chunk := range chunkIDs(messageIDs) {
		query, args, err := sqlx.In(`
            UPDATE messages SET deleted = 1, updated_at = ?
            WHERE chat_id = ? AND topic_id = ? AND deleted = 0 AND message_id IN (?);
        `, now.UTC(), scope.ChatID, scope.TopicID, chunk)
		if err != nil {
			return 0, fmt.Errorf("failed to build deletion query: %w", err)
		}
		query = tx.Rebind(query)

		result, err := tx.ExecContext(ctx, query, args...)
		if err != nil {
			s.logger.ErrorContext(ctx, "Error marking messages deleted", "scope", scope.String(), "error", err)
			return 0, fmt.Errorf("failed to mark messages deleted in %s: %w", scope, err)
		}
		if affected, err := result.RowsAffected(); err == nil {
			marked += affected
		}
	}

	if err := tx.Commit(); err != nil {
		s.logger.ErrorContext(ctx, "Failed to commit deletion transaction", "error", err)
		return 0, fmt.Errorf("failed to commit transaction: %w", err)
	}
	tx = nil

	s.logger.DebugContext(ctx, "Marked messages deleted", "scope", scope.String(), "requested", len(messageIDs), "marked", marked)
	return marked, nil
}

// Checkpoint retrieves the checkpoint for a scope, zero-valued if absent.
func (s *sqlxStore) Checkpoint(ctx context.Context, scope Scope) (*Checkpoint, error) {
	if ctx.Err() != nil {
		return nil, ctx.Err()
	}

	var cp Checkpoint
	query := `
        SELECT chat_id, topic_id, last_message_id, last_sync_at
        FROM checkpoints
        WHERE chat_id = ? AND topic_id = ?;
    `

	err := s.db.GetContext(ctx, &cp, query, scope.ChatID, scope.TopicID)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		// First run for this scope.
		s.logger.DebugContext(ctx, "No checkpoint found", "scope", scope.String())
		return &Checkpoint{ChatID: scope.ChatID, TopicID: scope.TopicID}, nil

	case err != nil:
		s.logger.ErrorContext(ctx, "Error loading checkpoint", "scope", scope.String(), "error", err)
		return nil, fmt.Errorf("failed to load checkpoint for %s: %w", scope, err)
	}

	return &cp, nil
}

// AdvanceCheckpoint upserts a scope's checkpoint, never moving it backward.
func (s *sqlxStore) AdvanceCheckpoint(ctx context.Context, scope Scope, lastMessageID int64, syncAt time.Time) error {
	if ctx.Err() != nil {
		return ctx.Err()
	}

	// MAX() keeps the stored id monotonic even if a caller ever passes a
	// stale value.
	query := `
        INSERT INTO checkpoints (chat_id, topic_id, last_message_id, last_sync_at)
        VALUES (?, ?, ?, ?)
        ON CONFLICT(chat_id, topic_id) DO UPDATE SET
            last_message_id = MAX(checkpoints.last_message_id, excluded.last_message_id),
            last_sync_at = excluded.last_sync_at;
    `

	if _, err := s.db.ExecContext(ctx, query, scope.ChatID, scope.TopicID, lastMessageID, syncAt.UTC()); err != nil {
		s.logger.ErrorContext(ctx, "Error advancing checkpoint",
			"scope", scope.String(), "last_message_id", lastMessageID, "error", err)
		return fmt.Errorf("failed to advance checkpoint for %s: %w", scope, err)
	}

	s.logger.DebugContext(ctx, "Checkpoint advanced", "scope", scope.String(), "last_message_id", lastMessageID)
	return nil
}

// SelectExport reads messages in the stable export order.
func (s *sqlxStore) SelectExport(ctx context.Context, q ExportQuery) ([]*Message, error) {
	if ctx.Err() != nil {
		return nil, ctx.Err()
	}

	query := `
        SELECT id, chat_id, topic_id, message_id, date, edit_date, sender_id,
               sender_username, text, reply_to_msg_id, is_service, deleted,
               content_hash, updated_at
        FROM messages
        WHERE 1 = 1
    `
	var args []any

	if q.Scope != nil {
		query += " AND chat_id = ? AND topic_id = ?"
		args = append(args, q.Scope.ChatID, q.Scope.TopicID)
	}
	if !q.IncludeDeleted {
		query += " AND deleted = 0"
	}
	if !q.IncludeService {
		query += " AND is_service = 0"
	}
	query += " ORDER BY chat_id ASC, topic_id ASC, message_id ASC;"

	var messages []*Message
	if err := s.db.SelectContext(ctx, &messages, query, args...); err != nil {
		s.logger.ErrorContext(ctx, "Error selecting messages for export", "error", err)
		return nil, fmt.Errorf("failed to select messages for export: %w", err)
	}

	s.logger.DebugContext(ctx, "Selected messages for export", "count", len(messages))
	return messages, nil
}

// Stats summarizes the message table.
func (s *sqlxStore) Stats(ctx context.Context) (*Stats, error) {
	if ctx.Err() != nil {
		return nil, ctx.Err()
	}

	var stats Stats
	query := `
        SELECT
            COUNT(*) AS total_messages,
            COALESCE(SUM(deleted), 0) AS deleted_messages,
            COALESCE(SUM(is_service), 0) AS service_messages,
            COUNT(DISTINCT chat_id || ':' || topic_id) AS scopes
        FROM messages;
    `

	if err := s.db.GetContext(ctx, &stats, query); err != nil {
		s.logger.ErrorContext(ctx, "Error computing store stats", "error", err)
		return nil, fmt.Errorf("failed to compute store stats: %w", err)
	}

	// Date bounds are read as plain column selects. Wrapping the column
	// in MIN()/MAX() loses the declared TIMESTAMP type and the driver
	// would hand back a raw string.
	boundQueries := []struct {
		dest  *sql.NullTime
		query string
	}{
		{&stats.EarliestDate, "SELECT date FROM messages ORDER BY date ASC LIMIT 1;"},
		{&stats.LatestDate, "SELECT date FROM messages ORDER BY date DESC LIMIT 1;"},
	}
	for _, bq := range boundQueries {
		var bound time.Time
		err := s.db.GetContext(ctx, &bound, bq.query)
		switch {
		case errors.Is(err, sql.ErrNoRows):
			// Empty table, bound stays NULL.
		case err != nil:
			s.logger.ErrorContext(ctx, "Error computing store date bounds", "error", err)
			return nil, fmt.Errorf("failed to compute store date bounds: %w", err)
		default:
			*bq.dest = sql.NullTime{Time: bound, Valid: true}
		}
	}

	return &stats, nil
}

// RunSQLMaintenance executes a VACUUM command on the SQLite database.
func (s *sqlxStore) RunSQLMaintenance(ctx context.Context) error {
	if ctx.Err() != nil {
		s.logger.WarnContext(ctx, "Context cancelled or timed out before starting VACUUM", "error", ctx.Err())
		return ctx.Err()
	}

	s.logger.InfoContext(ctx, "Starting database maintenance (VACUUM)...")

	// VACUUM must run outside a transaction in SQLite.
	_, err := s.db.ExecContext(ctx, "VACUUM;")

	switch {
	case errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled):
		s.logger.WarnContext(ctx, "VACUUM operation timed out or was cancelled", "error", err)
		return fmt.Errorf("database maintenance (VACUUM) timed out: %w", err)

	case err != nil:
		s.logger.ErrorContext(ctx, "Database maintenance (VACUUM) failed", "error", err)
		return fmt.Errorf("failed to execute VACUUM: %w", err)

	default:
		s.logger.InfoContext(ctx, "Database maintenance (VACUUM) completed successfully")
	}

	return nil
}

package sync

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/tgmirror/tgmirror/internal/database"
	"github.com/tgmirror/tgmirror/internal/telegram"
)

// Options configures one reconciler instance.
type Options struct {
	// NewWindowDays bounds how far back the first-ever run of a scope
	// fetches history. Later runs are bounded by the checkpoint instead, so
	// a long-dormant scope never loses already-mirrored history.
	NewWindowDays int

	// EditLookbackDays is the trailing window rescanned for silent edits
	// and deletions on every run. Zero disables the edit and deletion
	// passes entirely.
	EditLookbackDays int

	// BatchSize is the number of records committed per transaction.
	BatchSize int
}

const defaultBatchSize = 300

func (o *Options) normalize() error {
	if o.NewWindowDays <= 0 {
		return fmt.Errorf("new window days must be positive, got %d", o.NewWindowDays)
	}
	if o.EditLookbackDays < 0 {
		return fmt.Errorf("edit lookback days must not be negative, got %d", o.EditLookbackDays)
	}
	if o.BatchSize <= 0 {
		o.BatchSize = defaultBatchSize
	}
	return nil
}

// Reconciler drives the three reconciliation passes for a scope against the
// message store. A single reconciler may serve many scopes, but the three
// passes of one scope always run sequentially within one Synchronize call.
type Reconciler struct {
	store   database.Store
	fetcher telegram.Fetcher
	logger  *slog.Logger
	opts    Options
	now     func() time.Time
}

// NewReconciler creates a reconciler. The clock is injectable for tests;
// pass nil to use time.Now.
func NewReconciler(store database.Store, fetcher telegram.Fetcher, logger *slog.Logger, opts Options, clock func() time.Time) (*Reconciler, error) {
	if err := opts.normalize(); err != nil {
		return nil, fmt.Errorf("invalid reconciler options: %w", err)
	}
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	if clock == nil {
		clock = time.Now
	}
	return &Reconciler{
		store:   store,
		fetcher: fetcher,
		logger:  logger.With("component", "reconciler"),
		opts:    opts,
		now:     clock,
	}, nil
}

// Synchronize runs the three passes for one scope and reports what changed.
// On a fatal pass failure the returned RunResult still carries the counts
// of everything durably committed before the failure.
func (r *Reconciler) Synchronize(ctx context.Context, scope database.Scope) (*RunResult, error) {
	now := r.now().UTC()
	res := &RunResult{Scope: scope, StartedAt: now}
	defer func() { res.FinishedAt = r.now().UTC() }()

	log := r.logger.With("scope", scope.String())

	cp, err := r.store.Checkpoint(ctx, scope)
	if err != nil {
		return res, &RunError{Pass: PassIngest, Scope: scope, Err: &StorageError{Err: err}}
	}

	log.InfoContext(ctx, "Starting synchronization run",
		"checkpoint", cp.LastMessageID,
		"new_window_days", r.opts.NewWindowDays,
		"edit_lookback_days", r.opts.EditLookbackDays)

	newCutoff := now.AddDate(0, 0, -r.opts.NewWindowDays)

	if err := r.ingestNew(ctx, scope, cp, newCutoff, now, res); err != nil {
		return res, err
	}

	if r.opts.EditLookbackDays == 0 {
		log.InfoContext(ctx, "Edit lookback disabled, skipping edit and deletion passes")
		log.InfoContext(ctx, "Synchronization run finished",
			"inserted", res.Inserted, "updated", res.Updated,
			"deleted_marked", res.DeletedMarked, "scanned", res.Scanned)
		return res, nil
	}

	editCutoff := now.AddDate(0, 0, -r.opts.EditLookbackDays)

	// The edit and deletion passes never move the checkpoint, so their
	// failure does not undo the ingestion pass's progress.
	seen, err := r.scanWindow(ctx, scope, cp.LastMessageID, editCutoff, now, res)
	if err != nil {
		return res, err
	}

	if err := r.markAbsent(ctx, scope, editCutoff, seen, res); err != nil {
		return res, err
	}

	log.InfoContext(ctx, "Synchronization run finished",
		"inserted", res.Inserted, "updated", res.Updated,
		"deleted_marked", res.DeletedMarked, "scanned", res.Scanned,
		"anomalies", len(res.Anomalies))
	return res, nil
}

// ingestNew is the fast path: fetch messages above the checkpoint in
// ascending id order and commit them in fixed-size batches. The checkpoint
// advances after each committed batch, so a crash replays a safe
// overlapping window instead of skipping messages.
func (r *Reconciler) ingestNew(ctx context.Context, scope database.Scope, cp *database.Checkpoint, cutoff, now time.Time, res *RunResult) error {
	firstRun := cp.LastMessageID == 0

	var (
		it  telegram.MessageIter
		err error
	)
	if firstRun {
		// The date cutoff only bounds the first-ever run; afterwards the
		// checkpoint is the lower bound regardless of age.
		it, err = r.fetcher.FetchWindow(ctx, scope, cutoff)
	} else {
		it, err = r.fetcher.FetchSince(ctx, scope, cp.LastMessageID, true)
	}
	if err != nil {
		if errors.Is(err, telegram.ErrScopeNotFound) {
			return fmt.Errorf("synchronize %s: %w", scope, err)
		}
		return &RunError{Pass: PassIngest, Scope: scope, LastCommittedID: cp.LastMessageID, Err: &TransportError{Err: err}}
	}

	lastCommitted := cp.LastMessageID
	batch := make([]*telegram.RemoteMessage, 0, r.opts.BatchSize)

	flush := func() error {
		if len(batch) == 0 {
			return nil
		}
		maxID, err := r.commitBatch(ctx, scope, batch, now, res)
		if err != nil {
			return &RunError{Pass: PassIngest, Scope: scope, LastCommittedID: lastCommitted, Err: err}
		}
		if maxID > lastCommitted {
			lastCommitted = maxID
			if err := r.store.AdvanceCheckpoint(ctx, scope, lastCommitted, r.now().UTC()); err != nil {
				return &RunError{Pass: PassIngest, Scope: scope, LastCommittedID: lastCommitted, Err: &StorageError{Err: err}}
			}
		}
		batch = batch[:0]
		return nil
	}

	for {
		msg, err := it.Next(ctx)
		if errors.Is(err, telegram.ErrEndOfHistory) {
			break
		}
		if err != nil {
			// The partial batch is dropped; committed batches and the
			// checkpoint they advanced are preserved.
			return &RunError{Pass: PassIngest, Scope: scope, LastCommittedID: lastCommitted, Err: &TransportError{Err: err}}
		}
		if msg.ID <= cp.LastMessageID {
			continue
		}
		if malformed(msg) {
			res.Anomalies = append(res.Anomalies, Anomaly{
				MessageID: msg.ID,
				Kind:      AnomalyMalformedMessage,
				Detail:    "missing id or creation date",
			})
			continue
		}
		if firstRun && msg.Date.Before(cutoff) {
			continue
		}

		res.Scanned++
		batch = append(batch, msg)
		if len(batch) >= r.opts.BatchSize {
			if err := flush(); err != nil {
				return err
			}
		}
	}

	if err := flush(); err != nil {
		return err
	}

	// Record the completed pass even when nothing new arrived, so
	// last_sync_at reflects this run.
	if err := r.store.AdvanceCheckpoint(ctx, scope, lastCommitted, r.now().UTC()); err != nil {
		return &RunError{Pass: PassIngest, Scope: scope, LastCommittedID: lastCommitted, Err: &StorageError{Err: err}}
	}

	return nil
}

// scanWindow is the edit-detection pass: re-fetch the trailing window and
// reconcile every message in it against the stored content hash. It returns
// the set of ids the fetch produced; deletion detection depends on that set
// being complete, so a transport failure here yields no set at all.
func (r *Reconciler) scanWindow(ctx context.Context, scope database.Scope, checkpointID int64, cutoff, now time.Time, res *RunResult) (map[int64]struct{}, error) {
	it, err := r.fetcher.FetchWindow(ctx, scope, cutoff)
	if err != nil {
		if errors.Is(err, telegram.ErrScopeNotFound) {
			return nil, fmt.Errorf("synchronize %s: %w", scope, err)
		}
		return nil, &RunError{Pass: PassEditScan, Scope: scope, LastCommittedID: checkpointID, Err: &TransportError{Err: err}}
	}

	seen := make(map[int64]struct{})
	batch := make([]*telegram.RemoteMessage, 0, r.opts.BatchSize)

	flush := func() error {
		if len(batch) == 0 {
			return nil
		}
		if _, err := r.commitBatch(ctx, scope, batch, now, res); err != nil {
			return &RunError{Pass: PassEditScan, Scope: scope, LastCommittedID: checkpointID, Err: err}
		}
		batch = batch[:0]
		return nil
	}

	for {
		msg, err := it.Next(ctx)
		if errors.Is(err, telegram.ErrEndOfHistory) {
			break
		}
		if err != nil {
			return nil, &RunError{Pass: PassEditScan, Scope: scope, LastCommittedID: checkpointID, Err: &TransportError{Err: err}}
		}
		if malformed(msg) {
			res.Anomalies = append(res.Anomalies, Anomaly{
				MessageID: msg.ID,
				Kind:      AnomalyMalformedMessage,
				Detail:    "missing id or creation date",
			})
			continue
		}

		seen[msg.ID] = struct{}{}
		res.Scanned++
		batch = append(batch, msg)
		if len(batch) >= r.opts.BatchSize {
			if err := flush(); err != nil {
				return nil, err
			}
		}
	}

	if err := flush(); err != nil {
		return nil, err
	}

	return seen, nil
}

// markAbsent is the deletion-detection pass: every stored, non-deleted
// message in the window whose id the edit scan did not see is soft-deleted.
// Messages older than the window are frozen and never reconsidered.
func (r *Reconciler) markAbsent(ctx context.Context, scope database.Scope, cutoff time.Time, seen map[int64]struct{}, res *RunResult) error {
	windowIDs, err := r.store.ListWindowIDs(ctx, scope, cutoff)
	if err != nil {
		return &RunError{Pass: PassDeleteScan, Scope: scope, Err: &StorageError{Err: err}}
	}

	var absent []int64
	for _, id := range windowIDs {
		if _, ok := seen[id]; !ok {
			absent = append(absent, id)
		}
	}
	if len(absent) == 0 {
		return nil
	}

	marked, err := r.store.MarkDeleted(ctx, scope, absent, r.now().UTC())
	if err != nil {
		return &RunError{Pass: PassDeleteScan, Scope: scope, Err: &StorageError{Err: err}}
	}
	res.DeletedMarked += int(marked)

	r.logger.InfoContext(ctx, "Marked absent messages as deleted",
		"scope", scope.String(), "candidates", len(absent), "marked", marked)
	return nil
}

// commitBatch splits one fetched batch into inserts, updates and no-ops
// based on stored state and commits it in a single transaction. It returns
// the highest message id contained in the batch (no-ops included, so the
// checkpoint may advance over unchanged messages).
func (r *Reconciler) commitBatch(ctx context.Context, scope database.Scope, batch []*telegram.RemoteMessage, now time.Time, res *RunResult) (int64, error) {
	ids := make([]int64, 0, len(batch))
	var maxID int64
	for _, msg := range batch {
		ids = append(ids, msg.ID)
		maxID = max(maxID, msg.ID)
	}

	states, err := r.store.MessageStates(ctx, scope, ids)
	if err != nil {
		return 0, &StorageError{Err: err}
	}

	var inserts, updates []*database.Message
	for _, msg := range batch {
		record := toRecord(scope, msg, now)

		state, exists := states[msg.ID]
		if !exists {
			inserts = append(inserts, record)
			continue
		}
		if state.ContentHash == record.ContentHash {
			continue
		}
		if editRegressed(state, record) {
			res.Anomalies = append(res.Anomalies, Anomaly{
				MessageID: msg.ID,
				Kind:      AnomalyEditRegression,
				Detail: fmt.Sprintf("stored edit date %s is newer than remote %s",
					formatNullTime(state.EditDate), formatNullTime(record.EditDate)),
			})
			continue
		}
		updates = append(updates, record)
	}

	if err := r.store.ApplyBatch(ctx, inserts, updates); err != nil {
		return 0, &StorageError{Err: err}
	}

	res.Inserted += len(inserts)
	res.Updated += len(updates)
	return maxID, nil
}

func malformed(msg *telegram.RemoteMessage) bool {
	return msg.ID <= 0 || msg.Date.IsZero()
}

// editRegressed reports whether applying the remote record would move the
// stored edit date backwards. Edits are assumed monotonic.
func editRegressed(state database.MessageState, record *database.Message) bool {
	if !state.EditDate.Valid {
		return false
	}
	if !record.EditDate.Valid {
		return true
	}
	return record.EditDate.Time.Before(state.EditDate.Time)
}

func formatNullTime(t sql.NullTime) string {
	if !t.Valid {
		return "none"
	}
	return t.Time.UTC().Format(time.RFC3339)
}

// toRecord converts a remote message into its stored representation.
func toRecord(scope database.Scope, msg *telegram.RemoteMessage, now time.Time) *database.Message {
	record := &database.Message{
		ChatID:    scope.ChatID,
		TopicID:   scope.TopicID,
		MessageID: msg.ID,
		Date:      msg.Date.UTC(),
		Text:      msg.Text,
		IsService: msg.IsService,
		UpdatedAt: now.UTC(),
	}
	if msg.Edited() {
		record.EditDate = sql.NullTime{Time: msg.EditDate.UTC(), Valid: true}
	}
	if msg.SenderID != 0 {
		record.SenderID = sql.NullInt64{Int64: msg.SenderID, Valid: true}
	}
	if msg.SenderUsername != "" {
		record.SenderUsername = sql.NullString{String: msg.SenderUsername, Valid: true}
	}
	if msg.ReplyToMsgID != 0 {
		record.ReplyToMsgID = sql.NullInt64{Int64: msg.ReplyToMsgID, Valid: true}
	}
	record.ContentHash = database.ContentHash(record.Text, record.EditDate)
	return record
}

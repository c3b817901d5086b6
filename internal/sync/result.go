// Package sync implements the incremental synchronization and
// reconciliation engine: per-scope new-message ingestion, edit detection,
// and best-effort deletion detection against the message store.
package sync

import (
	"sync"
	"time"

	"github.com/tgmirror/tgmirror/internal/database"
)

// AnomalyKind classifies non-fatal per-record conditions recovered during a
// run. Anomalous records are skipped and reported, never raised as run
// failures.
type AnomalyKind string

const (
	// AnomalyEditRegression marks a remote edit_date older than the stored
	// one. Edits are assumed monotonic, so the remote value is not applied.
	AnomalyEditRegression AnomalyKind = "edit_regression"

	// AnomalyMalformedMessage marks a remote message missing required
	// fields (zero id or creation date).
	AnomalyMalformedMessage AnomalyKind = "malformed_message"
)

// Anomaly describes one skipped record.
type Anomaly struct {
	MessageID int64       `json:"message_id"`
	Kind      AnomalyKind `json:"kind"`
	Detail    string      `json:"detail"`
}

// RunResult reports the outcome of one Synchronize invocation for a scope.
type RunResult struct {
	Scope database.Scope `json:"scope"`

	Inserted      int `json:"inserted"`
	Updated       int `json:"updated"`
	DeletedMarked int `json:"deleted_marked"`
	Scanned       int `json:"scanned"`

	Anomalies []Anomaly `json:"anomalies,omitempty"`

	StartedAt  time.Time `json:"started_at"`
	FinishedAt time.Time `json:"finished_at"`
}

// HasChanges reports whether the run mutated the store.
func (r *RunResult) HasChanges() bool {
	return r.Inserted > 0 || r.Updated > 0 || r.DeletedMarked > 0
}

// ChangeTracker accumulates change counters across the runs of one
// synchronization cycle (possibly several scopes synchronized
// concurrently). Its HasChanges gate is the sole input deciding whether
// export artifacts are re-rendered.
type ChangeTracker struct {
	mu            sync.Mutex
	inserted      int
	updated       int
	deletedMarked int
}

// Record folds a run's counters into the tracker.
func (t *ChangeTracker) Record(res *RunResult) {
	if res == nil {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	t.inserted += res.Inserted
	t.updated += res.Updated
	t.deletedMarked += res.DeletedMarked
}

// Totals returns the accumulated counters.
func (t *ChangeTracker) Totals() (inserted, updated, deletedMarked int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.inserted, t.updated, t.deletedMarked
}

// HasChanges is true iff any counter is nonzero.
func (t *ChangeTracker) HasChanges() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.inserted > 0 || t.updated > 0 || t.deletedMarked > 0
}

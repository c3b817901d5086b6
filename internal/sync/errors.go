package sync

import (
	"fmt"

	"github.com/tgmirror/tgmirror/internal/database"
)

// Pass identifies one of the three reconciliation passes.
type Pass string

const (
	PassIngest     Pass = "ingest"
	PassEditScan   Pass = "edit_scan"
	PassDeleteScan Pass = "delete_scan"
)

// TransportError wraps a network or remote-access failure. It aborts the
// current pass; batches already committed are preserved.
type TransportError struct {
	Err error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("transport failure: %v", e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

// StorageError wraps a commit or integrity failure of the message store.
// It aborts the run; the checkpoint is left unchanged.
type StorageError struct {
	Err error
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("storage failure: %v", e.Err)
}

func (e *StorageError) Unwrap() error { return e.Err }

// RunError is the fatal-run error surfaced by Synchronize. It names the
// failed pass and the highest message id whose batch was durably committed,
// so the caller can report partial progress instead of a total failure.
type RunError struct {
	Pass            Pass
	Scope           database.Scope
	LastCommittedID int64
	Err             error
}

func (e *RunError) Error() string {
	return fmt.Sprintf("%s pass failed for %s (partial progress preserved through message id %d): %v",
		e.Pass, e.Scope, e.LastCommittedID, e.Err)
}

func (e *RunError) Unwrap() error { return e.Err }

package telegram

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/tgmirror/tgmirror/internal/database"
)

// ErrEndOfHistory is returned by MessageIter.Next when the sequence is
// exhausted. It signals normal completion, not a failure.
var ErrEndOfHistory = errors.New("end of message history")

// ErrScopeNotFound indicates the remote chat or topic is inaccessible
// (invalid identifier, private channel, revoked access).
var ErrScopeNotFound = errors.New("remote scope not found or inaccessible")

// FloodWaitError is the typed rate-limit signal: the remote source demands
// a mandatory pause before the same request may be repeated. It is a wait
// contract, not a failure, and is consumed inside the adapter's retry loop.
type FloodWaitError struct {
	RetryAfter time.Duration
}

func (e *FloodWaitError) Error() string {
	return fmt.Sprintf("rate limited by remote source, retry after %s", e.RetryAfter)
}

// MessageIter is a lazy, finite, consumed-once sequence of remote messages.
// Next returns ErrEndOfHistory once the sequence is exhausted; any other
// error terminates the sequence and must not be retried by the caller.
type MessageIter interface {
	Next(ctx context.Context) (*RemoteMessage, error)
}

// Fetcher yields remote messages for a scope. Implementations own
// authentication, pagination, and the translation of remote rate-limit
// signals into FloodWaitError waits that never surface to the consumer.
type Fetcher interface {
	// FetchSince iterates messages with id > minID. When ascending is true
	// the sequence is ordered by increasing id, otherwise decreasing.
	FetchSince(ctx context.Context, scope database.Scope, minID int64, ascending bool) (MessageIter, error)

	// FetchWindow iterates messages whose creation date is at or after
	// 'since', ordered by increasing id.
	FetchWindow(ctx context.Context, scope database.Scope, since time.Time) (MessageIter, error)
}

// PageFunc fetches one transport page of messages with id strictly greater
// than offsetID, ordered by increasing id. An empty page ends the sequence.
type PageFunc func(ctx context.Context, offsetID int64) ([]*RemoteMessage, error)

// pageIter adapts a paginated transport into a MessageIter. A
// FloodWaitError from the page fetch blocks for the mandated duration and
// retries the same page; every other error class propagates unretried.
type pageIter struct {
	fetch    PageFunc
	buf      []*RemoteMessage
	offsetID int64
	done     bool
}

// NewPageIter wraps a page-oriented transport fetch into the lazy iteration
// contract consumed by the reconciler.
func NewPageIter(fetch PageFunc, startOffsetID int64) MessageIter {
	return &pageIter{fetch: fetch, offsetID: startOffsetID}
}

func (it *pageIter) Next(ctx context.Context) (*RemoteMessage, error) {
	for len(it.buf) == 0 {
		if it.done {
			return nil, ErrEndOfHistory
		}
		page, err := it.fetch(ctx, it.offsetID)

		var floodWait *FloodWaitError
		if errors.As(err, &floodWait) {
			if waitErr := sleep(ctx, floodWait.RetryAfter); waitErr != nil {
				return nil, waitErr
			}
			continue
		}
		if err != nil {
			return nil, err
		}
		if len(page) == 0 {
			it.done = true
			return nil, ErrEndOfHistory
		}

		it.buf = page
		it.offsetID = page[len(page)-1].ID
	}

	msg := it.buf[0]
	it.buf = it.buf[1:]
	return msg, nil
}

// sleep blocks for the mandated rate-limit duration, honoring cancellation.
func sleep(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

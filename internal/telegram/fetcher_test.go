package telegram

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func remoteMsg(id int64) *RemoteMessage {
	return &RemoteMessage{ID: id, Date: time.Unix(1700000000+id, 0).UTC(), Text: "m"}
}

func drain(t *testing.T, it MessageIter) []int64 {
	t.Helper()
	var ids []int64
	for {
		msg, err := it.Next(context.Background())
		if errors.Is(err, ErrEndOfHistory) {
			return ids
		}
		require.NoError(t, err)
		ids = append(ids, msg.ID)
	}
}

func TestPageIterWalksPages(t *testing.T) {
	t.Parallel()

	pages := map[int64][]*RemoteMessage{
		0: {remoteMsg(1), remoteMsg(2)},
		2: {remoteMsg(3)},
		3: {},
	}
	var calls int
	it := NewPageIter(func(ctx context.Context, offsetID int64) ([]*RemoteMessage, error) {
		calls++
		return pages[offsetID], nil
	}, 0)

	assert.Equal(t, []int64{1, 2, 3}, drain(t, it))
	assert.Equal(t, 3, calls)

	// The iterator is consumed once; further calls keep reporting the end.
	_, err := it.Next(context.Background())
	assert.ErrorIs(t, err, ErrEndOfHistory)
}

func TestPageIterStartOffset(t *testing.T) {
	t.Parallel()

	it := NewPageIter(func(ctx context.Context, offsetID int64) ([]*RemoteMessage, error) {
		if offsetID >= 5 {
			return nil, nil
		}
		return []*RemoteMessage{remoteMsg(offsetID + 1)}, nil
	}, 3)

	assert.Equal(t, []int64{4, 5}, drain(t, it))
}

func TestPageIterRetriesSamePageAfterFloodWait(t *testing.T) {
	t.Parallel()

	var offsets []int64
	it := NewPageIter(func(ctx context.Context, offsetID int64) ([]*RemoteMessage, error) {
		offsets = append(offsets, offsetID)
		if len(offsets) == 1 {
			return nil, &FloodWaitError{RetryAfter: time.Millisecond}
		}
		if len(offsets) == 2 {
			return []*RemoteMessage{remoteMsg(1)}, nil
		}
		return nil, nil
	}, 0)

	assert.Equal(t, []int64{1}, drain(t, it))
	// Same offset requested again after the mandated wait.
	assert.Equal(t, []int64{0, 0, 1}, offsets)
}

func TestPageIterPropagatesTransportError(t *testing.T) {
	t.Parallel()

	boom := errors.New("connection reset")
	it := NewPageIter(func(ctx context.Context, offsetID int64) ([]*RemoteMessage, error) {
		return nil, boom
	}, 0)

	_, err := it.Next(context.Background())
	assert.ErrorIs(t, err, boom)
}

func TestPageIterFloodWaitHonorsCancellation(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	it := NewPageIter(func(ctx context.Context, offsetID int64) ([]*RemoteMessage, error) {
		return nil, &FloodWaitError{RetryAfter: time.Hour}
	}, 0)

	go func() {
		time.Sleep(10 * time.Millisecond)
		cancel()
	}()

	_, err := it.Next(ctx)
	assert.ErrorIs(t, err, context.Canceled)
}

package jobs

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tgmirror/tgmirror/internal/database"
	syncengine "github.com/tgmirror/tgmirror/internal/sync"
)

var testScope = database.Scope{ChatID: 100, TopicID: database.NoTopic}

func TestRegistryLifecycle(t *testing.T) {
	t.Parallel()

	reg := NewRegistry()
	job := reg.Create(testScope)

	require.NotEmpty(t, job.ID)
	assert.Equal(t, StatusQueued, job.Status)
	assert.Equal(t, testScope, job.Scope)
	assert.False(t, job.EnqueuedAt.IsZero())

	require.NoError(t, reg.MarkRunning(job.ID))
	got, ok := reg.Get(job.ID)
	require.True(t, ok)
	assert.Equal(t, StatusRunning, got.Status)
	assert.False(t, got.StartedAt.IsZero())

	result := &syncengine.RunResult{Scope: testScope, Inserted: 3}
	require.NoError(t, reg.MarkDone(job.ID, result))
	got, ok = reg.Get(job.ID)
	require.True(t, ok)
	assert.Equal(t, StatusDone, got.Status)
	require.NotNil(t, got.Result)
	assert.Equal(t, 3, got.Result.Inserted)
	assert.False(t, got.FinishedAt.IsZero())
}

func TestRegistryErrorPath(t *testing.T) {
	t.Parallel()

	reg := NewRegistry()
	job := reg.Create(testScope)

	require.NoError(t, reg.MarkRunning(job.ID))
	require.NoError(t, reg.MarkError(job.ID, nil, "transport failure"))

	got, ok := reg.Get(job.ID)
	require.True(t, ok)
	assert.Equal(t, StatusError, got.Status)
	assert.Equal(t, "transport failure", got.Error)
}

func TestRegistryRejectsInvalidTransitions(t *testing.T) {
	t.Parallel()

	reg := NewRegistry()
	job := reg.Create(testScope)

	// Finishing a job that never started is invalid.
	assert.Error(t, reg.MarkDone(job.ID, nil))
	assert.Error(t, reg.MarkError(job.ID, nil, "x"))

	require.NoError(t, reg.MarkRunning(job.ID))
	// Starting twice is invalid.
	assert.Error(t, reg.MarkRunning(job.ID))

	require.NoError(t, reg.MarkDone(job.ID, nil))
	// Terminal states are final.
	assert.Error(t, reg.MarkRunning(job.ID))
	assert.Error(t, reg.MarkError(job.ID, nil, "x"))

	// Unknown ids are reported, not silently accepted.
	assert.Error(t, reg.MarkRunning("no-such-job"))
}

func TestRegistryGetReturnsSnapshot(t *testing.T) {
	t.Parallel()

	reg := NewRegistry()
	job := reg.Create(testScope)

	got, ok := reg.Get(job.ID)
	require.True(t, ok)
	got.Status = StatusError // mutating the snapshot must not affect the registry

	again, ok := reg.Get(job.ID)
	require.True(t, ok)
	assert.Equal(t, StatusQueued, again.Status)

	_, ok = reg.Get("missing")
	assert.False(t, ok)
}

func TestRegistryListOrder(t *testing.T) {
	t.Parallel()

	reg := NewRegistry()
	first := reg.Create(database.Scope{ChatID: 1, TopicID: -1})
	second := reg.Create(database.Scope{ChatID: 2, TopicID: -1})
	third := reg.Create(database.Scope{ChatID: 3, TopicID: -1})

	listed := reg.List()
	require.Len(t, listed, 3)

	ids := map[string]bool{first.ID: true, second.ID: true, third.ID: true}
	for _, job := range listed {
		assert.True(t, ids[job.ID])
	}
	// Most recently enqueued first.
	for i := 1; i < len(listed); i++ {
		assert.False(t, listed[i].EnqueuedAt.After(listed[i-1].EnqueuedAt))
	}
}

// Package jobs provides the injected job registry and run manager that
// front-ends (HTTP, bot, scheduler) use to trigger synchronization runs.
// Each run is tracked as an explicit job with a queued → running →
// {done, error} state machine; there is no global singleton.
package jobs

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/tgmirror/tgmirror/internal/database"
	syncengine "github.com/tgmirror/tgmirror/internal/sync"
)

// Status is the lifecycle state of a job.
type Status string

const (
	StatusQueued  Status = "queued"
	StatusRunning Status = "running"
	StatusDone    Status = "done"
	StatusError   Status = "error"
)

// Job tracks one synchronization run for one scope.
type Job struct {
	ID     string               `json:"id"`
	Scope  database.Scope       `json:"scope"`
	Status Status               `json:"status"`
	Result *syncengine.RunResult `json:"result,omitempty"`
	Error  string               `json:"error,omitempty"`

	EnqueuedAt time.Time `json:"enqueued_at"`
	StartedAt  time.Time `json:"started_at,omitzero"`
	FinishedAt time.Time `json:"finished_at,omitzero"`
}

// Registry is a concurrency-safe job registry keyed by run id.
type Registry struct {
	mu   sync.RWMutex
	jobs map[string]*Job
}

// NewRegistry creates an empty job registry.
func NewRegistry() *Registry {
	return &Registry{jobs: make(map[string]*Job)}
}

// Create registers a new queued job for a scope and returns its snapshot.
func (r *Registry) Create(scope database.Scope) Job {
	job := &Job{
		ID:         uuid.NewString(),
		Scope:      scope,
		Status:     StatusQueued,
		EnqueuedAt: time.Now().UTC(),
	}

	r.mu.Lock()
	r.jobs[job.ID] = job
	r.mu.Unlock()

	return *job
}

// Get returns a snapshot of the job with the given id.
func (r *Registry) Get(id string) (Job, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	job, ok := r.jobs[id]
	if !ok {
		return Job{}, false
	}
	return *job, true
}

// List returns snapshots of all jobs, most recently enqueued first.
func (r *Registry) List() []Job {
	r.mu.RLock()
	out := make([]Job, 0, len(r.jobs))
	for _, job := range r.jobs {
		out = append(out, *job)
	}
	r.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		return out[i].EnqueuedAt.After(out[j].EnqueuedAt)
	})
	return out
}

// transition applies a state change, enforcing the job state machine.
func (r *Registry) transition(id string, to Status, mutate func(*Job)) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	job, ok := r.jobs[id]
	if !ok {
		return fmt.Errorf("job %s not found", id)
	}

	valid := false
	switch to {
	case StatusRunning:
		valid = job.Status == StatusQueued
	case StatusDone, StatusError:
		valid = job.Status == StatusRunning
	case StatusQueued:
		valid = false
	}
	if !valid {
		return fmt.Errorf("invalid job transition %s -> %s for job %s", job.Status, to, id)
	}

	job.Status = to
	if mutate != nil {
		mutate(job)
	}
	return nil
}

// MarkRunning moves a queued job to running.
func (r *Registry) MarkRunning(id string) error {
	return r.transition(id, StatusRunning, func(j *Job) {
		j.StartedAt = time.Now().UTC()
	})
}

// MarkDone completes a running job with its result.
func (r *Registry) MarkDone(id string, result *syncengine.RunResult) error {
	return r.transition(id, StatusDone, func(j *Job) {
		j.Result = result
		j.FinishedAt = time.Now().UTC()
	})
}

// MarkError fails a running job. A partial result, if any, is retained so
// callers can report progress preserved before the failure.
func (r *Registry) MarkError(id string, result *syncengine.RunResult, errMsg string) error {
	return r.transition(id, StatusError, func(j *Job) {
		j.Result = result
		j.Error = errMsg
		j.FinishedAt = time.Now().UTC()
	})
}

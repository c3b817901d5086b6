package jobs

import (
	"context"
	"log/slog"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/tgmirror/tgmirror/internal/database"
	syncengine "github.com/tgmirror/tgmirror/internal/sync"
)

// Synchronizer runs one synchronization pass over a scope.
type Synchronizer interface {
	Synchronize(ctx context.Context, scope database.Scope) (*syncengine.RunResult, error)
}

// ExportRebuilder regenerates export artifacts from the current store
// contents.
type ExportRebuilder interface {
	Rebuild(ctx context.Context) error
}

// Notifier receives finished jobs. Implementations must tolerate being
// called from multiple goroutines.
type Notifier interface {
	JobFinished(ctx context.Context, job Job)
}

// Manager executes synchronization jobs. Runs for distinct scopes may
// proceed concurrently; runs for the same scope are serialized so two
// passes never interleave writes to one timeline.
type Manager struct {
	registry     *Registry
	synchronizer Synchronizer
	exports      ExportRebuilder
	logger       *slog.Logger

	mu         sync.Mutex
	scopeLocks map[database.Scope]*sync.Mutex
	notifier   Notifier

	// baseCtx bounds background jobs spawned by Enqueue so they stop on
	// shutdown rather than being tied to a short-lived request context.
	baseCtx context.Context
}

// NewManager creates a job manager.
func NewManager(registry *Registry, synchronizer Synchronizer, exports ExportRebuilder, logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{
		registry:     registry,
		synchronizer: synchronizer,
		exports:      exports,
		logger:       logger.With("component", "jobs"),
		scopeLocks:   make(map[database.Scope]*sync.Mutex),
		baseCtx:      context.Background(),
	}
}

// Registry exposes the underlying job registry for read access.
func (m *Manager) Registry() *Registry {
	return m.registry
}

// SetBaseContext sets the context that bounds background jobs. It should
// be called once during startup, before any job is enqueued.
func (m *Manager) SetBaseContext(ctx context.Context) {
	m.mu.Lock()
	m.baseCtx = ctx
	m.mu.Unlock()
}

// SetNotifier installs a finished-job listener.
func (m *Manager) SetNotifier(n Notifier) {
	m.mu.Lock()
	m.notifier = n
	m.mu.Unlock()
}

func (m *Manager) scopeLock(scope database.Scope) *sync.Mutex {
	m.mu.Lock()
	defer m.mu.Unlock()
	lock, ok := m.scopeLocks[scope]
	if !ok {
		lock = &sync.Mutex{}
		m.scopeLocks[scope] = lock
	}
	return lock
}

// Enqueue registers a job for the scope and starts it in the background.
// The returned snapshot reflects the queued state.
func (m *Manager) Enqueue(scope database.Scope) Job {
	job := m.registry.Create(scope)

	m.mu.Lock()
	ctx := m.baseCtx
	m.mu.Unlock()

	go func() {
		result, err := m.runJob(ctx, job.ID, scope)
		if err == nil && result != nil && result.HasChanges() {
			m.rebuildExports(ctx)
		}
		m.notifyFinished(ctx, job.ID)
	}()

	return job
}

// RunScope executes a job for one scope synchronously and returns the
// finished job snapshot.
func (m *Manager) RunScope(ctx context.Context, scope database.Scope) (Job, error) {
	job := m.registry.Create(scope)
	_, err := m.runJob(ctx, job.ID, scope)
	finished, _ := m.registry.Get(job.ID)
	m.notifyFinished(ctx, job.ID)
	return finished, err
}

// RunAll executes one job per scope, concurrently across scopes, and
// rebuilds export artifacts once at the end if any scope changed. The
// first error is returned after all scopes have finished.
func (m *Manager) RunAll(ctx context.Context, scopes []database.Scope) (*syncengine.ChangeTracker, error) {
	tracker := &syncengine.ChangeTracker{}

	g, gctx := errgroup.WithContext(ctx)
	for _, scope := range scopes {
		g.Go(func() error {
			job := m.registry.Create(scope)
			result, err := m.runJob(gctx, job.ID, scope)
			if result != nil {
				tracker.Record(result)
			}
			m.notifyFinished(gctx, job.ID)
			return err
		})
	}
	runErr := g.Wait()

	if tracker.HasChanges() {
		m.rebuildExports(ctx)
	}
	return tracker, runErr
}

// runJob drives one job through the registry state machine. The returned
// result may be non-nil even on error, carrying partial progress.
func (m *Manager) runJob(ctx context.Context, id string, scope database.Scope) (*syncengine.RunResult, error) {
	lock := m.scopeLock(scope)
	lock.Lock()
	defer lock.Unlock()

	if err := m.registry.MarkRunning(id); err != nil {
		m.logger.ErrorContext(ctx, "Failed to start job", "job_id", id, "error", err)
		return nil, err
	}

	m.logger.InfoContext(ctx, "Synchronization job started", "job_id", id, "scope", scope.String())

	result, err := m.synchronizer.Synchronize(ctx, scope)
	if err != nil {
		m.logger.ErrorContext(ctx, "Synchronization job failed", "job_id", id, "scope", scope.String(), "error", err)
		if markErr := m.registry.MarkError(id, result, err.Error()); markErr != nil {
			m.logger.ErrorContext(ctx, "Failed to record job failure", "job_id", id, "error", markErr)
		}
		return result, err
	}

	m.logger.InfoContext(ctx, "Synchronization job finished",
		"job_id", id,
		"scope", scope.String(),
		"inserted", result.Inserted,
		"updated", result.Updated,
		"deleted_marked", result.DeletedMarked,
		"scanned", result.Scanned)

	if markErr := m.registry.MarkDone(id, result); markErr != nil {
		m.logger.ErrorContext(ctx, "Failed to record job completion", "job_id", id, "error", markErr)
	}
	return result, nil
}

func (m *Manager) rebuildExports(ctx context.Context) {
	if m.exports == nil {
		return
	}
	if err := m.exports.Rebuild(ctx); err != nil {
		m.logger.ErrorContext(ctx, "Failed to rebuild export artifacts", "error", err)
	}
}

func (m *Manager) notifyFinished(ctx context.Context, id string) {
	m.mu.Lock()
	notifier := m.notifier
	m.mu.Unlock()
	if notifier == nil {
		return
	}
	job, ok := m.registry.Get(id)
	if !ok || (job.Status != StatusDone && job.Status != StatusError) {
		return
	}
	notifier.JobFinished(ctx, job)
}

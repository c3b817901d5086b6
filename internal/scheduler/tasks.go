package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/tgmirror/tgmirror/internal/database"
	"github.com/tgmirror/tgmirror/internal/jobs"
)

// ScheduledTaskFunc defines the standard signature for all scheduled
// tasks. The context provided by the scheduler should be respected for
// cancellation.
type ScheduledTaskFunc func(ctx context.Context) error

// TaskDeps contains all dependencies required by scheduled tasks.
type TaskDeps struct {
	Logger  *slog.Logger
	Store   database.Store
	Manager *jobs.Manager
	Scopes  []database.Scope
}

// RegisterAllTasks initializes and returns a map of all registered
// scheduled tasks. The map keys match the task names used in the
// scheduler configuration.
func RegisterAllTasks(deps TaskDeps) map[string]ScheduledTaskFunc {
	tasks := make(map[string]ScheduledTaskFunc)

	tasks["sync"] = newSyncTask(deps)
	tasks["sql_maintenance"] = newSQLMaintenanceTask(deps)

	deps.Logger.Info("Initialized scheduled tasks", "count", len(tasks))
	return tasks
}

// newSyncTask creates the periodic synchronization task. It runs one job
// per configured scope through the job manager, which also takes care of
// rebuilding export artifacts when anything changed.
func newSyncTask(deps TaskDeps) ScheduledTaskFunc {
	log := deps.Logger.With("task", "sync")

	return func(ctx context.Context) error {
		if len(deps.Scopes) == 0 {
			log.WarnContext(ctx, "No scopes configured, skipping synchronization")
			return nil
		}

		tracker, err := deps.Manager.RunAll(ctx, deps.Scopes)
		inserted, updated, deletedMarked := tracker.Totals()
		log.InfoContext(ctx, "Synchronization cycle finished",
			"scopes", len(deps.Scopes),
			"inserted", inserted,
			"updated", updated,
			"deleted_marked", deletedMarked)

		if err != nil {
			return fmt.Errorf("synchronization cycle failed: %w", err)
		}
		return nil
	}
}

// newSQLMaintenanceTask creates the scheduled task for running database
// maintenance.
func newSQLMaintenanceTask(deps TaskDeps) ScheduledTaskFunc {
	log := deps.Logger.With("task", "sql_maintenance")

	return func(ctx context.Context) error {
		log.InfoContext(ctx, "Starting scheduled SQL maintenance task...")
		startTime := time.Now()

		err := deps.Store.RunSQLMaintenance(ctx)
		duration := time.Since(startTime)

		if err != nil {
			log.ErrorContext(ctx, "SQL maintenance task failed", "error", err, "duration", duration)
			return fmt.Errorf("sql maintenance failed: %w", err)
		}

		log.InfoContext(ctx, "Scheduled SQL maintenance task completed successfully", "duration", duration)
		return nil
	}
}

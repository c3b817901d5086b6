// Package main contains the entrypoint for the timeline mirror service.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/tgmirror/tgmirror/internal/app"
	"github.com/tgmirror/tgmirror/internal/config"
	"github.com/tgmirror/tgmirror/internal/database"
	"github.com/tgmirror/tgmirror/internal/export"
	"github.com/tgmirror/tgmirror/internal/logger"

	_ "modernc.org/sqlite"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	exitCode := run(ctx)
	stop()
	os.Exit(exitCode)
}

// run initializes all application components and dispatches to the chosen
// mode: serve (default, long-running), sync (one reconciliation cycle), or
// export (rebuild artifacts). Returns the process exit code.
func run(ctx context.Context) int {
	configPath := flag.String("config", "./config.yaml", "Path to configuration file")
	flag.Parse()

	mode := flag.Arg(0)
	if mode == "" {
		mode = "serve"
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		slog.Error("Failed to load configuration", "path", *configPath, "error", err)
		return 1
	}

	log := logger.NewLogger(cfg.Log.Level, cfg.Log.JSON)
	slog.SetDefault(log)
	log.Info("Logger initialized", "level", cfg.Log.Level, "json", cfg.Log.JSON)

	db, err := database.NewDB(cfg.Database.Path)
	if err != nil {
		log.Error("Failed to open database", "path", cfg.Database.Path, "error", err)
		return 1
	}
	defer database.CloseDB(db)
	store := database.NewStore(db, log)

	application, err := app.New(cfg, log, db, store, nil)
	if err != nil {
		log.Error("Failed to assemble application", "error", err)
		return 1
	}

	switch mode {
	case "serve":
		return runServe(ctx, log, application)
	case "sync":
		return runSyncOnce(ctx, log, cfg, application)
	case "export":
		return runExportOnce(ctx, log, cfg, store)
	default:
		fmt.Fprintf(os.Stderr, "unknown mode %q (expected serve, sync, or export)\n", mode)
		return 2
	}
}

func runServe(ctx context.Context, log *slog.Logger, application *app.App) int {
	runErr := application.Run(ctx)
	log.Info("Run loop finished. Initiating shutdown...")

	if runErr != nil && !errors.Is(runErr, context.Canceled) {
		log.Error("Application stopped due to error", "error", runErr)
		time.Sleep(time.Second)
		return 1
	}

	log.Info("Application stopped gracefully.")
	time.Sleep(time.Second)
	return 0
}

// runSyncOnce runs one synchronization cycle over all configured scopes,
// rebuilding export artifacts if anything changed, then exits.
func runSyncOnce(ctx context.Context, log *slog.Logger, cfg *config.Config, application *app.App) int {
	scopes := app.Scopes(cfg.Sync.Scopes)
	if len(scopes) == 0 {
		log.Error("No scopes configured, nothing to synchronize")
		return 1
	}

	tracker, err := application.Manager().RunAll(ctx, scopes)
	inserted, updated, deletedMarked := tracker.Totals()
	log.Info("Synchronization cycle finished",
		"scopes", len(scopes),
		"inserted", inserted,
		"updated", updated,
		"deleted_marked", deletedMarked)

	if err != nil {
		log.Error("Synchronization failed", "error", err)
		return 1
	}
	return 0
}

// runExportOnce rebuilds the configured export artifacts from the current
// store contents, without contacting the remote source.
func runExportOnce(ctx context.Context, log *slog.Logger, cfg *config.Config, store database.Store) int {
	renderer := export.NewRenderer(store, log)

	if cfg.Export.CSVPath != "" {
		opts := export.Options{
			IncludeDeleted: cfg.Export.IncludeDeleted,
			IncludeService: cfg.Export.IncludeService,
		}
		if err := renderer.WriteCSVFile(ctx, nil, opts, cfg.Export.CSVPath); err != nil {
			log.Error("Failed to write CSV export", "path", cfg.Export.CSVPath, "error", err)
			return 1
		}
	}

	if cfg.Export.JSONLPath != "" {
		opts := export.Options{
			MinChars:        cfg.Export.MinChars,
			SkipHashtagOnly: cfg.Export.SkipHashtagOnly,
			IncludeDeleted:  cfg.Export.IncludeDeleted,
			IncludeService:  cfg.Export.IncludeService,
			Dedupe:          cfg.Export.Dedupe,
			DedupeKey:       export.DedupeKey(cfg.Export.DedupeKey),
		}
		if err := renderer.WriteJSONLFile(ctx, nil, opts, cfg.Export.JSONLPath); err != nil {
			log.Error("Failed to write JSONL export", "path", cfg.Export.JSONLPath, "error", err)
			return 1
		}
	}

	log.Info("Export artifacts rebuilt")
	return 0
}

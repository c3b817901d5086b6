// Package app wires the application components together and manages their
// lifecycle: synchronization engine, job manager, HTTP server, admin bot,
// and scheduler.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	tgbot "github.com/go-telegram/bot"
	"github.com/jmoiron/sqlx"
	"golang.org/x/sync/errgroup"

	"github.com/tgmirror/tgmirror/internal/bot"
	"github.com/tgmirror/tgmirror/internal/config"
	"github.com/tgmirror/tgmirror/internal/database"
	"github.com/tgmirror/tgmirror/internal/export"
	"github.com/tgmirror/tgmirror/internal/jobs"
	logging "github.com/tgmirror/tgmirror/internal/logger"
	"github.com/tgmirror/tgmirror/internal/scheduler"
	"github.com/tgmirror/tgmirror/internal/server"
	syncengine "github.com/tgmirror/tgmirror/internal/sync"
	"github.com/tgmirror/tgmirror/internal/telegram"
)

// App holds the assembled components. Optional front-ends (HTTP server,
// admin bot) are nil when disabled in the configuration.
type App struct {
	logger  *slog.Logger
	cfg     *config.Config
	db      *sqlx.DB
	store   database.Store
	manager *jobs.Manager
	sched   *scheduler.Scheduler

	httpServer *server.Server
	tgBot      *tgbot.Bot
}

// Scopes converts the configured scope list into normalized scopes.
// Topic ids below 1 collapse to the whole-chat scope.
func Scopes(cfgs []config.ScopeConfig) []database.Scope {
	scopes := make([]database.Scope, 0, len(cfgs))
	for _, c := range cfgs {
		topic := c.TopicID
		if topic < 1 {
			topic = database.NoTopic
		}
		scopes = append(scopes, database.Scope{ChatID: c.ChatID, TopicID: topic})
	}
	return scopes
}

// New assembles the application from configuration. fetcher may be nil, in
// which case the Telegram Desktop export adapter is used.
func New(cfg *config.Config, logger *slog.Logger, db *sqlx.DB, store database.Store, fetcher telegram.Fetcher) (*App, error) {
	if logger == nil {
		logger = slog.Default()
	}

	if fetcher == nil {
		fetcher = telegram.NewExportFetcher(cfg.Source.ExportDir, logger)
	}

	scopes := Scopes(cfg.Sync.Scopes)

	reconciler, err := syncengine.NewReconciler(store, fetcher, logger, syncengine.Options{
		NewWindowDays:    cfg.Sync.NewWindowDays,
		EditLookbackDays: cfg.Sync.EditLookbackDays,
		BatchSize:        cfg.Sync.BatchSize,
	}, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create reconciler: %w", err)
	}

	renderer := export.NewRenderer(store, logger)
	fileSet := export.NewFileSet(renderer,
		cfg.Export.CSVPath, csvOptions(cfg.Export),
		cfg.Export.JSONLPath, jsonlOptions(cfg.Export))

	manager := jobs.NewManager(jobs.NewRegistry(), reconciler, fileSet, logger)

	app := &App{
		logger:  logger.With("component", "app"),
		cfg:     cfg,
		db:      db,
		store:   store,
		manager: manager,
	}

	if cfg.Server.Enabled {
		app.httpServer = server.New(cfg.Server.Addr, cfg.Server.ShutdownTimeout, manager, store, scopes, logger)
	}

	if cfg.Telegram.Enabled {
		hDeps := bot.HandlerDeps{
			Logger:  logger,
			Manager: manager,
			Store:   store,
			Scopes:  scopes,
			AdminID: cfg.Telegram.AdminID,
		}
		tg, err := bot.NewTelegramBot(cfg.Telegram.Token, logger,
			tgbot.WithMiddlewares(logging.Middleware(logger)))
		if err != nil {
			return nil, fmt.Errorf("failed to create telegram bot: %w", err)
		}
		if err := bot.RegisterHandlers(tg, logger, bot.RegisterAllCommands(hDeps)); err != nil {
			return nil, fmt.Errorf("failed to register telegram handlers: %w", err)
		}
		manager.SetNotifier(bot.NewNotifier(tg, cfg.Telegram.AdminID, true, logger))
		app.tgBot = tg
	}

	tDeps := scheduler.TaskDeps{
		Logger:  logger,
		Store:   store,
		Manager: manager,
		Scopes:  scopes,
	}
	sched, err := scheduler.New(logger, &cfg.Scheduler, scheduler.RegisterAllTasks(tDeps))
	if err != nil {
		return nil, fmt.Errorf("failed to create scheduler: %w", err)
	}
	app.sched = sched

	return app, nil
}

// Manager exposes the job manager, used by the one-shot CLI modes.
func (a *App) Manager() *jobs.Manager {
	return a.manager
}

// Run starts all components and blocks until ctx is cancelled or a
// component fails.
func (a *App) Run(ctx context.Context) error {
	a.logger.Info("Starting application...")

	g, gCtx := errgroup.WithContext(ctx)
	a.manager.SetBaseContext(gCtx)

	if a.httpServer != nil {
		g.Go(func() error {
			return a.httpServer.Run(gCtx)
		})
	}

	if a.tgBot != nil {
		g.Go(func() error {
			a.logger.Info("Starting Telegram bot listener...")
			a.tgBot.Start(gCtx)
			a.logger.Info("Telegram bot listener stopped.")

			if gCtx.Err() == nil {
				return fmt.Errorf("telegram listener stopped unexpectedly")
			}
			return nil
		})
	}

	g.Go(func() error {
		if err := a.sched.Start(); err != nil {
			return fmt.Errorf("failed to start scheduler: %w", err)
		}

		<-gCtx.Done()
		a.logger.Info("Shutdown signal received, stopping scheduler...")

		if err := a.sched.Stop(); err != nil {
			a.logger.Error("Error stopping scheduler", "error", err)
		}
		return nil
	})

	a.logger.Info("Application running. Waiting for shutdown signal or error...")
	err := g.Wait()

	if err != nil && !errors.Is(err, context.Canceled) {
		a.logger.Error("Application stopped due to error", "error", err)
		return err
	}

	a.logger.Info("Application stopped gracefully.")
	return nil
}

func csvOptions(cfg config.ExportConfig) export.Options {
	return export.Options{
		IncludeDeleted: cfg.IncludeDeleted,
		IncludeService: cfg.IncludeService,
	}
}

func jsonlOptions(cfg config.ExportConfig) export.Options {
	return export.Options{
		MinChars:        cfg.MinChars,
		SkipHashtagOnly: cfg.SkipHashtagOnly,
		IncludeDeleted:  cfg.IncludeDeleted,
		IncludeService:  cfg.IncludeService,
		Dedupe:          cfg.Dedupe,
		DedupeKey:       export.DedupeKey(cfg.DedupeKey),
	}
}

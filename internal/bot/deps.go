package bot

import (
	"log/slog"

	"github.com/tgmirror/tgmirror/internal/database"
	"github.com/tgmirror/tgmirror/internal/jobs"
)

// HandlerDeps provides dependencies for Telegram command handlers.
type HandlerDeps struct {
	Logger  *slog.Logger
	Manager *jobs.Manager
	Store   database.Store
	Scopes  []database.Scope
	AdminID int64
}

package bot

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	tgbot "github.com/go-telegram/bot"

	"github.com/tgmirror/tgmirror/internal/jobs"
)

// Notifier sends run reports for finished jobs to the admin user. It
// implements jobs.Notifier.
type Notifier struct {
	bot     *tgbot.Bot
	adminID int64
	logger  *slog.Logger

	// onlyChanges suppresses reports for runs that changed nothing, so a
	// quiet hourly schedule does not flood the admin.
	onlyChanges bool
}

// NewNotifier creates a run-report notifier targeting the admin user.
func NewNotifier(b *tgbot.Bot, adminID int64, onlyChanges bool, logger *slog.Logger) *Notifier {
	if logger == nil {
		logger = slog.Default()
	}
	return &Notifier{
		bot:         b,
		adminID:     adminID,
		logger:      logger.With("component", "notifier"),
		onlyChanges: onlyChanges,
	}
}

// JobFinished reports a finished job to the admin user.
func (n *Notifier) JobFinished(ctx context.Context, job jobs.Job) {
	if job.Status == jobs.StatusDone && n.onlyChanges {
		if job.Result == nil || !job.Result.HasChanges() {
			return
		}
	}

	var sb strings.Builder
	switch job.Status {
	case jobs.StatusDone:
		fmt.Fprintf(&sb, "Sync finished for %s\n", scopeLabel(job.Scope))
		if job.Result != nil {
			fmt.Fprintf(&sb, "inserted %d, updated %d, deleted %d, scanned %d\n",
				job.Result.Inserted, job.Result.Updated, job.Result.DeletedMarked, job.Result.Scanned)
			if len(job.Result.Anomalies) > 0 {
				fmt.Fprintf(&sb, "anomalies: %d\n", len(job.Result.Anomalies))
			}
		}
	case jobs.StatusError:
		fmt.Fprintf(&sb, "Sync failed for %s\n%s\n", scopeLabel(job.Scope), job.Error)
	default:
		return
	}

	_, err := n.bot.SendMessage(ctx, &tgbot.SendMessageParams{ChatID: n.adminID, Text: sb.String()})
	if err != nil {
		n.logger.ErrorContext(ctx, "Failed to send run report", "error", err, "job_id", job.ID)
	}
}

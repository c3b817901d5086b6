package bot

import (
	"context"
	"fmt"
	"strings"

	tgbot "github.com/go-telegram/bot"
	"github.com/go-telegram/bot/models"

	"github.com/tgmirror/tgmirror/internal/jobs"
)

// NewStatusHandler returns a handler for the /status command. With an
// argument it reports one job by id, otherwise it lists recent jobs.
func NewStatusHandler(deps HandlerDeps) tgbot.HandlerFunc {
	return statusHandler{deps}.Handle
}

type statusHandler struct {
	deps HandlerDeps
}

// maxListedJobs caps the /status listing so replies stay readable.
const maxListedJobs = 10

func (h statusHandler) Handle(ctx context.Context, b *tgbot.Bot, update *models.Update) {
	log := h.deps.Logger.With("handler", "status")

	if update.Message == nil || update.Message.From == nil {
		log.WarnContext(ctx, "Status handler received update with nil message or sender", "update_id", update.ID)
		return
	}
	chatID := update.Message.Chat.ID

	args := strings.Fields(update.Message.Text)
	var text string
	if len(args) > 1 {
		job, ok := h.deps.Manager.Registry().Get(args[1])
		if !ok {
			text = fmt.Sprintf("No job with id %s.", args[1])
		} else {
			text = formatJob(job)
		}
	} else {
		listed := h.deps.Manager.Registry().List()
		if len(listed) == 0 {
			text = "No jobs recorded yet."
		} else {
			if len(listed) > maxListedJobs {
				listed = listed[:maxListedJobs]
			}
			var sb strings.Builder
			for _, job := range listed {
				sb.WriteString(formatJob(job))
				sb.WriteString("\n")
			}
			text = sb.String()
		}
	}

	_, err := b.SendMessage(ctx, &tgbot.SendMessageParams{ChatID: chatID, Text: text})
	if err != nil {
		log.ErrorContext(ctx, "Failed to send status reply", "error", err, "chat_id", chatID)
	}
}

// formatJob renders one job as a single-line summary.
func formatJob(job jobs.Job) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "%s [%s] %s", job.ID, job.Status, scopeLabel(job.Scope))
	if job.Result != nil {
		fmt.Fprintf(&sb, " +%d ~%d -%d (scanned %d)",
			job.Result.Inserted, job.Result.Updated, job.Result.DeletedMarked, job.Result.Scanned)
	}
	if job.Error != "" {
		fmt.Fprintf(&sb, " error: %s", job.Error)
	}
	return sb.String()
}

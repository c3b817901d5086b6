package bot

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	tgbot "github.com/go-telegram/bot"
	"github.com/go-telegram/bot/models"

	"github.com/tgmirror/tgmirror/internal/database"
)

// NewSyncHandler returns a handler for the /sync command. It enqueues a
// background job per configured scope and replies with the queued run ids.
func NewSyncHandler(deps HandlerDeps) tgbot.HandlerFunc {
	return syncHandler{deps}.Handle
}

type syncHandler struct {
	deps HandlerDeps
}

func (h syncHandler) Handle(ctx context.Context, b *tgbot.Bot, update *models.Update) {
	log := h.deps.Logger.With("handler", "sync")

	if update.Message == nil || update.Message.From == nil {
		log.WarnContext(ctx, "Sync handler received update with nil message or sender", "update_id", update.ID)
		return
	}
	chatID := update.Message.Chat.ID

	if len(h.deps.Scopes) == 0 {
		h.reply(ctx, b, chatID, "No scopes are configured; nothing to synchronize.", log)
		return
	}

	log.InfoContext(ctx, "Handling /sync command", "chat_id", chatID, "scopes", len(h.deps.Scopes))

	var sb strings.Builder
	sb.WriteString("Synchronization queued:\n")
	for _, scope := range h.deps.Scopes {
		job := h.deps.Manager.Enqueue(scope)
		fmt.Fprintf(&sb, "%s: job %s\n", scope.String(), job.ID)
	}
	h.reply(ctx, b, chatID, sb.String(), log)
}

func (h syncHandler) reply(ctx context.Context, b *tgbot.Bot, chatID int64, text string, log *slog.Logger) {
	_, err := b.SendMessage(ctx, &tgbot.SendMessageParams{ChatID: chatID, Text: text})
	if err != nil {
		log.ErrorContext(ctx, "Failed to send sync reply", "error", err, "chat_id", chatID)
	}
}

// scopeLabel formats a scope for user-facing messages.
func scopeLabel(scope database.Scope) string {
	if scope.TopicID == database.NoTopic {
		return fmt.Sprintf("chat %d", scope.ChatID)
	}
	return fmt.Sprintf("chat %d topic %d", scope.ChatID, scope.TopicID)
}

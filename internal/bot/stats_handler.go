package bot

import (
	"context"
	"fmt"
	"strings"
	"time"

	tgbot "github.com/go-telegram/bot"
	"github.com/go-telegram/bot/models"
)

// NewStatsHandler returns a handler for the /stats command, reporting
// message counts and timeline bounds from the store.
func NewStatsHandler(deps HandlerDeps) tgbot.HandlerFunc {
	return statsHandler{deps}.Handle
}

type statsHandler struct {
	deps HandlerDeps
}

func (h statsHandler) Handle(ctx context.Context, b *tgbot.Bot, update *models.Update) {
	log := h.deps.Logger.With("handler", "stats")

	if update.Message == nil || update.Message.From == nil {
		log.WarnContext(ctx, "Stats handler received update with nil message or sender", "update_id", update.ID)
		return
	}
	chatID := update.Message.Chat.ID

	stats, err := h.deps.Store.Stats(ctx)
	if err != nil {
		log.ErrorContext(ctx, "Failed to read store statistics", "error", err)
		_, sendErr := b.SendMessage(ctx, &tgbot.SendMessageParams{ChatID: chatID, Text: "Failed to read statistics."})
		if sendErr != nil {
			log.ErrorContext(ctx, "Failed to send stats error reply", "error", sendErr, "chat_id", chatID)
		}
		return
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "Messages: %d (%d deleted, %d service)\n", stats.TotalMessages, stats.DeletedMessages, stats.ServiceMessages)
	fmt.Fprintf(&sb, "Scopes: %d\n", stats.Scopes)
	if stats.EarliestDate.Valid && stats.LatestDate.Valid {
		fmt.Fprintf(&sb, "Timeline: %s to %s\n",
			stats.EarliestDate.Time.UTC().Format(time.RFC3339),
			stats.LatestDate.Time.UTC().Format(time.RFC3339))
	}

	_, err = b.SendMessage(ctx, &tgbot.SendMessageParams{ChatID: chatID, Text: sb.String()})
	if err != nil {
		log.ErrorContext(ctx, "Failed to send stats reply", "error", err, "chat_id", chatID)
	}
}

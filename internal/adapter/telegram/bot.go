package telegram

import (
	"context"
	"log/slog"

	"github.com/go-telegram/bot"
	"github.com/go-telegram/bot/models"
)

// NewBot creates a bot client routing every update to h. GetMe is skipped
// so a worker can start while Telegram is unreachable.
func NewBot(token string, h HandlerFunc, logger *slog.Logger) (*bot.Bot, error) {
	if logger == nil {
		logger = slog.Default()
	}
	log := logger.With("component", "telegram")
	return bot.New(token,
		bot.WithSkipGetMe(),
		bot.WithAllowedUpdates([]string{"message"}),
		bot.WithDefaultHandler(func(ctx context.Context, b *bot.Bot, upd *models.Update) {
			if h != nil {
				h(ctx, b, upd)
			}
		}),
		bot.WithErrorsHandler(func(err error) {
			log.Warn("telegram error", slog.Any("error", err))
		}),
	)
}

// Run long-polls updates until ctx is done.
func Run(ctx context.Context, b *bot.Bot) error {
	b.Start(ctx)
	return nil
}

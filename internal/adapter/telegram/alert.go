// Package telegram delivers terminal job failures to an operator chat and
// answers a few admin commands about retry state.
package telegram

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/go-telegram/bot"
	"github.com/go-telegram/bot/models"
	"golang.org/x/time/rate"

	"jobretry/internal/failure"
	"jobretry/internal/shared"
)

// maxErrorLen keeps alerts well under the Telegram message limit.
const maxErrorLen = 1500

// Sender is the part of *bot.Bot the adapter uses.
type Sender interface {
	SendMessage(ctx context.Context, params *bot.SendMessageParams) (*models.Message, error)
}

// Alerter reports terminal failures to a chat. Alerts above the per-minute
// budget are dropped and counted; the count rides on the next alert that
// goes through.
type Alerter struct {
	sender  Sender
	chatID  int64
	limiter *rate.Limiter
	logger  *slog.Logger

	mu         sync.Mutex
	suppressed int
}

var _ failure.Reporter = (*Alerter)(nil)

// NewAlerter creates an alerter sending at most perMinute messages a minute.
func NewAlerter(sender Sender, chatID int64, perMinute int, logger *slog.Logger) *Alerter {
	if perMinute <= 0 {
		perMinute = 20
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Alerter{
		sender:  sender,
		chatID:  chatID,
		limiter: rate.NewLimiter(rate.Every(time.Minute/time.Duration(perMinute)), perMinute),
		logger:  logger.With("component", "telegram-alert"),
	}
}

// Report implements failure.Reporter.
func (a *Alerter) Report(ctx context.Context, r failure.Record) error {
	a.mu.Lock()
	if !a.limiter.Allow() {
		a.suppressed++
		a.mu.Unlock()
		a.logger.Debug("alert suppressed", slog.String("payload_id", r.PayloadID))
		return nil
	}
	suppressed := a.suppressed
	a.suppressed = 0
	a.mu.Unlock()

	_, err := a.sender.SendMessage(ctx, &bot.SendMessageParams{
		ChatID: a.chatID,
		Text:   FormatAlert(r, suppressed),
	})
	if err != nil {
		a.mu.Lock()
		a.suppressed += suppressed
		a.mu.Unlock()
		return shared.Wrap(shared.MarkKind(err, shared.KindDependencyFailure), "send telegram alert")
	}
	return nil
}

// FormatAlert renders a failure record as plain text.
func FormatAlert(r failure.Record, suppressed int) string {
	var b strings.Builder
	fmt.Fprintf(&b, "job failed: %s\n", r.Class)
	fmt.Fprintf(&b, "queue: %s\n", r.Queue)
	fmt.Fprintf(&b, "payload: %s\n", r.PayloadID)
	fmt.Fprintf(&b, "attempt: %d\n", r.Attempt)
	if !r.FailedAt.IsZero() {
		fmt.Fprintf(&b, "at: %s\n", r.FailedAt.UTC().Format(time.RFC3339))
	}
	fmt.Fprintf(&b, "error: %s", truncate(r.Error, maxErrorLen))
	if suppressed > 0 {
		fmt.Fprintf(&b, "\n(%d more suppressed)", suppressed)
	}
	return b.String()
}

// truncate cuts s to at most n bytes on a rune boundary and marks the cut.
// Telegram rejects text that is not valid UTF-8.
func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n] + "…"
}

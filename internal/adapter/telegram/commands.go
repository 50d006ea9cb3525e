package telegram

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/go-telegram/bot"
	"github.com/go-telegram/bot/models"

	"jobretry/internal/failure"
	"jobretry/internal/retry"
	"jobretry/internal/schedule"
)

// HandlerFunc processes a single update.
type HandlerFunc func(ctx context.Context, s Sender, upd *models.Update)

// Commands answers admin commands:
//
//	/ping
//	/failures [n]
//	/attempt <queue> <class> <payload_id>
//	/pending
type Commands struct {
	failures failure.Store
	attempts *retry.AttemptStore
	delayed  schedule.Store
}

// NewCommands creates the command handler.
func NewCommands(failures failure.Store, attempts *retry.AttemptStore, delayed schedule.Store) *Commands {
	return &Commands{failures: failures, attempts: attempts, delayed: delayed}
}

// Handle implements HandlerFunc.
func (c *Commands) Handle(ctx context.Context, s Sender, upd *models.Update) {
	msg := upd.Message
	if msg == nil || !strings.HasPrefix(msg.Text, "/") {
		return
	}
	reply := c.Reply(ctx, msg.Text)
	if reply == "" {
		return
	}
	_, _ = s.SendMessage(ctx, &bot.SendMessageParams{ChatID: msg.Chat.ID, Text: reply})
}

// Reply returns the answer to a command line, or "" for unknown commands.
func (c *Commands) Reply(ctx context.Context, text string) string {
	fields := strings.Fields(text)
	if len(fields) == 0 {
		return ""
	}
	// "/cmd@botname" is how group chats address a bot.
	cmd, _, _ := strings.Cut(fields[0], "@")
	args := fields[1:]

	switch cmd {
	case "/ping":
		return "pong"
	case "/failures":
		return c.listFailures(ctx, args)
	case "/attempt":
		return c.attempt(ctx, args)
	case "/pending":
		n, err := c.delayed.Pending(ctx)
		if err != nil {
			return "error: " + err.Error()
		}
		return fmt.Sprintf("%d delayed retries pending", n)
	default:
		return ""
	}
}

func (c *Commands) listFailures(ctx context.Context, args []string) string {
	limit := 5
	if len(args) > 0 {
		n, err := strconv.Atoi(args[0])
		if err != nil || n <= 0 || n > 50 {
			return "usage: /failures [1-50]"
		}
		limit = n
	}
	recs, err := c.failures.List(ctx, limit)
	if err != nil {
		return "error: " + err.Error()
	}
	if len(recs) == 0 {
		return "no failures"
	}
	var b strings.Builder
	for i, r := range recs {
		if i > 0 {
			b.WriteString("\n")
		}
		fmt.Fprintf(&b, "%s %s/%s attempt %d: %s", r.FailedAt.UTC().Format("01-02 15:04"), r.Class, r.PayloadID, r.Attempt, truncate(r.Error, 200))
	}
	return b.String()
}

func (c *Commands) attempt(ctx context.Context, args []string) string {
	if len(args) != 3 {
		return "usage: /attempt <queue> <class> <payload_id>"
	}
	n, ok, err := c.attempts.Read(ctx, retry.Key(args[0], args[1], args[2]))
	if err != nil {
		return "error: " + err.Error()
	}
	if !ok {
		return "no attempts recorded"
	}
	return fmt.Sprintf("attempt %d", n)
}

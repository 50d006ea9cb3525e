package telegram

import (
	"context"
	"strconv"
	"strings"

	"github.com/go-telegram/bot"
	"github.com/go-telegram/bot/models"
)

// Middleware wraps a HandlerFunc.
type Middleware func(HandlerFunc) HandlerFunc

// Chain applies middlewares in order: the first one runs first.
func Chain(h HandlerFunc, mws ...Middleware) HandlerFunc {
	for i := len(mws) - 1; i >= 0; i-- {
		h = mws[i](h)
	}
	return h
}

// ACL проверяет доступ по списку разрешённых Telegram user IDs.
type ACL struct{ allowed map[int64]struct{} }

// NewACL создаёт ACL по списку ID.
func NewACL(ids []int64) *ACL {
	m := make(map[int64]struct{}, len(ids))
	for _, id := range ids {
		m[id] = struct{}{}
	}
	return &ACL{allowed: m}
}

// IsAllowed сообщает, имеет ли пользователь доступ.
func (a *ACL) IsAllowed(id int64) bool { _, ok := a.allowed[id]; return ok }

// Middleware отвечает отказом всем, кого нет в списке. Обновления без
// отправителя отбрасываются: админ-команды без автора не выполняются.
func (a *ACL) Middleware(next HandlerFunc) HandlerFunc {
	return func(ctx context.Context, s Sender, upd *models.Update) {
		msg := upd.Message
		if msg == nil || msg.From == nil {
			return
		}
		if a.IsAllowed(msg.From.ID) {
			next(ctx, s, upd)
			return
		}
		_, _ = s.SendMessage(ctx, &bot.SendMessageParams{ChatID: msg.Chat.ID, Text: "access denied"})
	}
}

// ParseAllowedIDs парсит список ID (разделители: запятая, пробелы, переносы).
// Некорректные элементы пропускаются.
func ParseAllowedIDs(s string) []int64 {
	parts := strings.FieldsFunc(s, func(r rune) bool {
		return r == ',' || r == ' ' || r == '\n' || r == '\t'
	})
	out := make([]int64, 0, len(parts))
	for _, p := range parts {
		n, err := strconv.ParseInt(p, 10, 64)
		if err != nil {
			continue
		}
		out = append(out, n)
	}
	return out
}

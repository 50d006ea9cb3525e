package telegram_test

import (
	"context"
	"testing"
	"time"

	"github.com/go-telegram/bot/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"jobretry/internal/adapter/telegram"
	"jobretry/internal/job"
	"jobretry/internal/retry"
	"jobretry/internal/schedule"
	"jobretry/internal/store/memory"
)

func newCommands(t *testing.T) (*telegram.Commands, *memory.Store) {
	t.Helper()
	st := memory.New()
	return telegram.NewCommands(st, retry.NewAttemptStore(st), st), st
}

func TestCommands_Reply(t *testing.T) {
	ctx := context.Background()
	c, st := newCommands(t)

	assert.Equal(t, "pong", c.Reply(ctx, "/ping"))
	assert.Equal(t, "pong", c.Reply(ctx, "/ping@jobretry_bot"))
	assert.Equal(t, "", c.Reply(ctx, "/unknown"))
	assert.Equal(t, "no failures", c.Reply(ctx, "/failures"))
	assert.Equal(t, "usage: /failures [1-50]", c.Reply(ctx, "/failures many"))

	require.NoError(t, st.Report(ctx, record("p1")))
	require.NoError(t, st.Report(ctx, record("p2")))
	assert.Contains(t, c.Reply(ctx, "/failures 1"), "Mail/p")

	assert.Equal(t, "no attempts recorded", c.Reply(ctx, "/attempt default Mail p1"))
	attempts := retry.NewAttemptStore(st)
	_, err := attempts.Record(ctx, retry.Key("default", "Mail", "p1"))
	require.NoError(t, err)
	_, err = attempts.Record(ctx, retry.Key("default", "Mail", "p1"))
	require.NoError(t, err)
	assert.Equal(t, "attempt 1", c.Reply(ctx, "/attempt default Mail p1"))
	assert.Contains(t, c.Reply(ctx, "/attempt default"), "usage")

	require.NoError(t, st.Add(ctx, schedule.Entry{ID: "e1", RunAt: time.Now(), Envelope: job.Envelope{Class: "Mail"}}))
	assert.Equal(t, "1 delayed retries pending", c.Reply(ctx, "/pending"))
}

func message(from int64, text string) *models.Update {
	return &models.Update{Message: &models.Message{
		Text: text,
		Chat: models.Chat{ID: 7},
		From: &models.User{ID: from},
	}}
}

func TestACL_Middleware(t *testing.T) {
	ctx := context.Background()
	c, _ := newCommands(t)
	acl := telegram.NewACL([]int64{100})
	h := telegram.Chain(c.Handle, acl.Middleware)

	s := &fakeSender{}
	h(ctx, s, message(100, "/ping"))
	h(ctx, s, message(200, "/ping"))
	h(ctx, s, &models.Update{Message: &models.Message{Text: "/ping", Chat: models.Chat{ID: 7}}})
	h(ctx, s, &models.Update{})

	assert.Equal(t, []string{"pong", "access denied"}, s.texts())
	assert.Equal(t, int64(7), s.sent[0].ChatID)
}

func TestChain_Order(t *testing.T) {
	var order []string
	mw := func(name string) telegram.Middleware {
		return func(next telegram.HandlerFunc) telegram.HandlerFunc {
			return func(ctx context.Context, s telegram.Sender, u *models.Update) {
				order = append(order, name)
				next(ctx, s, u)
			}
		}
	}
	h := telegram.Chain(func(context.Context, telegram.Sender, *models.Update) { order = append(order, "h") }, mw("a"), mw("b"))
	h(context.Background(), &fakeSender{}, &models.Update{})
	assert.Equal(t, []string{"a", "b", "h"}, order)
}

func TestParseAllowedIDs(t *testing.T) {
	assert.Equal(t, []int64{1, 2, 3}, telegram.ParseAllowedIDs("1, 2\n3"))
	assert.Equal(t, []int64{5}, telegram.ParseAllowedIDs("x,5,"))
	assert.Empty(t, telegram.ParseAllowedIDs(""))
}

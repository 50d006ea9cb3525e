package job_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"jobretry/internal/job"
	"jobretry/internal/shared"
)

type mailJob struct{ sent *int }

func (j mailJob) Perform(context.Context, []any) error {
	*j.sent++
	return nil
}

func (mailJob) Plugins() []string { return []string{"ExponentialRetry"} }

type bareJob struct{}

func (bareJob) Perform(context.Context, []any) error { return nil }

func TestRegistry(t *testing.T) {
	sent := 0
	r := job.NewRegistry()
	r.Register("Mail", func() job.Job { return mailJob{sent: &sent} })
	r.Register("Bare", func() job.Job { return bareJob{} })

	assert.True(t, r.Has("Mail"))
	assert.False(t, r.Has("Nope"))
	assert.Equal(t, []string{"Bare", "Mail"}, r.Classes())

	assert.Equal(t, []string{"ExponentialRetry"}, r.PluginsOf("Mail"))
	assert.Nil(t, r.PluginsOf("Bare"))
	assert.Nil(t, r.PluginsOf("Nope"))

	_, err := r.New("Nope")
	require.Error(t, err)
	assert.Equal(t, shared.KindMisconfigured, shared.KindOf(err))
}

func TestRegistry_Occurrence(t *testing.T) {
	sent := 0
	r := job.NewRegistry()
	r.Register("Mail", func() job.Job { return mailJob{sent: &sent} })

	env := job.Envelope{Queue: "mail", Class: "Mail", Args: []any{"a@b.c"}, PayloadID: "p1", TrackProgress: true}
	o, err := r.Occurrence(env)
	require.NoError(t, err)
	assert.Equal(t, env, o.Envelope())
	assert.False(t, o.AttemptRecorded)

	require.NoError(t, o.Instance.Perform(context.Background(), o.Args))
	assert.Equal(t, 1, sent)

	_, err = r.Occurrence(job.Envelope{Class: "Unknown"})
	assert.Error(t, err)
}

func TestOccurrence_ResetRetry(t *testing.T) {
	o := &job.Occurrence{AttemptNumber: 2, AttemptRecorded: true, IsRetrying: true, RetryDelaySeconds: 5}
	o.ResetRetry()
	assert.False(t, o.IsRetrying)
	assert.Zero(t, o.RetryDelaySeconds)
	assert.True(t, o.RetryAt.IsZero())
	assert.Equal(t, 2, o.AttemptNumber)
}

func TestOutcome_Merge(t *testing.T) {
	none := job.Outcome{}
	now := job.Outcome{Disposition: job.RetryNow, Attempt: 1}
	later := job.Outcome{Disposition: job.RetryLater, Attempt: 2}

	assert.Equal(t, now, none.Merge(now))
	assert.Equal(t, now, now.Merge(later))
	assert.Equal(t, later, later.Merge(none))
	assert.False(t, none.Merge(none).Handled())

	assert.Equal(t, "unhandled", job.Unhandled.String())
	assert.Equal(t, "retry_now", job.RetryNow.String())
	assert.Equal(t, "retry_later", job.RetryLater.String())
}

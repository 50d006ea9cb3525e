package jobs_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"jobretry/internal/event"
	"jobretry/internal/job"
	"jobretry/internal/jobs"
	"jobretry/internal/plugin"
	"jobretry/internal/retry"
	"jobretry/internal/schedule"
	"jobretry/internal/store/memory"
	"jobretry/internal/worker"
)

func TestRegister(t *testing.T) {
	r := job.NewRegistry()
	jobs.Register(r, nil)
	assert.ElementsMatch(t, []string{jobs.ClassLog, jobs.ClassFail, jobs.ClassFailInPlace}, r.Classes())
	assert.Equal(t, []string{"ExponentialRetry"}, r.PluginsOf(jobs.ClassFail))
	assert.Equal(t, []string{"Retry"}, r.PluginsOf(jobs.ClassFailInPlace))
}

func TestFail_Perform(t *testing.T) {
	ctx := context.Background()
	r := job.NewRegistry()
	jobs.Register(r, nil)

	run := func(args ...any) error {
		j, err := r.New(jobs.ClassFail)
		require.NoError(t, err)
		return j.Perform(ctx, args)
	}

	assert.ErrorIs(t, run(float64(2), "a"), jobs.ErrTransient)
	assert.ErrorIs(t, run(float64(2), "a"), jobs.ErrTransient)
	assert.NoError(t, run(float64(2), "a"))
	assert.ErrorIs(t, run(float64(2), "a"), jobs.ErrTransient, "counter restarts after success")

	assert.ErrorIs(t, run(1, "permanent"), jobs.ErrPermanent)
	assert.ErrorIs(t, run("x"), jobs.ErrPermanent)
	assert.ErrorIs(t, run(), jobs.ErrPermanent)
	assert.ErrorIs(t, run(-1), jobs.ErrPermanent)
	assert.NoError(t, run(0))
}

func TestFail_ResolvedConfig(t *testing.T) {
	r := job.NewRegistry()
	jobs.Register(r, nil)

	o, err := r.Occurrence(job.Envelope{Queue: "default", Class: jobs.ClassFail, PayloadID: "p"})
	require.NoError(t, err)
	cfg := retry.Resolve(o, retry.Staged{})
	assert.Equal(t, []int{1, 5, 15}, cfg.Strategy)
	assert.Equal(t, 3, cfg.Limit)
	assert.True(t, cfg.Retryable(jobs.ErrTransient))
	assert.False(t, cfg.Retryable(jobs.ErrPermanent))

	o, err = r.Occurrence(job.Envelope{Queue: "default", Class: jobs.ClassFailInPlace, PayloadID: "p"})
	require.NoError(t, err)
	cfg = retry.Resolve(o, retry.Fixed{})
	assert.Equal(t, 3, cfg.Limit)
	assert.Zero(t, cfg.Delay)
}

func TestFailInPlace_RecoversInOnePerform(t *testing.T) {
	ctx := context.Background()
	st := memory.New()
	classes := job.NewRegistry()
	jobs.Register(classes, nil)

	engine := retry.NewEngine(retry.NewAttemptStore(st), schedule.New(st), retry.Options{})
	plugins := plugin.NewRegistry(classes, nil)
	plugins.Register("Retry", func() any { return engine.Plugin(retry.Fixed{}) })
	plugins.Register("ExponentialRetry", func() any { return engine.Plugin(retry.Staged{}) })
	bus := event.NewBus()
	plugin.NewDispatcher(plugins).Attach(bus)
	w := worker.New(worker.Config{Bus: bus, Reporter: st, Now: time.Now})

	o, err := classes.Occurrence(job.Envelope{Queue: "default", Class: jobs.ClassFailInPlace, PayloadID: "p", Args: []any{float64(3), "x"}})
	require.NoError(t, err)
	require.NoError(t, w.Perform(ctx, o))

	recs, err := st.List(ctx, 10)
	require.NoError(t, err)
	assert.Empty(t, recs)
}

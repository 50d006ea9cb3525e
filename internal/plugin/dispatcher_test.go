package plugin_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"jobretry/internal/event"
	"jobretry/internal/job"
	"jobretry/internal/plugin"
)

type callLog struct {
	mu    sync.Mutex
	calls []string
}

func (l *callLog) add(s string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.calls = append(l.calls, s)
}

type recorder struct {
	name    string
	log     *callLog
	outcome job.Outcome
	err     error
}

func (r *recorder) record(hook string) {
	if r.log != nil {
		r.log.add(r.name + "." + hook)
	}
}

func (r *recorder) BeforePerform(context.Context, *job.Occurrence, job.Job) error {
	r.record("before")
	return r.err
}

func (r *recorder) AfterPerform(context.Context, *job.Occurrence, job.Job) error {
	r.record("after")
	return r.err
}

func (r *recorder) OnFailure(context.Context, error, *job.Occurrence, job.Job) (job.Outcome, error) {
	r.record("failure")
	return r.outcome, r.err
}

func setup(t *testing.T, plugins map[string]*recorder, order ...string) (*event.Bus, *job.Occurrence) {
	t.Helper()
	reg := plugin.NewRegistry(classes(t, map[string][]string{"Mail": order}), nil)
	for name, p := range plugins {
		p := p
		reg.Register(name, func() any { return p })
	}
	bus := event.NewBus()
	plugin.NewDispatcher(reg).Attach(bus)

	inst := declaredJob{plugins: order}
	return bus, &job.Occurrence{Queue: "q", Class: "Mail", PayloadID: "1", Instance: inst}
}

func TestDispatcher_Attach(t *testing.T) {
	bus, _ := setup(t, nil)
	assert.Equal(t, 1, bus.Listeners(event.BeforePerform))
	assert.Equal(t, 1, bus.Listeners(event.AfterPerform))
	assert.Equal(t, 1, bus.Listeners(event.OnFailure))
}

func TestDispatcher_CallsInDeclarationOrder(t *testing.T) {
	log := &callLog{}
	bus, o := setup(t, map[string]*recorder{
		"P1": {name: "P1", log: log},
		"P2": {name: "P2", log: log},
	}, "P2", "P1")

	ctx := context.Background()
	_, err := bus.Fire(ctx, event.BeforePerform, o)
	require.NoError(t, err)
	_, err = bus.Fire(ctx, event.AfterPerform, o)
	require.NoError(t, err)
	_, err = bus.Fire(ctx, event.OnFailure, event.Failure{Cause: errors.New("x"), Occurrence: o})
	require.NoError(t, err)

	assert.Equal(t, []string{
		"P2.before", "P1.before",
		"P2.after", "P1.after",
		"P2.failure", "P1.failure",
	}, log.calls)
}

// A handled outcome from any plugin keeps the failure away from reporting.
func TestDispatcher_FirstHandledOutcomeWins(t *testing.T) {
	at := time.Date(2025, 1, 1, 0, 0, 5, 0, time.UTC)
	bus, o := setup(t, map[string]*recorder{
		"Quiet": {name: "Quiet"},
		"Retry": {name: "Retry", outcome: job.Outcome{Disposition: job.RetryLater, RetryAt: at}},
		"Late":  {name: "Late", outcome: job.Outcome{Disposition: job.RetryNow}},
	}, "Quiet", "Retry", "Late")

	out, err := bus.Fire(context.Background(), event.OnFailure, &event.Failure{Cause: errors.New("x"), Occurrence: o})
	require.NoError(t, err)
	assert.Equal(t, job.RetryLater, out.Disposition)
	assert.Equal(t, at, out.RetryAt)
}

func TestDispatcher_NoHandlerLeavesFailureUnhandled(t *testing.T) {
	bus, o := setup(t, map[string]*recorder{"Quiet": {name: "Quiet"}}, "Quiet")
	out, err := bus.Fire(context.Background(), event.OnFailure, event.Failure{Cause: errors.New("x"), Occurrence: o})
	require.NoError(t, err)
	assert.False(t, out.Handled())
}

func TestDispatcher_PluginErrorStopsFanOut(t *testing.T) {
	log := &callLog{}
	down := errors.New("store down")
	bus, o := setup(t, map[string]*recorder{
		"Bad":  {name: "Bad", log: log, err: down},
		"Next": {name: "Next", log: log},
	}, "Bad", "Next")

	_, err := bus.Fire(context.Background(), event.BeforePerform, o)
	require.ErrorIs(t, err, down)
	assert.Contains(t, err.Error(), "plugin Bad beforePerform")
	assert.Equal(t, []string{"Bad.before"}, log.calls)
}

func TestDispatcher_IgnoresUnrecognizedPayloads(t *testing.T) {
	log := &callLog{}
	bus, _ := setup(t, map[string]*recorder{"P": {name: "P", log: log}}, "P")
	ctx := context.Background()

	for _, payload := range []any{nil, "string", 42, (*job.Occurrence)(nil), event.Failure{}, (*event.Failure)(nil)} {
		_, err := bus.Fire(ctx, event.BeforePerform, payload)
		require.NoError(t, err)
		_, err = bus.Fire(ctx, event.AfterPerform, payload)
		require.NoError(t, err)
		out, err := bus.Fire(ctx, event.OnFailure, payload)
		require.NoError(t, err)
		assert.False(t, out.Handled())
	}
	assert.Empty(t, log.calls)
}

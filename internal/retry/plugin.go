package retry

import (
	"context"

	"jobretry/internal/job"
)

// Plugin attaches the engine to a job class under one backoff policy. It
// holds no per-occurrence state; everything lives in the attempt counter.
type Plugin struct {
	engine *Engine
	policy Policy
}

// Policy returns the backoff policy of the plugin.
func (p *Plugin) Policy() Policy { return p.policy }

// BeforePerform records the attempt.
func (p *Plugin) BeforePerform(ctx context.Context, o *job.Occurrence, _ job.Job) error {
	return p.engine.BeforePerform(ctx, o)
}

// AfterPerform clears the attempt counter.
func (p *Plugin) AfterPerform(ctx context.Context, o *job.Occurrence, _ job.Job) error {
	return p.engine.AfterPerform(ctx, o)
}

// OnFailure runs the retry decision.
func (p *Plugin) OnFailure(ctx context.Context, cause error, o *job.Occurrence, _ job.Job) (job.Outcome, error) {
	return p.engine.OnFailure(ctx, cause, o, p.policy)
}

package retry

import (
	"context"
	"log/slog"
	"time"

	"jobretry/internal/job"
)

// Scheduler is the delayed scheduler collaborator. EnqueueAt hands a new
// occurrence over for delivery at the given time.
type Scheduler interface {
	EnqueueAt(ctx context.Context, at time.Time, queue, class string, args []any, trackProgress bool, payloadID string) error
}

// Options configures an Engine.
type Options struct {
	// MaxDelay caps every computed delay. Zero means no ceiling.
	MaxDelay time.Duration
	// Now returns the current time (defaults to time.Now).
	Now func() time.Time
	// Logger defaults to slog.Default().
	Logger *slog.Logger
}

// Engine runs the retry state machine of job occurrences:
// Running -> Succeeded | Failed, Failed -> RetryScheduled | Exhausted.
type Engine struct {
	attempts  *AttemptStore
	scheduler Scheduler
	maxDelay  time.Duration
	now       func() time.Time
	logger    *slog.Logger
}

// NewEngine creates an engine.
func NewEngine(attempts *AttemptStore, scheduler Scheduler, opts Options) *Engine {
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &Engine{
		attempts:  attempts,
		scheduler: scheduler,
		maxDelay:  opts.MaxDelay,
		now:       opts.Now,
		logger:    opts.Logger.With("component", "retry"),
	}
}

// Attempts returns the attempt store the engine writes to.
func (e *Engine) Attempts() *AttemptStore { return e.attempts }

// BeforePerform records the attempt and caches it on the occurrence. It runs
// before any user code.
func (e *Engine) BeforePerform(ctx context.Context, o *job.Occurrence) error {
	o.RetryKey = Key(o.Queue, o.Class, o.PayloadID)
	n, err := e.attempts.Record(ctx, o.RetryKey)
	if err != nil {
		return err
	}
	o.AttemptNumber = n
	o.AttemptRecorded = true
	return nil
}

// AfterPerform clears the counter of a succeeded occurrence.
func (e *Engine) AfterPerform(ctx context.Context, o *job.Occurrence) error {
	return e.attempts.Clear(ctx, e.key(o))
}

// OnFailure decides what happens to a failed occurrence.
//
// When the criteria do not hold the counter is cleared and the Unhandled
// outcome is returned; the final attempt number stays on the occurrence and
// in the outcome so failure reporting does not need the store. When they
// hold the occurrence is either re-run in place (delay <= 0) or scheduled at
// now + delay. The configuration is resolved from the user instance for p.
func (e *Engine) OnFailure(ctx context.Context, cause error, o *job.Occurrence, p Policy) (job.Outcome, error) {
	key := e.key(o)
	cfg := Resolve(o, p)

	attempt, err := e.attempt(ctx, o, key)
	if err != nil {
		return job.Outcome{}, err
	}

	log := e.logger.With(
		slog.String("queue", o.Queue),
		slog.String("class", o.Class),
		slog.String("payload_id", o.PayloadID),
		slog.Int("attempt", attempt),
	)

	if cfg.LimitReached(attempt) || !cfg.Retryable(cause) {
		if err := e.attempts.Clear(ctx, key); err != nil {
			return job.Outcome{}, err
		}
		log.Debug("retry exhausted", slog.Int("limit", cfg.Limit), slog.Any("error", cause))
		return job.Outcome{Disposition: job.Unhandled, Attempt: attempt}, nil
	}

	delay := e.delay(p, cfg, attempt)
	if delay <= 0 {
		log.Debug("retrying in place", slog.Any("error", cause))
		return job.Outcome{Disposition: job.RetryNow, Attempt: attempt}, nil
	}

	d := time.Duration(delay) * time.Second
	at := e.now().Add(d)
	if err := e.scheduler.EnqueueAt(ctx, at, o.Queue, o.Class, o.Args, o.TrackProgress, o.PayloadID); err != nil {
		return job.Outcome{}, err
	}

	o.IsRetrying = true
	o.RetryDelaySeconds = delay
	o.RetryAt = at

	log.Info("retry scheduled", slog.Int("delay_seconds", delay), slog.Time("retry_at", at), slog.Any("error", cause))
	return job.Outcome{Disposition: job.RetryLater, Attempt: attempt, Delay: d, RetryAt: at}, nil
}

// Plugin returns a plugin exposing the engine under the policy.
func (e *Engine) Plugin(p Policy) *Plugin {
	return &Plugin{engine: e, policy: p}
}

func (e *Engine) key(o *job.Occurrence) string {
	if o.RetryKey == "" {
		o.RetryKey = Key(o.Queue, o.Class, o.PayloadID)
	}
	return o.RetryKey
}

// attempt returns the cached attempt number or reads it from the store when
// beforePerform has not run for this occurrence.
func (e *Engine) attempt(ctx context.Context, o *job.Occurrence, key string) (int, error) {
	if o.AttemptRecorded {
		return o.AttemptNumber, nil
	}
	n, ok, err := e.attempts.Read(ctx, key)
	if err != nil {
		return 0, err
	}
	if !ok {
		n = 0
	}
	o.AttemptNumber = n
	o.AttemptRecorded = true
	return n, nil
}

func (e *Engine) delay(p Policy, cfg Config, attempt int) int {
	d := p.Delay(cfg, attempt)
	if e.maxDelay > 0 {
		if ceiling := int(e.maxDelay / time.Second); d > ceiling {
			return ceiling
		}
	}
	return d
}

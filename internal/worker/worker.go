// Package worker is the minimal job engine driving the retry core: it runs
// occurrences, fires lifecycle events and acts on the failure outcome.
package worker

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"jobretry/internal/event"
	"jobretry/internal/failure"
	"jobretry/internal/job"
)

// Worker performs occurrences one at a time.
type Worker struct {
	bus      *event.Bus
	reporter failure.Reporter
	now      func() time.Time
	logger   *slog.Logger
}

// Config configures a Worker.
type Config struct {
	Bus      *event.Bus
	Reporter failure.Reporter
	Now      func() time.Time
	Logger   *slog.Logger
}

// New creates a worker.
func New(cfg Config) *Worker {
	if cfg.Bus == nil {
		cfg.Bus = event.NewBus()
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Reporter == nil {
		cfg.Reporter = failure.NewLogReporter(cfg.Logger)
	}
	return &Worker{
		bus:      cfg.Bus,
		reporter: cfg.Reporter,
		now:      cfg.Now,
		logger:   cfg.Logger.With("component", "worker"),
	}
}

// Perform runs the occurrence until it succeeds, is handed to the delayed
// scheduler or fails terminally.
//
// A nil return means the occurrence succeeded or will run again later. A
// terminal failure is reported once and its cause returned. Errors from the
// hooks themselves (store or scheduler unavailable) are returned unchanged
// and are not reported as job failures.
func (w *Worker) Perform(ctx context.Context, o *job.Occurrence) error {
	for {
		if _, err := w.bus.Fire(ctx, event.BeforePerform, o); err != nil {
			return err
		}

		start := w.now()
		cause := w.run(ctx, o)
		if cause == nil {
			if _, err := w.bus.Fire(ctx, event.AfterPerform, o); err != nil {
				return err
			}
			w.logger.Debug("job done",
				slog.String("class", o.Class),
				slog.String("payload_id", o.PayloadID),
				slog.Duration("duration", w.now().Sub(start)))
			return nil
		}

		out, err := w.bus.Fire(ctx, event.OnFailure, event.Failure{Cause: cause, Occurrence: o})
		if err != nil {
			return err
		}

		switch out.Disposition {
		case job.RetryNow:
			o.ResetRetry()
			if ctx.Err() != nil {
				return ctx.Err()
			}
			continue
		case job.RetryLater:
			return nil
		default:
			rec := failure.FromOccurrence(o, cause, w.now())
			if err := w.reporter.Report(ctx, rec); err != nil {
				w.logger.Error("failure report failed", slog.String("payload_id", o.PayloadID), slog.Any("error", err))
			}
			return cause
		}
	}
}

// run calls user code and turns panics into failures.
func (w *Worker) run(ctx context.Context, o *job.Occurrence) (err error) {
	defer func() {
		if r := recover(); r != nil {
			w.logger.Error("job panicked", slog.String("class", o.Class), slog.Any("panic", r))
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	return o.Instance.Perform(ctx, o.Args)
}

// Package schedule is the delayed scheduler: it keeps occurrences that must
// run at a future time and delivers them once they are due.
package schedule

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"jobretry/internal/job"
	"jobretry/internal/shared"
)

// Entry is one deferred occurrence.
type Entry struct {
	ID       string
	RunAt    time.Time
	Envelope job.Envelope
}

// Store persists entries. Claim must hand each entry to exactly one caller
// even when several pollers run against the same store.
type Store interface {
	Add(ctx context.Context, e Entry) error
	// Claim removes and returns up to limit entries due at now, oldest first.
	Claim(ctx context.Context, now time.Time, limit int) ([]Entry, error)
	// Pending returns the number of stored entries.
	Pending(ctx context.Context) (int, error)
}

// Scheduler implements the retry engine's delayed scheduler collaborator.
type Scheduler struct {
	store Store
}

// New creates a scheduler over store.
func New(store Store) *Scheduler {
	return &Scheduler{store: store}
}

// EnqueueAt stores a new occurrence to be delivered at at. The payload id is
// kept so retries correlate with the original occurrence.
func (s *Scheduler) EnqueueAt(ctx context.Context, at time.Time, queue, class string, args []any, trackProgress bool, payloadID string) error {
	e := Entry{
		ID:    uuid.NewString(),
		RunAt: at.UTC(),
		Envelope: job.Envelope{
			Queue:         queue,
			Class:         class,
			Args:          args,
			PayloadID:     payloadID,
			TrackProgress: trackProgress,
		},
	}
	return shared.Wrapf(s.store.Add(ctx, e), "enqueue %s at %s", class, e.RunAt.Format(time.RFC3339))
}

// Sink receives due envelopes.
type Sink func(ctx context.Context, env job.Envelope) error

// Poller moves due entries from the store to a sink.
type Poller struct {
	store  Store
	sink   Sink
	batch  int
	now    func() time.Time
	logger *slog.Logger
}

// PollerOptions configures a Poller.
type PollerOptions struct {
	// Batch is the claim size per round (default 100).
	Batch int
	// Now defaults to time.Now.
	Now    func() time.Time
	Logger *slog.Logger
}

// NewPoller creates a poller.
func NewPoller(store Store, sink Sink, opts PollerOptions) *Poller {
	if opts.Batch <= 0 {
		opts.Batch = 100
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &Poller{
		store:  store,
		sink:   sink,
		batch:  opts.Batch,
		now:    opts.Now,
		logger: opts.Logger.With("component", "delayed-poller"),
	}
}

// Tick delivers every entry due now. When the sink rejects an entry, that
// entry and the rest of its claimed batch are put back with their original
// run times. It returns the number delivered.
func (p *Poller) Tick(ctx context.Context) (int, error) {
	delivered := 0
	for {
		entries, err := p.store.Claim(ctx, p.now().UTC(), p.batch)
		if err != nil {
			return delivered, shared.Wrap(err, "claim due entries")
		}
		for i, e := range entries {
			if err := p.sink(ctx, e.Envelope); err != nil {
				p.logger.Warn("delivery failed, re-queueing",
					slog.String("class", e.Envelope.Class),
					slog.String("payload_id", e.Envelope.PayloadID),
					slog.Int("requeued", len(entries)-i),
					slog.Any("error", err))
				return delivered, errors.Join(err, p.requeue(ctx, entries[i:]))
			}
			delivered++
		}
		if len(entries) < p.batch {
			break
		}
	}
	if delivered > 0 {
		p.logger.Debug("delivered due entries", slog.Int("count", delivered))
	}
	return delivered, nil
}

// requeue puts claimed entries back. It runs detached from ctx cancellation:
// the sink usually fails because the worker is shutting down.
func (p *Poller) requeue(ctx context.Context, entries []Entry) error {
	ctx = context.WithoutCancel(ctx)
	var errs []error
	for _, e := range entries {
		if err := p.store.Add(ctx, e); err != nil {
			errs = append(errs, shared.Wrapf(err, "re-queue entry %s", e.ID))
		}
	}
	return errors.Join(errs...)
}

// Run adapts Tick to the maintenance scheduler job signature.
func (p *Poller) Run(ctx context.Context) error {
	_, err := p.Tick(ctx)
	return err
}

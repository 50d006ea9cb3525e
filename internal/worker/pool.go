package worker

import (
	"context"
	"errors"
	"log/slog"
	"sync"

	"github.com/cespare/xxhash/v2"

	"jobretry/internal/job"
)

// ErrPoolClosed is returned by Dispatch after Close.
var ErrPoolClosed = errors.New("worker pool closed")

// Builder turns an envelope into a runnable occurrence. *job.Registry
// implements it.
type Builder interface {
	Occurrence(env job.Envelope) (*job.Occurrence, error)
}

// Pool routes envelopes to worker goroutines keeping per-payload order:
// occurrences sharing a payload id always land on the same goroutine.
type Pool struct {
	worker  *Worker
	builder Builder
	logger  *slog.Logger

	mu     sync.RWMutex
	closed bool
	chans  []chan job.Envelope
	wg     sync.WaitGroup
}

// NewPool creates a pool with the given worker count and buffer per worker.
func NewPool(ctx context.Context, w *Worker, b Builder, workers, buffer int, logger *slog.Logger) *Pool {
	if workers <= 0 {
		workers = 1
	}
	if buffer <= 0 {
		buffer = 100
	}
	if logger == nil {
		logger = slog.Default()
	}
	p := &Pool{
		worker:  w,
		builder: b,
		logger:  logger.With("component", "pool"),
		chans:   make([]chan job.Envelope, workers),
	}
	for i := 0; i < workers; i++ {
		p.chans[i] = make(chan job.Envelope, buffer)
		p.wg.Add(1)
		go p.loop(ctx, p.chans[i])
	}
	return p
}

// Dispatch queues an envelope on the goroutine owning its payload id.
func (p *Pool) Dispatch(ctx context.Context, env job.Envelope) error {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.closed {
		return ErrPoolClosed
	}
	select {
	case p.chans[p.shard(env.PayloadID)] <- env:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close stops accepting envelopes and waits for queued ones to finish.
func (p *Pool) Close() {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	p.closed = true
	for _, ch := range p.chans {
		close(ch)
	}
	p.mu.Unlock()
	p.wg.Wait()
}

func (p *Pool) loop(ctx context.Context, in <-chan job.Envelope) {
	defer p.wg.Done()
	for env := range in {
		o, err := p.builder.Occurrence(env)
		if err != nil {
			p.logger.Error("dropping envelope", slog.String("class", env.Class), slog.String("payload_id", env.PayloadID), slog.Any("error", err))
			continue
		}
		if err := p.worker.Perform(ctx, o); err != nil {
			p.logger.Debug("occurrence ended with error", slog.String("class", env.Class), slog.String("payload_id", env.PayloadID), slog.Any("error", err))
		}
	}
}

func (p *Pool) shard(payloadID string) int {
	if payloadID == "" {
		return 0
	}
	return int(xxhash.Sum64String(payloadID) % uint64(len(p.chans)))
}

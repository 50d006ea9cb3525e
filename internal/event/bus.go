// Package event provides the engine's lifecycle event bus. The worker fires
// events; the plugin dispatcher subscribes to them.
package event

import (
	"context"
	"sync"

	"jobretry/internal/job"
)

// Name identifies a lifecycle event.
type Name string

const (
	// BeforePerform fires before user code runs. Payload: *job.Occurrence.
	BeforePerform Name = "beforePerform"
	// AfterPerform fires after a successful run. Payload: *job.Occurrence.
	AfterPerform Name = "afterPerform"
	// OnFailure fires when a run fails. Payload: Failure.
	OnFailure Name = "onFailure"
)

// Failure is the payload of OnFailure.
type Failure struct {
	Cause      error
	Occurrence *job.Occurrence
}

// Listener handles one fired event. Listeners that do not decide anything
// return the zero Outcome.
type Listener func(ctx context.Context, payload any) (job.Outcome, error)

// Bus routes fired events to listeners in subscription order.
// It is safe for concurrent use.
type Bus struct {
	mu        sync.RWMutex
	listeners map[Name][]Listener
}

// NewBus creates an empty bus.
func NewBus() *Bus {
	return &Bus{listeners: make(map[Name][]Listener)}
}

// Subscribe adds a listener for the named event.
func (b *Bus) Subscribe(name Name, l Listener) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.listeners[name] = append(b.listeners[name], l)
}

// Fire calls every listener of the event synchronously. The first listener
// error stops the fan-out and is returned. Outcomes are merged so the first
// handled outcome wins.
func (b *Bus) Fire(ctx context.Context, name Name, payload any) (job.Outcome, error) {
	b.mu.RLock()
	ls := b.listeners[name]
	b.mu.RUnlock()

	var out job.Outcome
	for _, l := range ls {
		o, err := l(ctx, payload)
		if err != nil {
			return out, err
		}
		out = out.Merge(o)
	}
	return out, nil
}

// Listeners returns the number of listeners subscribed to the event.
func (b *Bus) Listeners(name Name) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.listeners[name])
}

package plugin

import (
	"context"
	"fmt"

	"jobretry/internal/event"
	"jobretry/internal/job"
)

// Dispatcher fans lifecycle events out to the plugin instances of the job
// class, in registration order, synchronously.
type Dispatcher struct {
	registry *Registry
}

// NewDispatcher creates a dispatcher over the registry.
func NewDispatcher(r *Registry) *Dispatcher {
	return &Dispatcher{registry: r}
}

// Attach subscribes the dispatcher to the three lifecycle events.
func (d *Dispatcher) Attach(bus *event.Bus) {
	bus.Subscribe(event.BeforePerform, d.beforePerform)
	bus.Subscribe(event.AfterPerform, d.afterPerform)
	bus.Subscribe(event.OnFailure, d.onFailure)
}

func (d *Dispatcher) beforePerform(ctx context.Context, payload any) (job.Outcome, error) {
	o, ok := payload.(*job.Occurrence)
	if !ok || o == nil {
		return job.Outcome{}, nil
	}
	for _, inst := range d.registry.InstancesImplementing(o.Class, HookBeforePerform) {
		if err := inst.Plugin.(BeforePerformer).BeforePerform(ctx, o, o.Instance); err != nil {
			return job.Outcome{}, fmt.Errorf("plugin %s beforePerform: %w", inst.Name, err)
		}
	}
	return job.Outcome{}, nil
}

func (d *Dispatcher) afterPerform(ctx context.Context, payload any) (job.Outcome, error) {
	o, ok := payload.(*job.Occurrence)
	if !ok || o == nil {
		return job.Outcome{}, nil
	}
	for _, inst := range d.registry.InstancesImplementing(o.Class, HookAfterPerform) {
		if err := inst.Plugin.(AfterPerformer).AfterPerform(ctx, o, o.Instance); err != nil {
			return job.Outcome{}, fmt.Errorf("plugin %s afterPerform: %w", inst.Name, err)
		}
	}
	return job.Outcome{}, nil
}

func (d *Dispatcher) onFailure(ctx context.Context, payload any) (job.Outcome, error) {
	f, ok := payload.(event.Failure)
	if !ok {
		if p, isPtr := payload.(*event.Failure); isPtr && p != nil {
			f, ok = *p, true
		}
	}
	if !ok || f.Occurrence == nil {
		return job.Outcome{}, nil
	}

	o := f.Occurrence
	var out job.Outcome
	for _, inst := range d.registry.InstancesImplementing(o.Class, HookOnFailure) {
		res, err := inst.Plugin.(FailureHandler).OnFailure(ctx, f.Cause, o, o.Instance)
		if err != nil {
			return out, fmt.Errorf("plugin %s onFailure: %w", inst.Name, err)
		}
		out = out.Merge(res)
	}
	return out, nil
}

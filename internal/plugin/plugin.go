// Package plugin resolves the per-job-class plugin instances and routes
// lifecycle events to them.
//
// Each lifecycle hook is a separate interface so plugins opt in only to the
// events they care about.
package plugin

import (
	"context"

	"jobretry/internal/job"
)

// Hook names a lifecycle point.
type Hook string

const (
	HookBeforePerform Hook = "beforePerform"
	HookAfterPerform  Hook = "afterPerform"
	HookOnFailure     Hook = "onFailure"
)

// BeforePerformer runs before user code.
type BeforePerformer interface {
	BeforePerform(ctx context.Context, o *job.Occurrence, j job.Job) error
}

// AfterPerformer runs after a successful perform.
type AfterPerformer interface {
	AfterPerform(ctx context.Context, o *job.Occurrence, j job.Job) error
}

// FailureHandler runs when perform fails. The outcome tells the engine
// whether the failure was converted into a retry.
type FailureHandler interface {
	OnFailure(ctx context.Context, cause error, o *job.Occurrence, j job.Job) (job.Outcome, error)
}

// Factory creates a plugin instance. Factories take no arguments; anything a
// plugin needs is captured when the factory is registered.
type Factory func() any

// Instance is one plugin instance bound to a job class.
type Instance struct {
	Name   string
	Plugin any
}

// Implements reports whether the instance exposes the hook.
func (i Instance) Implements(h Hook) bool {
	switch h {
	case HookBeforePerform:
		_, ok := i.Plugin.(BeforePerformer)
		return ok
	case HookAfterPerform:
		_, ok := i.Plugin.(AfterPerformer)
		return ok
	case HookOnFailure:
		_, ok := i.Plugin.(FailureHandler)
		return ok
	default:
		return false
	}
}

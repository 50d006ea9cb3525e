// Package job defines the unit of work the retry core operates on: job
// classes, their user instances and one concrete occurrence of a job.
package job

import (
	"context"
	"time"
)

// Job is implemented by every job class. Perform runs the unit of work for
// one occurrence.
type Job interface {
	Perform(ctx context.Context, args []any) error
}

// PluginDeclarer is implemented by job classes that attach plugins. The
// returned names are resolved in order against the plugin registry.
type PluginDeclarer interface {
	Plugins() []string
}

// Occurrence is one concrete attempt to run a job.
//
// Identity fields are set by the engine when the occurrence is dequeued. The
// retry tracking fields are written by the retry core only.
type Occurrence struct {
	Queue         string
	Class         string
	PayloadID     string
	Args          []any
	TrackProgress bool

	// Instance is the user job instance performing this occurrence.
	Instance Job

	// AttemptNumber is the zero-based count of prior failures. It is only
	// meaningful when AttemptRecorded is true.
	AttemptNumber     int
	AttemptRecorded   bool
	IsRetrying        bool
	RetryDelaySeconds int
	RetryAt           time.Time
	RetryKey          string
}

// Envelope returns the serializable identity of the occurrence.
func (o *Occurrence) Envelope() Envelope {
	return Envelope{
		Queue:         o.Queue,
		Class:         o.Class,
		Args:          o.Args,
		PayloadID:     o.PayloadID,
		TrackProgress: o.TrackProgress,
	}
}

// ResetRetry clears per-run retry markers before an in-place re-run.
// AttemptNumber is kept; the next beforePerform overwrites it.
func (o *Occurrence) ResetRetry() {
	o.IsRetrying = false
	o.RetryDelaySeconds = 0
	o.RetryAt = time.Time{}
}

// Envelope is the transport form of an occurrence: what gets enqueued,
// stored for delayed delivery and accepted by the admin API.
type Envelope struct {
	Queue         string `json:"queue"`
	Class         string `json:"class"`
	Args          []any  `json:"args"`
	PayloadID     string `json:"payload_id"`
	TrackProgress bool   `json:"track_progress,omitempty"`
}

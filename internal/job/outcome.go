package job

import "time"

// Disposition tells the engine what became of a failed occurrence.
type Disposition int

const (
	// Unhandled means the failure is terminal and goes through normal
	// failure reporting.
	Unhandled Disposition = iota
	// RetryNow asks the engine to re-run the occurrence in place, without a
	// scheduling round-trip.
	RetryNow
	// RetryLater means a new occurrence has been handed to the delayed
	// scheduler. The failure must not be reported.
	RetryLater
)

// String returns the disposition name used in logs.
func (d Disposition) String() string {
	switch d {
	case RetryNow:
		return "retry_now"
	case RetryLater:
		return "retry_later"
	default:
		return "unhandled"
	}
}

// Outcome is the tagged result of a failure hook.
type Outcome struct {
	Disposition Disposition
	// Attempt is the attempt number the decision was made for.
	Attempt int
	// Delay and RetryAt are set for RetryLater.
	Delay   time.Duration
	RetryAt time.Time
}

// Handled reports whether the failure was converted into a retry and must
// be kept away from failure reporting.
func (o Outcome) Handled() bool {
	return o.Disposition != Unhandled
}

// Merge combines the outcomes of several failure hooks. The first handled
// outcome wins.
func (o Outcome) Merge(other Outcome) Outcome {
	if o.Handled() {
		return o
	}
	return other
}

// Package failure reports occurrences whose failure was not converted into
// a retry.
package failure

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"jobretry/internal/job"
)

// Record describes one terminal failure.
type Record struct {
	Queue     string    `json:"queue"`
	Class     string    `json:"class"`
	PayloadID string    `json:"payload_id"`
	Args      []any     `json:"args"`
	Attempt   int       `json:"attempt"`
	Error     string    `json:"error"`
	FailedAt  time.Time `json:"failed_at"`
}

// FromOccurrence builds a record. The attempt number is taken from the
// occurrence, which keeps it after the retry engine cleared the counter.
func FromOccurrence(o *job.Occurrence, cause error, at time.Time) Record {
	msg := ""
	if cause != nil {
		msg = cause.Error()
	}
	return Record{
		Queue:     o.Queue,
		Class:     o.Class,
		PayloadID: o.PayloadID,
		Args:      o.Args,
		Attempt:   o.AttemptNumber,
		Error:     msg,
		FailedAt:  at.UTC(),
	}
}

// Reporter receives terminal failures.
type Reporter interface {
	Report(ctx context.Context, r Record) error
}

// Store keeps failure records for inspection.
type Store interface {
	Reporter
	// List returns the newest records first.
	List(ctx context.Context, limit int) ([]Record, error)
	// Purge deletes records that failed before the given time.
	Purge(ctx context.Context, before time.Time) (int, error)
}

// Fanout reports to every reporter and joins their errors.
type Fanout []Reporter

// Report implements Reporter.
func (f Fanout) Report(ctx context.Context, r Record) error {
	var errs []error
	for _, rep := range f {
		if rep == nil {
			continue
		}
		if err := rep.Report(ctx, r); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// LogReporter writes failures to a logger.
type LogReporter struct {
	logger *slog.Logger
}

// NewLogReporter creates a log reporter.
func NewLogReporter(logger *slog.Logger) *LogReporter {
	if logger == nil {
		logger = slog.Default()
	}
	return &LogReporter{logger: logger}
}

// Report implements Reporter.
func (l *LogReporter) Report(ctx context.Context, r Record) error {
	l.logger.LogAttrs(ctx, slog.LevelError, "job failed",
		slog.String("queue", r.Queue),
		slog.String("class", r.Class),
		slog.String("payload_id", r.PayloadID),
		slog.Int("attempt", r.Attempt),
		slog.String("error", r.Error),
	)
	return nil
}

package failure_test

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"jobretry/internal/failure"
	"jobretry/internal/job"
)

func TestFromOccurrence(t *testing.T) {
	at := time.Date(2025, 2, 2, 10, 0, 0, 0, time.FixedZone("X", 3600))
	o := &job.Occurrence{Queue: "q", Class: "Mail", PayloadID: "p", Args: []any{1}, AttemptNumber: 3}

	r := failure.FromOccurrence(o, errors.New("smtp down"), at)
	assert.Equal(t, "q", r.Queue)
	assert.Equal(t, "Mail", r.Class)
	assert.Equal(t, "p", r.PayloadID)
	assert.Equal(t, []any{1}, r.Args)
	assert.Equal(t, 3, r.Attempt)
	assert.Equal(t, "smtp down", r.Error)
	assert.Equal(t, time.UTC, r.FailedAt.Location())

	assert.Empty(t, failure.FromOccurrence(o, nil, at).Error)
}

type sliceReporter struct {
	got []failure.Record
	err error
}

func (s *sliceReporter) Report(_ context.Context, r failure.Record) error {
	s.got = append(s.got, r)
	return s.err
}

func TestFanout(t *testing.T) {
	errA := errors.New("a")
	errB := errors.New("b")
	a := &sliceReporter{err: errA}
	b := &sliceReporter{err: errB}
	ok := &sliceReporter{}

	err := failure.Fanout{a, nil, ok, b}.Report(context.Background(), failure.Record{PayloadID: "p"})
	assert.ErrorIs(t, err, errA)
	assert.ErrorIs(t, err, errB)
	for _, r := range []*sliceReporter{a, ok, b} {
		require.Len(t, r.got, 1)
	}

	assert.NoError(t, failure.Fanout{ok}.Report(context.Background(), failure.Record{}))
}

func TestLogReporter(t *testing.T) {
	var buf bytes.Buffer
	rep := failure.NewLogReporter(slog.New(slog.NewTextHandler(&buf, nil)))

	require.NoError(t, rep.Report(context.Background(), failure.Record{Class: "Mail", PayloadID: "p9", Attempt: 2, Error: "boom"}))
	out := buf.String()
	assert.Contains(t, out, "job failed")
	assert.Contains(t, out, "payload_id=p9")
	assert.Contains(t, out, "attempt=2")
}

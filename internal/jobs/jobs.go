// Package jobs holds the built-in job classes used to smoke-test retry
// policies through the admin API.
package jobs

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"jobretry/internal/job"
	"jobretry/internal/retry"
)

// Class names.
const (
	ClassLog         = "Log"
	ClassFail        = "Fail"
	ClassFailInPlace = "FailInPlace"
)

var (
	// ErrTransient is retried by the failing classes.
	ErrTransient = errors.New("transient failure")
	// ErrPermanent is never retried.
	ErrPermanent = errors.New("permanent failure")
)

// Register adds the built-in classes to r.
func Register(r *job.Registry, logger *slog.Logger) {
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "jobs")
	counts := newCounter()

	r.Register(ClassLog, func() job.Job { return &Log{logger: logger} })
	r.Register(ClassFail, func() job.Job { return &Fail{class: ClassFail, counts: counts} })
	r.Register(ClassFailInPlace, func() job.Job {
		return &FailInPlace{Fail{class: ClassFailInPlace, counts: counts}}
	})
}

// Log writes its arguments to the log and succeeds.
type Log struct {
	logger *slog.Logger
}

// Perform implements job.Job.
func (j *Log) Perform(ctx context.Context, args []any) error {
	j.logger.InfoContext(ctx, "log job", slog.Any("args", args))
	return nil
}

// Fail fails the first n runs and then succeeds. Arguments: [n, mode, ...];
// mode "permanent" fails with ErrPermanent, which is not retried. Runs are
// counted per class and argument list, so extra arguments tell payloads
// apart. Retries go through the staged policy with a short strategy.
type Fail struct {
	class  string
	counts *counter
}

// Plugins implements job.PluginDeclarer.
func (*Fail) Plugins() []string { return []string{retry.Staged{}.Name()} }

// RetryConfig implements retry.StaticRetryConfig.
func (*Fail) RetryConfig() retry.Overrides {
	return retry.Overrides{
		Strategy:   []int{1, 5, 15},
		Exceptions: []retry.Matcher{retry.Is(ErrTransient)},
	}
}

// Perform implements job.Job.
func (j *Fail) Perform(ctx context.Context, args []any) error {
	n, err := intArg(args, 0)
	if err != nil {
		return err
	}
	key := fmt.Sprint(j.class, args)
	if j.counts.inc(key) > n {
		j.counts.reset(key)
		return nil
	}
	if len(args) > 1 && args[1] == "permanent" {
		return ErrPermanent
	}
	return ErrTransient
}

// FailInPlace behaves like Fail but retries immediately in the same
// worker through the fixed policy, up to three times.
type FailInPlace struct {
	Fail
}

// Plugins implements job.PluginDeclarer.
func (*FailInPlace) Plugins() []string { return []string{retry.Fixed{}.Name()} }

// RetryLimit implements retry.RetryLimiter.
func (*FailInPlace) RetryLimit(*job.Occurrence) int { return 3 }

// RetryExceptions implements retry.RetryExceptionFilter.
func (*FailInPlace) RetryExceptions(*job.Occurrence) []retry.Matcher {
	return []retry.Matcher{retry.Is(ErrTransient)}
}

// intArg reads a non-negative integer argument. JSON transports deliver
// numbers as float64.
func intArg(args []any, i int) (int, error) {
	if len(args) <= i {
		return 0, fmt.Errorf("%w: missing argument %d", ErrPermanent, i)
	}
	var n int
	switch v := args[i].(type) {
	case int:
		n = v
	case int64:
		n = int(v)
	case float64:
		n = int(v)
	default:
		return 0, fmt.Errorf("%w: argument %d is %T, want number", ErrPermanent, i, args[i])
	}
	if n < 0 {
		return 0, fmt.Errorf("%w: argument %d is negative", ErrPermanent, i)
	}
	return n, nil
}

// counter tracks runs per payload across job instances.
type counter struct {
	mu sync.Mutex
	m  map[string]int
}

func newCounter() *counter { return &counter{m: make(map[string]int)} }

func (c *counter) inc(key string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.m[key]++
	return c.m[key]
}

func (c *counter) reset(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.m, key)
}

package retry

import (
	"errors"
	"fmt"
	"strings"

	"jobretry/internal/job"
	"jobretry/internal/shared"
)

// Config is the resolved retry configuration of one occurrence.
type Config struct {
	// Limit: 0 never retries, N > 0 retries while attempt < N, negative is
	// unlimited.
	Limit int
	// Delay is the fixed delay in seconds.
	Delay int
	// Strategy is the staged delay list in seconds.
	Strategy []int
	// Exceptions restrict retries to matching causes. Empty retries any cause.
	Exceptions []Matcher
}

// LimitReached reports whether attempt has used up the retry budget.
func (c Config) LimitReached(attempt int) bool {
	switch {
	case c.Limit == 0:
		return true
	case c.Limit < 0:
		return false
	default:
		return attempt >= c.Limit
	}
}

// Retryable reports whether cause matches the configured exceptions.
func (c Config) Retryable(cause error) bool {
	if len(c.Exceptions) == 0 {
		return true
	}
	for _, m := range c.Exceptions {
		if m != nil && m.Match(cause) {
			return true
		}
	}
	return false
}

// Overrides is the static retry configuration of a job class. Nil fields
// fall through to the plugin defaults.
type Overrides struct {
	Limit      *int
	Delay      *int
	Strategy   []int
	Exceptions []Matcher
}

// Job class capabilities, checked in this order for every property:
// a behaviour accessor receiving the occurrence, then StaticRetryConfig,
// then the plugin default.
type (
	// RetryLimiter overrides the retry limit per occurrence.
	RetryLimiter interface {
		RetryLimit(o *job.Occurrence) int
	}
	// RetryDelayer overrides the fixed delay in seconds per occurrence.
	RetryDelayer interface {
		RetryDelay(o *job.Occurrence) int
	}
	// BackoffStrategist overrides the staged strategy per occurrence.
	BackoffStrategist interface {
		BackoffStrategy(o *job.Occurrence) []int
	}
	// RetryExceptionFilter restricts which causes are retried.
	RetryExceptionFilter interface {
		RetryExceptions(o *job.Occurrence) []Matcher
	}
	// StaticRetryConfig provides class-wide overrides.
	StaticRetryConfig interface {
		RetryConfig() Overrides
	}
)

// Resolve computes the retry configuration of an occurrence for a policy.
func Resolve(o *job.Occurrence, p Policy) Config {
	cfg := p.Defaults()

	var static Overrides
	if s, ok := o.Instance.(StaticRetryConfig); ok {
		static = s.RetryConfig()
	}

	if j, ok := o.Instance.(RetryDelayer); ok {
		cfg.Delay = j.RetryDelay(o)
	} else if static.Delay != nil {
		cfg.Delay = *static.Delay
	}

	if j, ok := o.Instance.(BackoffStrategist); ok {
		cfg.Strategy = j.BackoffStrategy(o)
	} else if static.Strategy != nil {
		cfg.Strategy = static.Strategy
	}

	if j, ok := o.Instance.(RetryExceptionFilter); ok {
		cfg.Exceptions = j.RetryExceptions(o)
	} else if static.Exceptions != nil {
		cfg.Exceptions = static.Exceptions
	}

	if j, ok := o.Instance.(RetryLimiter); ok {
		cfg.Limit = j.RetryLimit(o)
	} else if static.Limit != nil {
		cfg.Limit = *static.Limit
	} else {
		cfg.Limit = p.DefaultLimit(cfg)
	}

	return cfg
}

// Matcher decides whether a failure cause is retryable.
type Matcher interface {
	Match(cause error) bool
}

// MatcherFunc adapts a function to Matcher.
type MatcherFunc func(cause error) bool

// Match implements Matcher.
func (f MatcherFunc) Match(cause error) bool { return f(cause) }

// Is matches causes for which errors.Is(cause, target) holds.
func Is(target error) Matcher {
	return MatcherFunc(func(cause error) bool { return errors.Is(cause, target) })
}

// As matches causes with an error of type T anywhere in their chain.
func As[T error]() Matcher {
	return MatcherFunc(func(cause error) bool {
		var target T
		return errors.As(cause, &target)
	})
}

// TypeName matches causes carrying an error whose Go type name equals name,
// anywhere in the chain. Both qualified ("*net.OpError") and bare ("OpError")
// names are accepted; the pointer star is ignored for bare names.
func TypeName(name string) Matcher {
	return MatcherFunc(func(cause error) bool {
		for _, e := range shared.UnwrapAll(cause) {
			if typeNameMatches(fmt.Sprintf("%T", e), name) {
				return true
			}
		}
		return false
	})
}

// TypeNames builds one TypeName matcher per name.
func TypeNames(names ...string) []Matcher {
	ms := make([]Matcher, 0, len(names))
	for _, n := range names {
		ms = append(ms, TypeName(n))
	}
	return ms
}

func typeNameMatches(full, name string) bool {
	if full == name {
		return true
	}
	bare := strings.TrimPrefix(full, "*")
	if bare == name {
		return true
	}
	if i := strings.LastIndexByte(bare, '.'); i >= 0 {
		return bare[i+1:] == strings.TrimPrefix(name, "*")
	}
	return false
}

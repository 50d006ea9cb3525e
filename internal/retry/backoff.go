package retry

// DefaultStrategy is the staged backoff in seconds:
// 1s, 5s, 30s, 1m, 10m, 1h, 3h, 6h.
var DefaultStrategy = []int{1, 5, 30, 60, 600, 3600, 10800, 21600}

// Policy computes retry delays and default limits for a plugin variant.
type Policy interface {
	// Name is the plugin name job classes declare.
	Name() string
	// Delay returns the delay in seconds before retrying the given attempt.
	Delay(cfg Config, attempt int) int
	// Defaults returns the built-in delay and strategy of the variant.
	Defaults() Config
	// DefaultLimit returns the limit used when the job class does not
	// configure one. cfg carries the already resolved delay and strategy.
	DefaultLimit(cfg Config) int
}

// Fixed retries after a constant delay.
type Fixed struct{}

// Name implements Policy.
func (Fixed) Name() string { return "Retry" }

// Delay returns the configured delay regardless of the attempt.
func (Fixed) Delay(cfg Config, _ int) int { return cfg.Delay }

// Defaults implements Policy: retry immediately.
func (Fixed) Defaults() Config {
	return Config{Delay: 0}
}

// DefaultLimit implements Policy: a single retry.
func (Fixed) DefaultLimit(Config) int { return 1 }

// Staged picks the delay for the attempt from an ordered strategy and clamps
// to the last stage.
type Staged struct{}

// Name implements Policy.
func (Staged) Name() string { return "ExponentialRetry" }

// Delay implements Policy.
func (Staged) Delay(cfg Config, attempt int) int {
	return StageDelay(cfg.Strategy, attempt)
}

// Defaults implements Policy.
func (Staged) Defaults() Config {
	return Config{Strategy: append([]int(nil), DefaultStrategy...)}
}

// DefaultLimit implements Policy: one retry per stage of the effective
// strategy.
func (Staged) DefaultLimit(cfg Config) int { return len(cfg.Strategy) }

// StageDelay returns strategy[min(attempt, len-1)], or 0 for an empty strategy.
func StageDelay(strategy []int, attempt int) int {
	if len(strategy) == 0 {
		return 0
	}
	if attempt < 0 {
		attempt = 0
	}
	if attempt < len(strategy)-1 {
		return strategy[attempt]
	}
	return strategy[len(strategy)-1]
}

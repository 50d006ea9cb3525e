// Package retry decides whether a failed job occurrence gets another
// chance and when.
//
// The engine counts attempts in a shared key-value store, evaluates the
// retry criteria configured by the job class, computes the backoff delay and
// either asks the worker to re-run the occurrence in place or hands a new
// occurrence to the delayed scheduler.
//
// Two plugins expose the engine to job classes:
//
//	"Retry"            fixed delay, default limit 1
//	"ExponentialRetry" staged delays 1s 5s 30s 1m 10m 1h 3h 6h, one retry per stage
//
// A job class opts in by declaring the plugin and may override any subset of
// limit, delay, strategy and retryable error matchers:
//
//	type Mailer struct{}
//
//	func (Mailer) Plugins() []string { return []string{"ExponentialRetry"} }
//	func (Mailer) RetryLimit(*job.Occurrence) int { return 3 }
//
// Attempt counters live in the store under RetryKey and are removed on
// success or when the retry budget is exhausted.
package retry

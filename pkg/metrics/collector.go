// Package metrics records cache, refresh and notification queue metrics.
// Prometheus is the active implementation; Nop is used when metrics are
// disabled so callers never need nil checks.
package metrics

import "time"

// Notification attempt outcomes.
const (
	OutcomeSent      = "sent"
	OutcomeRetry     = "retry"
	OutcomeFailed    = "failed"
	OutcomeCancelled = "cancelled"
)

// Collector is the metrics surface used by the cache, refresh job and queue.
// Implementations must be safe for concurrent use.
type Collector interface {
	// CacheLookup counts a cache read as a hit or a miss.
	CacheLookup(hit bool)

	// CacheRecompute observes one rule evaluation run by the cache.
	CacheRecompute(d time.Duration, err error)

	// RefreshRun observes a whole refresh job execution.
	RefreshRun(trigger string, d time.Duration, tenants, failures int)

	// NotificationEnqueued counts an accepted notification.
	NotificationEnqueued(priority string)

	// NotificationAttempt counts the outcome of a delivery attempt.
	NotificationAttempt(outcome string)

	// QueueDepth sets the number of queued notifications per status.
	QueueDepth(counts map[string]int)
}

// New returns a Prometheus collector when enabled, a Nop otherwise.
func New(enabled bool) Collector {
	if !enabled {
		return NewNop()
	}
	return NewPrometheus()
}

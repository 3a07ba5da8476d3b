package engine

import (
	"time"

	"courier-go/internal/config"
)

// RetryPolicy decides when a failed message becomes due again and when it
// stops being retried. The same policy applies to publish-side send
// failures and consume-side handler failures.
type RetryPolicy struct {
	// BurstRetries is how many early failures are re-armed immediately.
	BurstRetries int

	// Interval is the fixed cadence between attempts after the burst.
	Interval time.Duration

	// Lookback is the elapsed time since the message's creation at which
	// the fixed cadence begins.
	Lookback time.Duration

	// MaxRetries is the ceiling; the failure that reaches it is terminal.
	MaxRetries int
}

// PolicyFromConfig builds a retry policy from the application config.
func PolicyFromConfig(cfg *config.RetryConfig) RetryPolicy {
	return RetryPolicy{
		BurstRetries: cfg.BurstRetries,
		Interval:     cfg.Interval,
		Lookback:     cfg.Lookback,
		MaxRetries:   cfg.MaxRetries,
	}
}

// NextDue computes the next-attempt time after the given failure count.
// The first BurstRetries failures retry immediately; afterwards the
// message settles into the fixed cadence, which never starts before the
// lookback window since creation has elapsed.
func (p RetryPolicy) NextDue(addedAt time.Time, retries int, now time.Time) time.Time {
	if retries <= p.BurstRetries {
		return now
	}

	next := now.Add(p.Interval)
	if cadenceStart := addedAt.Add(p.Lookback); next.Before(cadenceStart) {
		next = cadenceStart
	}
	return next
}

// Exhausted reports whether a message with the given failure count is past
// retrying.
func (p RetryPolicy) Exhausted(retries int) bool {
	return retries >= p.MaxRetries
}

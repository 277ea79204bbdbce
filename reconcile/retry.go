/*
retry.go - Explicit retry policy for transient provider failures

PURPOSE:
  Retry is a value passed to the executor, not an annotation or decorator.
  The policy owns the arithmetic (exponential backoff with a cap); the
  executor owns the decision of WHICH errors retry (transient only).
*/
package reconcile

import "time"

// RetryPolicy controls how transient provider errors are retried.
type RetryPolicy struct {
	// MaxRetries is the number of retries AFTER the first attempt. A task
	// that always fails transiently is attempted MaxRetries+1 times.
	MaxRetries int
	// BaseDelay is the backoff before the first retry.
	BaseDelay time.Duration
	// BackoffFactor multiplies the delay per subsequent retry.
	BackoffFactor float64
	// MaxDelay caps the backoff. Zero means uncapped.
	MaxDelay time.Duration
}

func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxRetries:    3,
		BaseDelay:     500 * time.Millisecond,
		BackoffFactor: 2.0,
		MaxDelay:      30 * time.Second,
	}
}

// Delay returns the backoff before retry number `retry` (1-based).
func (rp RetryPolicy) Delay(retry int) time.Duration {
	if retry < 1 {
		return 0
	}
	d := float64(rp.BaseDelay)
	factor := rp.BackoffFactor
	if factor <= 0 {
		factor = 1
	}
	for i := 1; i < retry; i++ {
		d *= factor
	}
	delay := time.Duration(d)
	if rp.MaxDelay > 0 && delay > rp.MaxDelay {
		delay = rp.MaxDelay
	}
	return delay
}

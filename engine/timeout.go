package engine

import "time"

// TimeoutModel computes per-attempt and total wait bounds for a confirmed
// request (§4.4 "Send (confirmed)" step 2, §5 "Timeouts"): "A pending
// request's total wall-time bound equals timeout_model.request_timeout
// (retries, base_timeout); each attempt's bound is
// timeout_model.retry_timeout(attempt, retries, base_timeout); the default
// model makes both the sum of a constant base."
type TimeoutModel interface {
	// RetryTimeout returns how long to wait for attempt (0-indexed) out of
	// retries total retries, given the target's configured base timeout.
	RetryTimeout(attempt, retries int, base time.Duration) time.Duration

	// RequestTimeout returns the total wall-clock bound across every
	// attempt. The engine does not call it: SendSync returns when the
	// retry timers, armed with RetryTimeout per attempt, deliver the
	// terminal event (§4.4 "Sync wait").
	RequestTimeout(retries int, base time.Duration) time.Duration
}

// LinearTimeoutModel is the default (§4.4, §5): every attempt waits the
// same base timeout, and the total bound is (retries+1) attempts' worth.
type LinearTimeoutModel struct{}

func (LinearTimeoutModel) RetryTimeout(_, _ int, base time.Duration) time.Duration {
	return base
}

func (LinearTimeoutModel) RequestTimeout(retries int, base time.Duration) time.Duration {
	return time.Duration(retries+1) * base
}

// ExponentialTimeoutModel backs off each retry attempt: a fixed base
// doubled per attempt up to a cap, rather than a constant-base default;
// useful over higher-latency/lossier links where a flat per-attempt
// timeout wastes either time (too generous) or retries (too tight).
type ExponentialTimeoutModel struct {
	// Max caps the per-attempt wait so backoff doesn't run away; zero means
	// no cap.
	Max time.Duration
}

func (m ExponentialTimeoutModel) RetryTimeout(attempt, _ int, base time.Duration) time.Duration {
	d := base << uint(attempt)
	if m.Max > 0 && d > m.Max {
		return m.Max
	}
	return d
}

func (m ExponentialTimeoutModel) RequestTimeout(retries int, base time.Duration) time.Duration {
	var total time.Duration
	for attempt := 0; attempt <= retries; attempt++ {
		total += m.RetryTimeout(attempt, retries, base)
	}
	return total
}

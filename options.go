package truenas

import "time"

// CoordinatorOption configures coordinator behavior.
type CoordinatorOption func(*Coordinator)

// WithCalls replaces the default refresh batch. Keys must be distinct
// within the batch and from any other in-flight request key.
func WithCalls(calls []Call) CoordinatorOption {
	return func(c *Coordinator) {
		c.calls = calls
	}
}

// WithRefreshTimeout sets the aggregate timeout for one refresh
// batch. Members still pending when it elapses are cancelled; their
// cache slots keep the previous value.
func WithRefreshTimeout(d time.Duration) CoordinatorOption {
	return func(c *Coordinator) {
		if d > 0 {
			c.refreshTimeout = d
		}
	}
}

// WithReadyWait sets how Refresh waits for the session to become
// connected and authenticated: the poll interval and the maximum
// number of attempts before giving up for the cycle.
func WithReadyWait(interval time.Duration, attempts int) CoordinatorOption {
	return func(c *Coordinator) {
		if interval > 0 {
			c.readyInterval = interval
		}
		if attempts > 0 {
			c.readyAttempts = attempts
		}
	}
}

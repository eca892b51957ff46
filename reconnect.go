package truenas

import "time"

// backoff implements exponential backoff with a maximum delay and an
// optional cap on consecutive attempts.
type backoff struct {
	initial    time.Duration
	max        time.Duration
	factor     float64
	maxRetries int // 0 means unlimited
	count      int
}

func newBackoff(initial, max time.Duration, factor float64, maxRetries int) *backoff {
	return &backoff{
		initial:    initial,
		max:        max,
		factor:     factor,
		maxRetries: maxRetries,
	}
}

// next returns the delay before the upcoming attempt:
// min(initial * factor^failures, max).
func (b *backoff) next() time.Duration {
	d := b.initial
	for i := 0; i < b.count; i++ {
		d = time.Duration(float64(d) * b.factor)
		if d >= b.max {
			d = b.max
			break
		}
	}
	if d > b.max {
		d = b.max
	}
	b.count++
	return d
}

// exhausted reports whether the attempt cap has been reached.
func (b *backoff) exhausted() bool {
	return b.maxRetries > 0 && b.count >= b.maxRetries
}

// reset clears the failure count after a successful connection.
func (b *backoff) reset() {
	b.count = 0
}

// attempts returns the number of consecutive failures recorded.
func (b *backoff) attempts() int {
	return b.count
}

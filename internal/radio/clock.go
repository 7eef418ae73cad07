package radio

import "time"

// DefaultSpinThreshold is how close to a deadline the real clock stops
// sleeping and starts polling. time.Sleep routinely overshoots by more than a
// short pulse on a loaded Linux host.
const DefaultSpinThreshold = time.Millisecond

// Clock is the time source used to schedule pulse edges.
type Clock interface {
	// Now returns the current time.
	Now() time.Time

	// WaitUntil returns once the clock has reached deadline. It returns
	// immediately if the deadline has already passed.
	WaitUntil(deadline time.Time)
}

// SystemClock waits using the monotonic wall clock. It sleeps for the bulk of
// a wait and busy-polls for the last SpinThreshold.
type SystemClock struct {
	SpinThreshold time.Duration
}

// NewSystemClock returns a SystemClock with DefaultSpinThreshold.
func NewSystemClock() SystemClock {
	return SystemClock{SpinThreshold: DefaultSpinThreshold}
}

// Now returns time.Now().
func (SystemClock) Now() time.Time {
	return time.Now()
}

// WaitUntil blocks until deadline.
func (c SystemClock) WaitUntil(deadline time.Time) {
	for {
		remaining := time.Until(deadline)
		if remaining <= 0 {
			return
		}
		if remaining > c.SpinThreshold {
			time.Sleep(remaining - c.SpinThreshold)
			continue
		}
		for time.Now().Before(deadline) {
		}
		return
	}
}

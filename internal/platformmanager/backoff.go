package platformmanager

import (
	"time"

	"github.com/cenkalti/backoff/v4"
)

// ScheduleBackOff implements backoff.BackOff over a fixed, caller-supplied
// schedule rather than a growth rate: retry N waits scheduleMs[N] (clamped
// to the final entry once exhausted), matching the manager's reconnect
// schedule rather than a generic exponential curve.
type ScheduleBackOff struct {
	scheduleMs  []int64
	maxAttempts int
	attempt     int
}

var _ backoff.BackOff = (*ScheduleBackOff)(nil)

// NewScheduleBackOff builds a BackOff over scheduleMs, stopping
// (backoff.Stop) once maxAttempts NextBackOff calls have been made.
// maxAttempts <= 0 means unlimited.
func NewScheduleBackOff(scheduleMs []int64, maxAttempts int) *ScheduleBackOff {
	return &ScheduleBackOff{scheduleMs: scheduleMs, maxAttempts: maxAttempts}
}

// NextBackOff returns the wait for the next reconnect attempt, or
// backoff.Stop once maxAttempts has been reached.
func (b *ScheduleBackOff) NextBackOff() time.Duration {
	if b.maxAttempts > 0 && b.attempt >= b.maxAttempts {
		return backoff.Stop
	}
	idx := b.attempt
	if idx >= len(b.scheduleMs) {
		idx = len(b.scheduleMs) - 1
	}
	b.attempt++
	if idx < 0 {
		return backoff.Stop
	}
	return time.Duration(b.scheduleMs[idx]) * time.Millisecond
}

// Reset returns the schedule to its first entry, used when a platform
// reconnects successfully and later disconnects again.
func (b *ScheduleBackOff) Reset() {
	b.attempt = 0
}

// Attempt returns the number of NextBackOff calls made since the last
// Reset, for status reporting (reconnect_attempts).
func (b *ScheduleBackOff) Attempt() int {
	return b.attempt
}

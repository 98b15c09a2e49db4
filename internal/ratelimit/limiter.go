// Package ratelimit provides sliding-window rate limiting for command and
// proactive message handling.
package ratelimit

import (
	"sync"
	"time"
)

// Limiter is a sliding-window event counter. It allows at most `limit` events
// within any rolling `period`. A non-positive limit disables the limiter.
//
// Limiter is safe for concurrent use.
type Limiter struct {
	mu     sync.Mutex
	limit  int
	period time.Duration
	events []time.Time

	// now is overridable for tests.
	now func() time.Time
}

// New creates a sliding-window limiter allowing limit events per period.
func New(limit int, period time.Duration) *Limiter {
	return &Limiter{
		limit:  limit,
		period: period,
		now:    time.Now,
	}
}

// Allow reports whether another event fits in the current window and, if so,
// records it.
func (l *Limiter) Allow() bool {
	if l.limit <= 0 {
		return true
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	l.pruneLocked(now)

	if len(l.events) >= l.limit {
		return false
	}
	l.events = append(l.events, now)
	return true
}

// Remaining returns how many events still fit in the current window.
func (l *Limiter) Remaining() int {
	if l.limit <= 0 {
		return 1
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	l.pruneLocked(l.now())
	remaining := l.limit - len(l.events)
	if remaining < 0 {
		return 0
	}
	return remaining
}

// pruneLocked drops events older than the window. Must hold l.mu.
func (l *Limiter) pruneLocked(now time.Time) {
	cutoff := now.Add(-l.period)
	i := 0
	for i < len(l.events) && !l.events[i].After(cutoff) {
		i++
	}
	if i > 0 {
		l.events = append(l.events[:0], l.events[i:]...)
	}
}

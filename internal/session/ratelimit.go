package session

import (
	"sync"
	"time"
)

// RateLimiter is a fixed-size counter over a rolling window, one instance
// per session. Exceeding the budget defers the message (dropped, not
// queued); it never costs the connection.
type RateLimiter struct {
	limit  int
	window time.Duration

	mu     sync.Mutex
	stamps []time.Time
	now    func() time.Time
}

// NewRateLimiter allows limit messages per window.
func NewRateLimiter(limit int, window time.Duration) *RateLimiter {
	if limit <= 0 {
		limit = 20
	}
	if window <= 0 {
		window = time.Minute
	}
	return &RateLimiter{
		limit:  limit,
		window: window,
		now:    time.Now,
	}
}

// Allow records one message if quota remains and reports whether it was
// admitted.
func (l *RateLimiter) Allow() bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	l.prune(now)

	if len(l.stamps) >= l.limit {
		return false
	}
	l.stamps = append(l.stamps, now)
	return true
}

// RetryAfter returns how long until the oldest counted message leaves the
// window, rounded up to a whole second for the wire.
func (l *RateLimiter) RetryAfter() time.Duration {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	l.prune(now)

	if len(l.stamps) < l.limit {
		return 0
	}
	remaining := l.stamps[0].Add(l.window).Sub(now)
	if remaining < 0 {
		return 0
	}
	return remaining.Round(time.Second)
}

// prune drops timestamps older than the window. Callers hold l.mu.
func (l *RateLimiter) prune(now time.Time) {
	cutoff := now.Add(-l.window)
	kept := l.stamps[:0]
	for _, ts := range l.stamps {
		if ts.After(cutoff) {
			kept = append(kept, ts)
		}
	}
	l.stamps = kept
}

package service

import (
	"sync"
	"time"

	"beacon/internal/clock"
)

// emailRateLimiter is a fixed-window counter per email address. It bounds
// magic link requests so the mailer cannot be used to flood an inbox.
type emailRateLimiter struct {
	mu     sync.Mutex
	limit  int
	window time.Duration
	clock  clock.Clock
	counts map[string]*windowCount
}

type windowCount struct {
	windowStart time.Time
	n           int
}

func newEmailRateLimiter(limit int, window time.Duration, clk clock.Clock) *emailRateLimiter {
	return &emailRateLimiter{
		limit:  limit,
		window: window,
		clock:  clk,
		counts: make(map[string]*windowCount),
	}
}

// Allow records one request for the email and reports whether it is within
// the window limit.
func (l *emailRateLimiter) Allow(email string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.clock.Now()
	wc, ok := l.counts[email]
	if !ok || now.Sub(wc.windowStart) >= l.window {
		l.counts[email] = &windowCount{windowStart: now, n: 1}
		return true
	}
	if wc.n >= l.limit {
		return false
	}
	wc.n++
	return true
}

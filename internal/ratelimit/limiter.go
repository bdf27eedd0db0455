// Package ratelimit provides a rolling-window admission gate for
// rate-bounded benchmark batches.
package ratelimit

import (
	"context"
	"sync"
	"time"
)

// Limiter admits at most limit calls within any rolling window. Unlike a
// strict-interval limiter it allows bursts up to the full limit; the bound
// holds over every window-sized span rather than between consecutive
// permits. Admission is independent of how long admitted calls stay in
// flight.
type Limiter struct {
	mu     sync.Mutex
	limit  int
	window time.Duration

	// admissions holds the timestamps of live admissions, oldest first.
	// Length never exceeds limit.
	admissions []time.Time
}

// New creates a Limiter admitting limit calls per window.
func New(limit int, window time.Duration) *Limiter {
	if limit < 1 {
		limit = 1
	}
	if window <= 0 {
		window = time.Second
	}
	return &Limiter{
		limit:      limit,
		window:     window,
		admissions: make([]time.Time, 0, limit),
	}
}

// PerSecond creates a Limiter admitting limit calls in any rolling second.
func PerSecond(limit int) *Limiter {
	return New(limit, time.Second)
}

// Wait blocks until an admission slot is free or the context is cancelled.
// There is no release: a slot frees itself when its admission timestamp
// ages out of the window.
func (l *Limiter) Wait(ctx context.Context) error {
	for {
		l.mu.Lock()
		now := time.Now()
		l.expire(now)
		if len(l.admissions) < l.limit {
			l.admissions = append(l.admissions, now)
			l.mu.Unlock()
			return nil
		}
		// Sleep until the oldest admission leaves the window, then recheck:
		// another waiter may have claimed the freed slot first.
		wait := l.admissions[0].Add(l.window).Sub(now)
		l.mu.Unlock()

		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
}

// expire drops admissions that have aged out of the window.
// Caller must hold mu.
func (l *Limiter) expire(now time.Time) {
	cutoff := now.Add(-l.window)
	drop := 0
	for drop < len(l.admissions) && !l.admissions[drop].After(cutoff) {
		drop++
	}
	if drop > 0 {
		l.admissions = append(l.admissions[:0], l.admissions[drop:]...)
	}
}

// Limit returns the admission cap per window.
func (l *Limiter) Limit() int { return l.limit }

// Window returns the rolling window width.
func (l *Limiter) Window() time.Duration { return l.window }

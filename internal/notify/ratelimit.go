package notify

import (
	"sync"
	"time"
)

// Limiter is a sliding-window rate limiter for low-value notices (e.g.
// "real-time updates may be delayed") so a flapping link cannot flood the
// store. Domain notifications are never passed through a limiter.
type Limiter struct {
	mu           sync.Mutex
	maxPerWindow int
	window       time.Duration
	timestamps   []time.Time
	dropped      int64
}

// NewLimiter creates a limiter allowing maxPerWindow notices per window.
// Non-positive arguments fall back to 3 per 5 minutes.
func NewLimiter(maxPerWindow int, window time.Duration) *Limiter {
	if maxPerWindow <= 0 {
		maxPerWindow = 3
	}
	if window <= 0 {
		window = 5 * time.Minute
	}
	return &Limiter{
		maxPerWindow: maxPerWindow,
		window:       window,
		timestamps:   make([]time.Time, 0, maxPerWindow),
	}
}

// Allow reports whether another notice fits in the current window and, if
// so, consumes a slot.
func (l *Limiter) Allow() bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	cutoff := time.Now().Add(-l.window)
	kept := l.timestamps[:0]
	for _, ts := range l.timestamps {
		if ts.After(cutoff) {
			kept = append(kept, ts)
		}
	}
	l.timestamps = kept

	if len(l.timestamps) >= l.maxPerWindow {
		l.dropped++
		return false
	}

	l.timestamps = append(l.timestamps, time.Now())
	return true
}

// Dropped returns how many notices the limiter has suppressed.
func (l *Limiter) Dropped() int64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.dropped
}

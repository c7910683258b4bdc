package realtime

import (
	"sync"
	"time"
)

// Backoff computes reconnect delays: initial * 2^(attempt-1), capped at Max.
// The attempt counter is incremented by Next and reset to zero on a
// successful connection.
type Backoff struct {
	Initial time.Duration // delay unit (default: 1s)
	Max     time.Duration // cap (default: 30s)

	attempt int
	mu      sync.Mutex
}

// NewBackoff creates a Backoff with the given bounds, applying defaults for
// non-positive values.
func NewBackoff(initial, max time.Duration) *Backoff {
	if initial <= 0 {
		initial = time.Second
	}
	if max <= 0 {
		max = 30 * time.Second
	}
	return &Backoff{Initial: initial, Max: max}
}

// Next increments the attempt counter and returns the delay before that
// attempt: Initial * 2^(attempt-1).
func (b *Backoff) Next() time.Duration {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.attempt++
	delay := b.Initial << (b.attempt - 1)
	if delay > b.Max || delay <= 0 {
		delay = b.Max
	}
	return delay
}

// Reset resets the attempt counter to zero.
func (b *Backoff) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.attempt = 0
}

// Attempt returns the current attempt number.
func (b *Backoff) Attempt() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.attempt
}

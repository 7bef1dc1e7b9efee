package connection

import (
	"sync"
	"time"
)

// DefaultBackoff is the fixed wait between gate link attempts.
const DefaultBackoff = 5 * time.Second

// Backoff hands out a fixed wait delay and counts the attempts since the
// last success.
type Backoff struct {
	mu       sync.Mutex
	delay    time.Duration
	attempts int
}

// NewBackoff creates a backoff waiting d between attempts. A non-positive d
// defaults to DefaultBackoff.
func NewBackoff(d time.Duration) *Backoff {
	if d <= 0 {
		d = DefaultBackoff
	}
	return &Backoff{delay: d}
}

// Next counts an attempt and returns its delay.
func (b *Backoff) Next() time.Duration {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.attempts++
	return b.delay
}

// Reset clears the attempt count after a successful connection.
func (b *Backoff) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.attempts = 0
}

// Attempts returns the number of delays handed out since the last reset.
func (b *Backoff) Attempts() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.attempts
}

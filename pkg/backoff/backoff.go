package backoff

import (
	"context"
	"math/rand"
	"time"
)

// Backoff implements exponential backoff with jitter.
type Backoff struct {
	// retries is the maximum number of attempts.
	retries    int
	minBackoff time.Duration
	maxBackoff time.Duration

	// attempts is the number of attempts so far.
	attempts    int
	lastBackoff time.Duration
}

// New creates a new backoff.
//
// Set 'retries' to zero to retry forever.
func New(retries int, minBackoff time.Duration, maxBackoff time.Duration) *Backoff {
	return &Backoff{
		retries:    retries,
		minBackoff: minBackoff,
		maxBackoff: maxBackoff,
		attempts:   0,
	}
}

// Wait blocks until the next retry. Returns false if the number of retries has
// been reached or the context is cancelled so the caller should stop.
func (b *Backoff) Wait(ctx context.Context) bool {
	if b.retries != 0 && b.attempts >= b.retries {
		return false
	}
	b.attempts++

	b.lastBackoff = b.nextWait()

	select {
	case <-time.After(b.lastBackoff):
		return true
	case <-ctx.Done():
		return false
	}
}

// Reset resets the backoff after a successful attempt.
func (b *Backoff) Reset() {
	b.attempts = 0
	b.lastBackoff = 0
}

// Attempts returns the number of attempts since the last reset.
func (b *Backoff) Attempts() int {
	return b.attempts
}

// nextWait doubles the last wait, starting at minBackoff, with up to 10%
// jitter. The wait never exceeds maxBackoff.
func (b *Backoff) nextWait() time.Duration {
	backoff := b.minBackoff
	if b.lastBackoff != 0 {
		backoff = b.lastBackoff * 2
	}

	jitter := 1.0 + (rand.Float64() * 0.1)
	return min(time.Duration(float64(backoff)*jitter), b.maxBackoff)
}

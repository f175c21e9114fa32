package scheduler

import (
	"math/rand"
	"sync"
	"time"
)

// Backoff computes retry delays: exponential in the attempt count, capped at
// Max, with up to 50% random jitter so retries do not line up.
type Backoff struct {
	Base time.Duration
	Max  time.Duration

	mu  sync.Mutex
	rng *rand.Rand
}

// NewBackoff creates a backoff policy.
func NewBackoff(base, max time.Duration) *Backoff {
	if base <= 0 {
		base = time.Second
	}
	if max < base {
		max = base
	}
	return &Backoff{
		Base: base,
		Max:  max,
		rng:  rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

// Delay returns the wait before re-enqueueing after the given completed
// attempt count (attempt >= 1).
func (b *Backoff) Delay(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	d := b.Base
	for i := 1; i < attempt; i++ {
		d *= 2
		if d >= b.Max {
			d = b.Max
			break
		}
	}
	if d > b.Max {
		d = b.Max
	}

	b.mu.Lock()
	jitter := time.Duration(b.rng.Int63n(int64(d)/2 + 1))
	b.mu.Unlock()

	if d+jitter > b.Max {
		return b.Max
	}
	return d + jitter
}

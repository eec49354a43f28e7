package ratelimit

import (
	"context"
	"math/rand"
	"sync"
	"time"
)

// Limiter spaces actions apart by a random delay between minDelay and
// maxDelay. A zero delay disables it.
type Limiter struct {
	mu       sync.Mutex
	minDelay time.Duration
	maxDelay time.Duration
	next     time.Time
	jitter   func(n int64) int64
}

func New(minDelay, maxDelay time.Duration) *Limiter {
	if maxDelay < minDelay {
		maxDelay = minDelay
	}
	return &Limiter{
		minDelay: minDelay,
		maxDelay: maxDelay,
		jitter:   rand.Int63n,
	}
}

// Wait blocks until the caller's turn. Turns are handed out in call order, so
// concurrent callers are released one delay apart instead of all at once.
func (l *Limiter) Wait(ctx context.Context) error {
	l.mu.Lock()
	now := time.Now()
	slot := l.next
	if slot.Before(now) {
		slot = now
	}
	l.next = slot.Add(l.delay())
	l.mu.Unlock()

	wait := time.Until(slot)
	if wait <= 0 {
		return ctx.Err()
	}

	timer := time.NewTimer(wait)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

func (l *Limiter) delay() time.Duration {
	if l.maxDelay <= l.minDelay {
		return l.minDelay
	}
	return l.minDelay + time.Duration(l.jitter(int64(l.maxDelay-l.minDelay)))
}

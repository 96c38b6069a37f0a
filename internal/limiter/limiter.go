// Package limiter provides the two limiter shapes used in front of every
// provider client: bounded concurrency, and bounded concurrency with a
// minimum delay between successive starts.
package limiter

import (
	"container/list"
	"context"
	"sync"
	"sync/atomic"
	"time"
)

// Limiter admits at most N operations concurrently. Waiting submissions
// are admitted in FIFO order. Cancellation is by caller context; work that
// has already started runs to completion.
type Limiter struct {
	mu      sync.Mutex
	slots   int
	waiters *list.List // of chan struct{}

	active  atomic.Int64
	pending atomic.Int64
}

// New creates a limiter with the given concurrency, at least 1.
func New(concurrency int) *Limiter {
	if concurrency < 1 {
		concurrency = 1
	}
	return &Limiter{slots: concurrency, waiters: list.New()}
}

// Do runs fn once a slot is available, or returns the context error when
// the caller gives up while queued.
func (l *Limiter) Do(ctx context.Context, fn func(ctx context.Context) error) error {
	if err := l.acquire(ctx); err != nil {
		return err
	}
	defer l.release()

	l.active.Add(1)
	defer l.active.Add(-1)
	return fn(ctx)
}

// ActiveCount reports operations currently running.
func (l *Limiter) ActiveCount() int { return int(l.active.Load()) }

// PendingCount reports submissions waiting for a slot.
func (l *Limiter) PendingCount() int { return int(l.pending.Load()) }

func (l *Limiter) acquire(ctx context.Context) error {
	l.mu.Lock()
	if l.slots > 0 {
		l.slots--
		l.mu.Unlock()
		return nil
	}

	ready := make(chan struct{})
	elem := l.waiters.PushBack(ready)
	l.pending.Add(1)
	l.mu.Unlock()

	select {
	case <-ready:
		l.pending.Add(-1)
		return nil
	case <-ctx.Done():
		l.mu.Lock()
		select {
		case <-ready:
			// Slot was granted between ctx.Done and lock; pass it on.
			l.mu.Unlock()
			l.pending.Add(-1)
			l.release()
			return ctx.Err()
		default:
		}
		l.waiters.Remove(elem)
		l.mu.Unlock()
		l.pending.Add(-1)
		return ctx.Err()
	}
}

func (l *Limiter) release() {
	l.mu.Lock()
	defer l.mu.Unlock()

	if front := l.waiters.Front(); front != nil {
		l.waiters.Remove(front)
		close(front.Value.(chan struct{}))
		return
	}
	l.slots++
}

// Throttled is a Limiter that additionally enforces a minimum elapsed time
// between the starts of successive operations. lastStart moves at the
// moment work begins, not at submit.
type Throttled struct {
	*Limiter
	minDelay  time.Duration
	startMu   sync.Mutex
	lastStart time.Time
}

// NewThrottled creates a throttled limiter. minDelay of zero behaves
// identically to the plain concurrency limiter.
func NewThrottled(concurrency int, minDelay time.Duration) *Throttled {
	if minDelay < 0 {
		minDelay = 0
	}
	return &Throttled{Limiter: New(concurrency), minDelay: minDelay}
}

// Do admits fn through the concurrency gate and then sleeps off any
// remaining start-delay deficit before running it.
func (t *Throttled) Do(ctx context.Context, fn func(ctx context.Context) error) error {
	return t.Limiter.Do(ctx, func(ctx context.Context) error {
		if err := t.pace(ctx); err != nil {
			return err
		}
		return fn(ctx)
	})
}

func (t *Throttled) pace(ctx context.Context) error {
	if t.minDelay == 0 {
		return nil
	}
	for {
		t.startMu.Lock()
		now := time.Now()
		wait := t.minDelay - now.Sub(t.lastStart)
		if wait <= 0 {
			t.lastStart = now
			t.startMu.Unlock()
			return nil
		}
		t.startMu.Unlock()

		timer := time.NewTimer(wait)
		select {
		case <-timer.C:
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		}
	}
}

package limiter

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func TestConcurrencyBound(t *testing.T) {
	l := New(3)

	var active, peak int64
	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = l.Do(context.Background(), func(ctx context.Context) error {
				n := atomic.AddInt64(&active, 1)
				for {
					p := atomic.LoadInt64(&peak)
					if n <= p || atomic.CompareAndSwapInt64(&peak, p, n) {
						break
					}
				}
				time.Sleep(5 * time.Millisecond)
				atomic.AddInt64(&active, -1)
				return nil
			})
		}()
	}
	wg.Wait()

	if got := atomic.LoadInt64(&peak); got > 3 {
		t.Errorf("peak concurrency %d exceeds limit 3", got)
	}
}

func TestCountsDrainToZero(t *testing.T) {
	l := New(2)

	var wg sync.WaitGroup
	for i := 0; i < 6; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = l.Do(context.Background(), func(ctx context.Context) error {
				time.Sleep(5 * time.Millisecond)
				return nil
			})
		}()
	}
	wg.Wait()

	if l.ActiveCount() != 0 || l.PendingCount() != 0 {
		t.Errorf("active=%d pending=%d after drain", l.ActiveCount(), l.PendingCount())
	}
}

func TestCanceledWhileQueued(t *testing.T) {
	l := New(1)

	release := make(chan struct{})
	started := make(chan struct{})
	go l.Do(context.Background(), func(ctx context.Context) error {
		close(started)
		<-release
		return nil
	})
	<-started

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() {
		errCh <- l.Do(ctx, func(ctx context.Context) error { return nil })
	}()

	time.Sleep(5 * time.Millisecond)
	cancel()
	if err := <-errCh; err != context.Canceled {
		t.Errorf("queued caller should observe context.Canceled, got %v", err)
	}

	close(release)
	time.Sleep(5 * time.Millisecond)

	// The slot must still be usable after an abandoned waiter.
	if err := l.Do(context.Background(), func(ctx context.Context) error { return nil }); err != nil {
		t.Errorf("limiter unusable after cancellation: %v", err)
	}
}

func TestThrottledMinDelayBetweenStarts(t *testing.T) {
	tl := NewThrottled(4, 30*time.Millisecond)

	var mu sync.Mutex
	var starts []time.Time
	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = tl.Do(context.Background(), func(ctx context.Context) error {
				mu.Lock()
				starts = append(starts, time.Now())
				mu.Unlock()
				return nil
			})
		}()
	}
	wg.Wait()

	mu.Lock()
	defer mu.Unlock()
	for i := 1; i < len(starts); i++ {
		gap := starts[i].Sub(starts[i-1])
		if gap < 25*time.Millisecond { // small scheduling slack
			t.Errorf("starts %d and %d only %v apart", i-1, i, gap)
		}
	}
}

func TestThrottledZeroDelayActsAsPlainLimiter(t *testing.T) {
	tl := NewThrottled(2, 0)

	start := time.Now()
	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = tl.Do(context.Background(), func(ctx context.Context) error { return nil })
		}()
	}
	wg.Wait()

	if elapsed := time.Since(start); elapsed > 100*time.Millisecond {
		t.Errorf("zero min-delay should not throttle, took %v", elapsed)
	}
}

package sqlqueue

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

func TestThrottleDefaultLimit(t *testing.T) {
	if got := NewThrottle(0).Limit(); got != DefaultMaxConcurrentReceives {
		t.Fatalf("expected default limit %d, got %d", DefaultMaxConcurrentReceives, got)
	}
}

func TestThrottleNeverExceedsLimit(t *testing.T) {
	throttle := NewThrottle(3)

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			release, err := throttle.Acquire(context.Background())
			if err != nil {
				t.Errorf("acquire: %v", err)

				return
			}
			if n := throttle.InFlight(); n > 3 {
				t.Errorf("in flight %d exceeds limit", n)
			}
			time.Sleep(time.Millisecond)
			release()
		}()
	}
	wg.Wait()

	if throttle.Peak() > 3 {
		t.Fatalf("expected peak <= 3, got %d", throttle.Peak())
	}
	if throttle.InFlight() != 0 {
		t.Fatalf("expected no holders, got %d", throttle.InFlight())
	}
}

func TestThrottleCanceledWaitDoesNotLeak(t *testing.T) {
	throttle := NewThrottle(1)
	release, err := throttle.Acquire(context.Background())
	if err != nil {
		t.Fatalf("acquire: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	if _, err := throttle.Acquire(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline exceeded, got %v", err)
	}
	if throttle.InFlight() != 1 {
		t.Fatalf("expected one holder, got %d", throttle.InFlight())
	}

	release()
	release()
	if throttle.InFlight() != 0 {
		t.Fatalf("expected double release to be a no-op, got %d holders", throttle.InFlight())
	}

	next, err := throttle.Acquire(context.Background())
	if err != nil {
		t.Fatalf("expected slot after release: %v", err)
	}
	next()
}

func TestThrottleCanceledContextAcquiresNothing(t *testing.T) {
	throttle := NewThrottle(2)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if _, err := throttle.Acquire(ctx); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected canceled, got %v", err)
	}
	if throttle.InFlight() != 0 {
		t.Fatalf("expected no holders, got %d", throttle.InFlight())
	}
}

func TestThrottleScopedPerTransport(t *testing.T) {
	d := newMemDialect()
	a := newTestTransport(d, "a", WithMaxConcurrency(1))
	b := newTestTransport(d, "b", WithMaxConcurrency(1))
	if a.Throttle() == b.Throttle() {
		t.Fatalf("expected independent throttles")
	}

	shared := NewThrottle(5)
	c := newTestTransport(d, "c", WithThrottle(shared))
	e := newTestTransport(d, "e", WithThrottle(shared))
	if c.Throttle() != e.Throttle() {
		t.Fatalf("expected shared throttle")
	}
}

package sqlqueue

import (
	"context"
	"sync"
	"sync/atomic"

	"golang.org/x/sync/semaphore"
)

// Throttle bounds the number of concurrent receives.
type Throttle struct {
	sem      *semaphore.Weighted
	limit    int
	inFlight atomic.Int64
	peak     atomic.Int64
}

// NewThrottle creates a throttle admitting up to limit holders.
// A non-positive limit uses DefaultMaxConcurrentReceives.
func NewThrottle(limit int) *Throttle {
	if limit <= 0 {
		limit = DefaultMaxConcurrentReceives
	}

	return &Throttle{sem: semaphore.NewWeighted(int64(limit)), limit: limit}
}

// Acquire waits for a free slot. On success the returned release func must be
// called once the guarded work is done; calling it again is a no-op. When ctx is
// done before a slot is granted, Acquire returns ctx.Err() and holds nothing.
func (t *Throttle) Acquire(ctx context.Context) (func(), error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := t.sem.Acquire(ctx, 1); err != nil {
		return nil, err
	}
	// Acquire may succeed on an already canceled context.
	if err := ctx.Err(); err != nil {
		t.sem.Release(1)

		return nil, err
	}

	n := t.inFlight.Add(1)
	for {
		peak := t.peak.Load()
		if n <= peak || t.peak.CompareAndSwap(peak, n) {
			break
		}
	}

	var once sync.Once

	return func() {
		once.Do(func() {
			t.inFlight.Add(-1)
			t.sem.Release(1)
		})
	}, nil
}

// Limit returns the maximum number of holders.
func (t *Throttle) Limit() int {
	return t.limit
}

// InFlight returns the current number of holders.
func (t *Throttle) InFlight() int {
	return int(t.inFlight.Load())
}

// Peak returns the highest number of simultaneous holders observed.
func (t *Throttle) Peak() int {
	return int(t.peak.Load())
}

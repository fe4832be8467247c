// Package queuetest holds the behavioral suite every sqlqueue backend must pass.
package queuetest

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/velmie/sqlqueue"
)

// Opener opens a transport over the table prepared by Setup.
type Opener func(address string, opts ...sqlqueue.Option) (*sqlqueue.Transport, error)

// Env describes one freshly created, empty message table.
type Env struct {
	Open Opener
	// ConcurrentTransactions is false for stores that serialize all transactions
	// (SQLite with a single connection); tests that hold two transactions open at
	// once are skipped for them.
	ConcurrentTransactions bool
}

// Setup prepares a new Env for every subtest.
type Setup func(t *testing.T) Env

// Clock is a manually advanced clock.
type Clock struct {
	mu  sync.Mutex
	now time.Time
}

// NewClock returns a clock stopped at a fixed instant.
func NewClock() *Clock {
	return &Clock{now: time.Date(2024, time.June, 1, 8, 0, 0, 0, time.UTC)}
}

// Now implements sqlqueue.Clock.
func (c *Clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.now
}

// Advance moves the clock forward.
func (c *Clock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.now = c.now.Add(d)
}

// Run executes the suite.
func Run(t *testing.T, setup Setup) {
	t.Run("EnsureSchemaIdempotent", func(t *testing.T) { testEnsureSchema(t, setup(t)) })
	t.Run("PriorityOrder", func(t *testing.T) { testPriorityOrder(t, setup(t)) })
	t.Run("ExampleScenario", func(t *testing.T) { testExampleScenario(t, setup(t)) })
	t.Run("HeadersRoundTrip", func(t *testing.T) { testHeadersRoundTrip(t, setup(t)) })
	t.Run("VisibilityDelay", func(t *testing.T) { testVisibilityDelay(t, setup(t)) })
	t.Run("DeferredDelivery", func(t *testing.T) { testDeferredDelivery(t, setup(t)) })
	t.Run("ExpirationAndSweep", func(t *testing.T) { testExpirationAndSweep(t, setup(t)) })
	t.Run("RollbackRedelivery", func(t *testing.T) { testRollbackRedelivery(t, setup(t)) })
	t.Run("RecipientsAreIsolated", func(t *testing.T) { testRecipientsIsolated(t, setup(t)) })
	t.Run("NoDoubleDelivery", func(t *testing.T) { testNoDoubleDelivery(t, setup(t)) })
	t.Run("SkipLocked", func(t *testing.T) { testSkipLocked(t, setup(t)) })
	t.Run("PendingCount", func(t *testing.T) { testPendingCount(t, setup(t)) })
	t.Run("Receiver", func(t *testing.T) { testReceiver(t, setup(t)) })
	t.Run("ReceiverReplyJoinsTransaction", func(t *testing.T) { testReceiverReply(t, setup(t)) })
}

func open(t *testing.T, env Env, address string, opts ...sqlqueue.Option) *sqlqueue.Transport {
	t.Helper()

	tr, err := env.Open(address, opts...)
	require.NoError(t, err)

	return tr
}

// Send sends one message in its own committed transaction.
func Send(t *testing.T, tr *sqlqueue.Transport, destination string, body string, headers map[string]string) {
	t.Helper()

	ctx := context.Background()
	conn, err := tr.Begin(ctx)
	require.NoError(t, err)
	defer conn.Close()
	require.NoError(t, tr.Send(ctx, conn, destination, sqlqueue.Message{Headers: headers, Body: []byte(body)}))
	require.NoError(t, conn.Complete())
}

// ReceiveBodies drains the queue with committed receives and returns the bodies in order.
func ReceiveBodies(t *testing.T, tr *sqlqueue.Transport) []string {
	t.Helper()

	ctx := context.Background()
	var bodies []string
	for {
		conn, err := tr.Begin(ctx)
		require.NoError(t, err)
		msg, err := tr.Receive(ctx, conn)
		if err != nil || msg == nil {
			require.NoError(t, conn.Close())
			require.NoError(t, err)

			return bodies
		}
		bodies = append(bodies, string(msg.Body))
		require.NoError(t, conn.Complete())
	}
}

func priority(p int32) map[string]string {
	headers := map[string]string{}
	sqlqueue.SetPriority(headers, p)

	return headers
}

func testEnsureSchema(t *testing.T, env Env) {
	tr := open(t, env, "q")
	require.NoError(t, tr.EnsureSchema(context.Background()))
	require.NoError(t, tr.EnsureSchema(context.Background()))
}

func testPriorityOrder(t *testing.T, env Env) {
	tr := open(t, env, "q")
	for i, p := range []int32{5, 1, 5, 0} {
		Send(t, tr, "q", string(rune('a'+i)), priority(p))
	}

	require.Equal(t, []string{"d", "b", "a", "c"}, ReceiveBodies(t, tr))
}

func testExampleScenario(t *testing.T, env Env) {
	tr := open(t, env, "Q")
	Send(t, tr, "Q", "A", priority(2))
	Send(t, tr, "Q", "B", priority(1))
	Send(t, tr, "Q", "C", priority(1))

	require.Equal(t, []string{"B", "C", "A"}, ReceiveBodies(t, tr))
}

func testHeadersRoundTrip(t *testing.T, env Env) {
	clock := NewClock()
	tr := open(t, env, "q", sqlqueue.WithClock(clock))
	headers := map[string]string{"content-type": "text/plain", sqlqueue.HeaderDeferredRecipient: "q"}
	sqlqueue.SetDeferUntil(headers, clock.Now().Add(-time.Second))
	sqlqueue.SetTimeToLive(headers, time.Hour)
	Send(t, tr, sqlqueue.DeferredDeliveryAddress, "x", headers)

	ctx := context.Background()
	conn, err := tr.Begin(ctx)
	require.NoError(t, err)
	defer conn.Close()
	msg, err := tr.Receive(ctx, conn)
	require.NoError(t, err)
	require.NotNil(t, msg)
	require.Positive(t, msg.ID)
	require.Equal(t, "x", string(msg.Body))
	require.Equal(t, "text/plain", msg.Headers["content-type"])
	require.Equal(t, "1h0m0s", msg.Headers[sqlqueue.HeaderTimeToLive])
	require.NotContains(t, msg.Headers, sqlqueue.HeaderDeferUntil)
	require.NoError(t, conn.Complete())
}

func testVisibilityDelay(t *testing.T, env Env) {
	clock := NewClock()
	tr := open(t, env, "q", sqlqueue.WithClock(clock))
	headers := map[string]string{}
	sqlqueue.SetDeferUntil(headers, clock.Now().Add(time.Minute))
	Send(t, tr, "q", "later", headers)

	require.Empty(t, ReceiveBodies(t, tr))
	clock.Advance(59 * time.Second)
	require.Empty(t, ReceiveBodies(t, tr))
	clock.Advance(time.Second)
	require.Equal(t, []string{"later"}, ReceiveBodies(t, tr))
}

func testDeferredDelivery(t *testing.T, env Env) {
	clock := NewClock()
	timeouts := open(t, env, "timeouts", sqlqueue.WithClock(clock))
	q := open(t, env, "q", sqlqueue.WithClock(clock))

	headers := map[string]string{sqlqueue.HeaderDeferredRecipient: "q"}
	sqlqueue.SetDeferUntil(headers, clock.Now().Add(time.Minute))
	Send(t, timeouts, sqlqueue.DeferredDeliveryAddress, "due", headers)

	require.Empty(t, ReceiveBodies(t, timeouts))
	require.Empty(t, ReceiveBodies(t, q))
	clock.Advance(time.Minute)
	require.Equal(t, []string{"due"}, ReceiveBodies(t, q))
}

func testExpirationAndSweep(t *testing.T, env Env) {
	clock := NewClock()
	tr := open(t, env, "q", sqlqueue.WithClock(clock))
	for i := 0; i < 3; i++ {
		headers := map[string]string{}
		sqlqueue.SetTimeToLive(headers, time.Second)
		Send(t, tr, "q", "expiring", headers)
	}
	Send(t, tr, "q", "keep", nil)

	clock.Advance(time.Second)

	// The expired rows precede "keep" in (priority, id) order.
	ctx := context.Background()
	conn, err := tr.Begin(ctx)
	require.NoError(t, err)
	msg, err := tr.Receive(ctx, conn)
	require.NoError(t, err)
	require.NotNil(t, msg)
	require.Equal(t, "keep", string(msg.Body))
	require.NoError(t, conn.Close())

	sweeper, err := sqlqueue.NewSweeper(tr)
	require.NoError(t, err)
	removed, err := sweeper.SweepOnce(ctx)
	require.NoError(t, err)
	require.EqualValues(t, 3, removed)

	require.Equal(t, []string{"keep"}, ReceiveBodies(t, tr))
}

func testRollbackRedelivery(t *testing.T, env Env) {
	tr := open(t, env, "q")
	Send(t, tr, "q", "x", nil)

	ctx := context.Background()
	conn, err := tr.Begin(ctx)
	require.NoError(t, err)
	first, err := tr.Receive(ctx, conn)
	require.NoError(t, err)
	require.NotNil(t, first)
	require.NoError(t, conn.Close())

	conn, err = tr.Begin(ctx)
	require.NoError(t, err)
	defer conn.Close()
	second, err := tr.Receive(ctx, conn)
	require.NoError(t, err)
	require.NotNil(t, second)
	require.Equal(t, first.ID, second.ID)
	require.NoError(t, conn.Complete())
}

func testRecipientsIsolated(t *testing.T, env Env) {
	a := open(t, env, "a")
	b := open(t, env, "b")
	Send(t, a, "b", "for-b", nil)
	Send(t, b, "a", "for-a", nil)

	require.Equal(t, []string{"for-a"}, ReceiveBodies(t, a))
	require.Equal(t, []string{"for-b"}, ReceiveBodies(t, b))
}

func testNoDoubleDelivery(t *testing.T, env Env) {
	tr := open(t, env, "q")
	const messages = 30
	for i := 0; i < messages; i++ {
		Send(t, tr, "q", "m", nil)
	}

	var (
		mu   sync.Mutex
		seen = map[int64]int{}
		errs []error
		wg   sync.WaitGroup
	)
	ctx := context.Background()
	for w := 0; w < 6; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				conn, err := tr.Begin(ctx)
				if err != nil {
					mu.Lock()
					errs = append(errs, err)
					mu.Unlock()

					return
				}
				msg, err := tr.Receive(ctx, conn)
				if err == nil && msg != nil {
					err = conn.Complete()
				}
				_ = conn.Close()
				mu.Lock()
				if err != nil {
					errs = append(errs, err)
				} else if msg != nil {
					seen[msg.ID]++
				}
				mu.Unlock()
				if err != nil || msg == nil {
					return
				}
			}
		}()
	}
	wg.Wait()

	require.Empty(t, errs)
	require.Len(t, seen, messages)
	for id, n := range seen {
		require.Equalf(t, 1, n, "message %d delivered %d times", id, n)
	}
	require.Empty(t, ReceiveBodies(t, tr))
}

func testSkipLocked(t *testing.T, env Env) {
	if !env.ConcurrentTransactions {
		t.Skip("store serializes transactions")
	}

	tr := open(t, env, "q")
	Send(t, tr, "q", "first", priority(0))
	Send(t, tr, "q", "second", priority(0))

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	c1, err := tr.Begin(ctx)
	require.NoError(t, err)
	defer c1.Close()
	m1, err := tr.Receive(ctx, c1)
	require.NoError(t, err)
	require.NotNil(t, m1)

	c2, err := tr.Begin(ctx)
	require.NoError(t, err)
	defer c2.Close()
	m2, err := tr.Receive(ctx, c2)
	require.NoError(t, err)
	require.NotNil(t, m2)
	require.NotEqual(t, m1.ID, m2.ID)

	c3, err := tr.Begin(ctx)
	require.NoError(t, err)
	defer c3.Close()
	m3, err := tr.Receive(ctx, c3)
	require.NoError(t, err)
	require.Nil(t, m3)

	require.NoError(t, c1.Close())
	require.NoError(t, c2.Complete())
	require.Equal(t, []string{string(m1.Body)}, ReceiveBodies(t, tr))
}

func testPendingCount(t *testing.T, env Env) {
	clock := NewClock()
	tr := open(t, env, "q", sqlqueue.WithClock(clock))
	deferred := map[string]string{}
	sqlqueue.SetDeferUntil(deferred, clock.Now().Add(time.Hour))
	Send(t, tr, "q", "now", nil)
	Send(t, tr, "q", "now", nil)
	Send(t, tr, "q", "later", deferred)
	Send(t, tr, "other", "elsewhere", nil)

	count, err := tr.PendingCount(context.Background())
	require.NoError(t, err)
	require.Equal(t, 2, count)
}

func testReceiver(t *testing.T, env Env) {
	tr := open(t, env, "q")
	for i := 0; i < 5; i++ {
		Send(t, tr, "q", "m", nil)
	}
	Send(t, tr, "q", "poison", priority(-1))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var (
		mu      sync.Mutex
		handled int
		poison  int
	)
	receiver := sqlqueue.NewReceiver(tr, sqlqueue.HandlerFunc(func(_ context.Context, msg *sqlqueue.Message) error {
		mu.Lock()
		defer mu.Unlock()
		if string(msg.Body) == "poison" {
			poison++
			if poison == 1 {
				return errors.New("first attempt fails")
			}
		}
		handled++

		return nil
	}), sqlqueue.WithWorkers(2), sqlqueue.WithPollInterval(5*time.Millisecond))

	done := make(chan error, 1)
	go func() { done <- receiver.Run(ctx) }()

	require.Eventually(t, func() bool {
		count, err := tr.PendingCount(context.Background())
		return err == nil && count == 0
	}, 10*time.Second, 10*time.Millisecond)
	cancel()
	require.NoError(t, <-done)

	mu.Lock()
	defer mu.Unlock()
	require.Equal(t, 6, handled)
	require.Equal(t, 2, poison)
}

func testReceiverReply(t *testing.T, env Env) {
	tr := open(t, env, "q")
	replies := open(t, env, "replies")
	Send(t, tr, "q", "ok", priority(0))
	Send(t, tr, "q", "fail", priority(1))

	receiver := sqlqueue.NewReceiver(tr, sqlqueue.HandlerFunc(func(ctx context.Context, msg *sqlqueue.Message) error {
		conn, ok := sqlqueue.ConnFromContext(ctx)
		if !ok {
			return errors.New("no receive conn")
		}
		reply := sqlqueue.Message{Body: append([]byte("re:"), msg.Body...)}
		if err := tr.Send(ctx, conn, "replies", reply); err != nil {
			return err
		}
		if string(msg.Body) == "fail" {
			return errors.New("handler failed after sending")
		}

		return nil
	}))

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	handled, err := receiver.ProcessOnce(ctx)
	require.NoError(t, err)
	require.True(t, handled)
	handled, err = receiver.ProcessOnce(ctx)
	require.NoError(t, err)
	require.False(t, handled)

	require.Equal(t, []string{"re:ok"}, ReceiveBodies(t, replies))
	require.Equal(t, []string{"fail"}, ReceiveBodies(t, tr))
}

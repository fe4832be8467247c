package sqlqueue

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"
)

const (
	defaultPollInterval = 50 * time.Millisecond
	defaultWorkers      = 1
)

// ReceiverConfig defines how the Receiver polls and processes messages.
type ReceiverConfig struct {
	PollInterval    time.Duration
	Workers         int
	HandlerTimeout  time.Duration
	PendingInterval time.Duration
	ErrorHandler    FailureHandler
}

func (c ReceiverConfig) withDefaults() ReceiverConfig {
	if c.PollInterval <= 0 {
		c.PollInterval = defaultPollInterval
	}
	if c.Workers <= 0 {
		c.Workers = defaultWorkers
	}
	if c.PendingInterval < 0 {
		c.PendingInterval = 0
	}

	return c
}

// ReceiverOption configures Receiver behavior.
type ReceiverOption func(*ReceiverConfig)

// WithPollInterval sets the delay after an empty poll or a failed handler.
func WithPollInterval(interval time.Duration) ReceiverOption {
	return func(c *ReceiverConfig) {
		c.PollInterval = interval
	}
}

// WithWorkers sets the number of concurrent polling workers.
func WithWorkers(count int) ReceiverOption {
	return func(c *ReceiverConfig) {
		c.Workers = count
	}
}

// WithHandlerTimeout sets a per-message handler timeout.
func WithHandlerTimeout(timeout time.Duration) ReceiverOption {
	return func(c *ReceiverConfig) {
		c.HandlerTimeout = timeout
	}
}

// WithPendingInterval sets the minimum interval between pending count samples.
// Zero, the default, disables sampling.
func WithPendingInterval(interval time.Duration) ReceiverOption {
	return func(c *ReceiverConfig) {
		c.PendingInterval = interval
	}
}

// WithErrorHandler registers a callback for handler failures.
func WithErrorHandler(handler FailureHandler) ReceiverOption {
	return func(c *ReceiverConfig) {
		c.ErrorHandler = handler
	}
}

// Receiver runs workers that receive a message, hand it to a Handler and commit
// on success. A failed handler rolls the receive back so the message is redelivered.
// Handlers reach the receive transaction through ConnFromContext.
type Receiver struct {
	transport *Transport
	handler   Handler
	cfg       ReceiverConfig

	pendingMu sync.Mutex
	pendingAt time.Time
}

// NewReceiver constructs a Receiver with defaults and optional settings.
func NewReceiver(transport *Transport, handler Handler, opts ...ReceiverOption) *Receiver {
	if transport == nil {
		panic("sqlqueue: nil Transport")
	}
	if handler == nil {
		panic("sqlqueue: nil Handler")
	}

	var cfg ReceiverConfig
	for _, opt := range opts {
		opt(&cfg)
	}

	return &Receiver{
		transport: transport,
		handler:   handler,
		cfg:       cfg.withDefaults(),
	}
}

// Run starts the configured number of workers and blocks until ctx is canceled
// or a worker fails. Store errors the dialect reports as transient (deadlocks,
// lock timeouts, a busy database) are logged and retried after PollInterval.
func (r *Receiver) Run(ctx context.Context) error {
	if r.transport.address == "" {
		return ErrSendOnly
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	logger := r.transport.cfg.Logger
	errCh := make(chan error, r.cfg.Workers)
	var wg sync.WaitGroup

	for i := 0; i < r.cfg.Workers; i++ {
		wg.Add(1)
		workerID := i
		go func() {
			defer wg.Done()
			defer func() {
				if rec := recover(); rec != nil {
					err := fmt.Errorf("%w: %v", ErrWorkerPanic, rec)
					logger.Error("sqlqueue worker panic", "worker", workerID, "panic", rec)
					errCh <- err
					cancel()
				}
			}()

			if err := r.runWorker(ctx); err != nil && !errors.Is(err, context.Canceled) {
				logger.Error("sqlqueue worker error", "worker", workerID, "err", err)
				errCh <- err
				cancel()
			}
		}()
	}

	wg.Wait()
	close(errCh)

	if err := <-errCh; err != nil {
		return err
	}
	if err := ctx.Err(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}

	return nil
}

// ProcessOnce receives and handles at most one message. It reports whether a
// message was handled and committed.
func (r *Receiver) ProcessOnce(ctx context.Context) (bool, error) {
	t := r.transport
	conn, err := t.Begin(ctx)
	if err != nil {
		return false, err
	}

	msg, err := t.Receive(ctx, conn)
	if err != nil {
		return false, closeWith(conn, err)
	}
	if msg == nil {
		if err := conn.Close(); err != nil {
			return false, err
		}
		r.maybeRecordPending(ctx)

		return false, nil
	}

	handleCtx := ctx
	cancel := func() {}
	if r.cfg.HandlerTimeout > 0 {
		handleCtx, cancel = context.WithTimeout(ctx, r.cfg.HandlerTimeout)
	}
	err = r.handler.Handle(contextWithReceiveConn(handleCtx, conn), msg)
	cancel()

	if err != nil {
		if ctx.Err() != nil {
			return false, closeWith(conn, ctx.Err())
		}
		r.recordFailure(ctx, msg, err)

		return false, closeWith(conn, nil)
	}

	if err := conn.Complete(); err != nil {
		return false, closeWith(conn, err)
	}

	return true, conn.Close()
}

func (r *Receiver) runWorker(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		handled, err := r.ProcessOnce(ctx)
		if err != nil {
			if ctx.Err() != nil || !r.transport.dialect.IsTransient(err) {
				return err
			}
			r.transport.cfg.Logger.Warn("sqlqueue transient store error; retrying", "recipient", r.transport.address, "err", err)
		}
		if handled {
			continue
		}
		if err := sleep(ctx, r.cfg.PollInterval); err != nil {
			return err
		}
	}
}

func (r *Receiver) recordFailure(ctx context.Context, msg *Message, err error) {
	t := r.transport
	t.cfg.Metrics.AddErrors(t.address, 1)
	t.cfg.Logger.Warn("sqlqueue handler failed; message will be redelivered", "recipient", t.address, "id", msg.ID, "err", err)
	if r.cfg.ErrorHandler != nil {
		r.cfg.ErrorHandler(ctx, msg, err)
	}
}

func (r *Receiver) maybeRecordPending(ctx context.Context) {
	if r.cfg.PendingInterval <= 0 {
		return
	}
	if ctx.Err() != nil {
		return
	}

	t := r.transport
	now := t.cfg.Clock.Now()
	r.pendingMu.Lock()
	nextAllowed := r.pendingAt.Add(r.cfg.PendingInterval)
	if !r.pendingAt.IsZero() && now.Before(nextAllowed) {
		r.pendingMu.Unlock()

		return
	}
	r.pendingAt = now
	r.pendingMu.Unlock()

	count, err := t.PendingCount(ctx)
	if err != nil {
		t.cfg.Logger.Warn("sqlqueue pending count failed", "recipient", t.address, "err", err)

		return
	}

	t.cfg.Metrics.SetPending(t.address, count)
}

// closeWith rolls conn back and joins any rollback failure onto err.
func closeWith(conn Conn, err error) error {
	closeErr := conn.Close()
	if closeErr == nil {
		return err
	}

	return errors.Join(err, closeErr)
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}

	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

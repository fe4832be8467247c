package sqlqueue

import (
	"context"
	"fmt"
	"time"
)

const (
	// DefaultSweepInterval is the default time between expiration sweeps.
	DefaultSweepInterval = 20 * time.Second
	// DefaultSweepBatchSize is the default number of expired rows deleted per transaction.
	DefaultSweepBatchSize = 1
)

// SweeperConfig controls the expiration sweeper.
type SweeperConfig struct {
	// Interval is the time between sweeps.
	Interval time.Duration
	// BatchSize caps the rows deleted in one transaction. Small batches keep lock
	// durations short; larger ones trade that for throughput.
	BatchSize int
	// Logger overrides the transport logger.
	Logger Logger
}

// SweeperOption configures a Sweeper.
type SweeperOption func(*SweeperConfig)

// WithSweepInterval sets the time between sweeps.
func WithSweepInterval(interval time.Duration) SweeperOption {
	return func(c *SweeperConfig) {
		c.Interval = interval
	}
}

// WithSweepBatchSize sets the number of rows deleted per transaction.
func WithSweepBatchSize(size int) SweeperOption {
	return func(c *SweeperConfig) {
		c.BatchSize = size
	}
}

// WithSweepLogger sets the sweeper logger.
func WithSweepLogger(logger Logger) SweeperOption {
	return func(c *SweeperConfig) {
		c.Logger = logger
	}
}

// Sweeper deletes expired messages for the transport's input address.
type Sweeper struct {
	transport *Transport
	cfg       SweeperConfig
}

// NewSweeper creates a sweeper for a receiving transport.
func NewSweeper(transport *Transport, opts ...SweeperOption) (*Sweeper, error) {
	if transport == nil {
		panic("sqlqueue: nil Transport")
	}
	if transport.address == "" {
		return nil, ErrSendOnly
	}

	var cfg SweeperConfig
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.BatchSize < 0 {
		return nil, ErrInvalidBatchSize
	}
	if cfg.BatchSize == 0 {
		cfg.BatchSize = DefaultSweepBatchSize
	}
	if cfg.Interval <= 0 {
		cfg.Interval = DefaultSweepInterval
	}
	if cfg.Logger == nil {
		cfg.Logger = transport.cfg.Logger
	}

	return &Sweeper{transport: transport, cfg: cfg}, nil
}

// Run sweeps once immediately and then on every interval until ctx is done.
// Sweep failures are logged and do not stop the loop.
func (s *Sweeper) Run(ctx context.Context) error {
	ticker := time.NewTicker(s.cfg.Interval)
	defer ticker.Stop()

	if _, err := s.SweepOnce(ctx); err != nil && ctx.Err() == nil {
		s.cfg.Logger.Warn("sqlqueue sweep failed", "recipient", s.transport.address, "err", err)
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if _, err := s.SweepOnce(ctx); err != nil && ctx.Err() == nil {
				s.cfg.Logger.Warn("sqlqueue sweep failed", "recipient", s.transport.address, "err", err)
			}
		}
	}
}

// SweepOnce deletes expired rows batch by batch, each in its own transaction,
// until a batch comes back short. It returns the number of rows removed.
func (s *Sweeper) SweepOnce(ctx context.Context) (removed int64, err error) {
	t := s.transport
	start := time.Now()
	ctx, span := t.startSpan(ctx, "sqlqueue.sweep", t.address)
	defer func() { endSpan(span, err) }()

	for {
		if err := ctx.Err(); err != nil {
			return removed, err
		}
		n, err := s.sweepBatch(ctx)
		removed += n
		if err != nil {
			s.report(removed, start)

			return removed, err
		}
		if n < int64(s.cfg.BatchSize) {
			break
		}
	}
	s.report(removed, start)

	return removed, nil
}

func (s *Sweeper) sweepBatch(ctx context.Context) (int64, error) {
	t := s.transport
	conn, err := t.provider.Conn(ctx)
	if err != nil {
		return 0, err
	}
	defer conn.Close()

	n, err := t.dialect.DeleteExpired(ctx, conn, t.address, t.cfg.Clock.Now(), s.cfg.BatchSize)
	if err != nil {
		if t.dialect.IsMissingTable(err) {
			return 0, t.missingTable(err)
		}

		return 0, fmt.Errorf("sqlqueue: sweep delete failed: %w", err)
	}
	if n == 0 {
		return 0, nil
	}
	if err := conn.Complete(); err != nil {
		return 0, err
	}

	return n, nil
}

func (s *Sweeper) report(removed int64, start time.Time) {
	if removed == 0 {
		return
	}
	s.transport.cfg.Metrics.AddExpired(s.transport.address, int(removed))
	s.cfg.Logger.Info(
		"sqlqueue swept expired messages",
		"recipient", s.transport.address,
		"count", removed,
		"elapsed", time.Since(start),
	)
}

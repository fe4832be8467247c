package sqlqueue

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// Transport sends messages into a SQL table and receives messages addressed to its input address.
//
// A Transport holds no message state; the table is the source of truth. It is safe
// for concurrent use.
type Transport struct {
	provider ConnProvider
	dialect  Dialect
	address  string
	cfg      Config
}

// NewTransport constructs a transport. An empty address yields a send-only transport.
func NewTransport(provider ConnProvider, dialect Dialect, address string, opts ...Option) (*Transport, error) {
	if provider == nil {
		return nil, ErrProviderRequired
	}
	if dialect == nil {
		return nil, ErrDialectRequired
	}
	if address != "" {
		if err := validateRecipient(address); err != nil {
			return nil, err
		}
	}

	var cfg Config
	for _, opt := range opts {
		opt(&cfg)
	}
	cfg = cfg.withDefaults()

	return &Transport{
		provider: provider,
		dialect:  dialect,
		address:  address,
		cfg:      cfg,
	}, nil
}

// Address returns the input address, or "" for a send-only transport.
func (t *Transport) Address() string {
	return t.address
}

// Dialect returns the store dialect.
func (t *Transport) Dialect() Dialect {
	return t.dialect
}

// Throttle returns the receive throttle.
func (t *Transport) Throttle() *Throttle {
	return t.cfg.Throttle
}

// Begin opens a transaction-bound connection from the provider.
func (t *Transport) Begin(ctx context.Context) (Conn, error) {
	return t.provider.Conn(ctx)
}

// Send appends msg for destination using q, normally an open transaction.
// Sending to DeferredDeliveryAddress delivers to HeaderDeferredRecipient instead.
func (t *Transport) Send(ctx context.Context, q Querier, destination string, msg Message) (err error) {
	if q == nil {
		return ErrConnRequired
	}
	recipient, err := resolveDestination(destination, msg.Headers)
	if err != nil {
		return err
	}
	if err := validateRecipient(recipient); err != nil {
		return err
	}
	row, err := buildRow(recipient, msg, t.cfg.Clock.Now(), t.cfg.Codec)
	if err != nil {
		return err
	}

	ctx, span := t.startSpan(ctx, "sqlqueue.send", recipient)
	defer func() { endSpan(span, err) }()

	if err := t.dialect.Insert(ctx, q, row); err != nil {
		if t.dialect.IsMissingTable(err) {
			return t.missingTable(err)
		}

		return fmt.Errorf("sqlqueue: send failed: %w", err)
	}
	t.cfg.Metrics.AddSent(recipient, 1)

	return nil
}

// Receive claims the next visible message for the input address using q, which
// must be an open transaction. The claim becomes permanent only when that
// transaction commits; rolling back makes the message receivable again.
//
// Receive returns nil, nil when no message is available. When ctx is done while
// waiting for a throttle slot or for the store, the error matches both
// ErrReceiveCanceled and the context error.
func (t *Transport) Receive(ctx context.Context, q Querier) (msg *Message, err error) {
	if t.address == "" {
		return nil, ErrSendOnly
	}
	if q == nil {
		return nil, ErrConnRequired
	}

	start := time.Now()
	ctx, span := t.startSpan(ctx, "sqlqueue.receive", t.address)
	defer func() {
		t.cfg.Metrics.ObserveReceiveDuration(t.address, time.Since(start))
		endSpan(span, err)
	}()

	release, err := t.cfg.Throttle.Acquire(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrReceiveCanceled, err)
	}
	t.cfg.Metrics.SetInFlight(t.address, t.cfg.Throttle.InFlight())
	defer func() {
		release()
		t.cfg.Metrics.SetInFlight(t.address, t.cfg.Throttle.InFlight())
	}()

	row, ok, err := t.dialect.Claim(ctx, q, t.address, t.cfg.Clock.Now())
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, fmt.Errorf("%w: %w", ErrReceiveCanceled, ctxErr)
		}
		t.cfg.Metrics.AddErrors(t.address, 1)
		if t.dialect.IsMissingTable(err) {
			return nil, t.missingTable(err)
		}

		return nil, fmt.Errorf("sqlqueue: receive failed: %w", err)
	}
	if !ok {
		return nil, nil
	}

	headers, err := t.cfg.Codec.Decode(row.Headers)
	if err != nil {
		t.cfg.Metrics.AddErrors(t.address, 1)

		return nil, fmt.Errorf("sqlqueue: message %d: %w", row.ID, err)
	}
	span.SetAttributes(attribute.Int64("sqlqueue.message_id", row.ID))
	t.cfg.Metrics.AddReceived(t.address, 1)

	return &Message{ID: row.ID, Headers: headers, Body: row.Body}, nil
}

// PendingCount returns the number of currently visible messages for the input address.
func (t *Transport) PendingCount(ctx context.Context) (int, error) {
	if t.address == "" {
		return 0, ErrSendOnly
	}
	conn, err := t.provider.Conn(ctx)
	if err != nil {
		return 0, err
	}
	defer conn.Close()

	count, err := t.dialect.Count(ctx, conn, t.address, t.cfg.Clock.Now())
	if err != nil {
		if t.dialect.IsMissingTable(err) {
			return 0, t.missingTable(err)
		}

		return 0, fmt.Errorf("sqlqueue: pending count failed: %w", err)
	}

	return count, nil
}

// EnsureSchema creates the message table and its indexes when the table is missing.
// A concurrent bootstrap that wins the race is not an error.
func (t *Transport) EnsureSchema(ctx context.Context) error {
	table := t.dialect.Table()
	conn, err := t.provider.Conn(ctx)
	if err != nil {
		return err
	}
	defer conn.Close()

	exists, err := t.dialect.TableExists(ctx, conn)
	if err != nil {
		return fmt.Errorf("sqlqueue: ensure schema for table %s: %w", table, err)
	}
	if exists {
		t.cfg.Logger.Info("sqlqueue table exists", "table", table)

		return nil
	}

	t.cfg.Logger.Info("sqlqueue creating table", "table", table, "dialect", t.dialect.Name())
	for _, stmt := range t.dialect.Schema() {
		if _, err := conn.ExecContext(ctx, stmt); err != nil {
			if t.dialect.IsAlreadyExists(err) {
				t.cfg.Logger.Info("sqlqueue table created concurrently", "table", table)

				return nil
			}

			return fmt.Errorf("sqlqueue: ensure schema for table %s: %w", table, err)
		}
	}
	if err := conn.Complete(); err != nil {
		if t.dialect.IsAlreadyExists(err) {
			return nil
		}

		return fmt.Errorf("sqlqueue: ensure schema for table %s: %w", table, err)
	}

	return nil
}

func (t *Transport) missingTable(err error) error {
	return errors.Join(fmt.Errorf("%w: %s", ErrTableMissing, t.dialect.Table()), err)
}

func (t *Transport) startSpan(ctx context.Context, name, recipient string) (context.Context, trace.Span) {
	return t.cfg.Tracer.Start(ctx, name,
		trace.WithSpanKind(trace.SpanKindInternal),
		trace.WithAttributes(
			attribute.String("db.system", t.dialect.Name()),
			attribute.String("sqlqueue.table", t.dialect.Table()),
			attribute.String("sqlqueue.recipient", recipient),
		),
	)
}

func endSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}

package sqlqueue

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
)

// Querier is the minimal statement surface used by dialects. *sql.Tx satisfies it.
type Querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// Conn is a connection bound to an open transaction.
//
// Complete commits the transaction. Close rolls it back unless Complete succeeded;
// it is idempotent and safe to defer right after acquiring the Conn.
type Conn interface {
	Querier
	Complete() error
	Close() error
}

// ConnProvider opens transaction-bound connections.
type ConnProvider interface {
	Conn(ctx context.Context) (Conn, error)
}

// DBProvider opens a new transaction on a *sql.DB for every Conn.
type DBProvider struct {
	db   *sql.DB
	opts *sql.TxOptions
}

var _ ConnProvider = (*DBProvider)(nil)

// NewDBProvider returns a provider that begins transactions with the given isolation level.
func NewDBProvider(db *sql.DB, isolation sql.IsolationLevel) *DBProvider {
	if db == nil {
		panic("sqlqueue: nil *sql.DB")
	}

	return &DBProvider{db: db, opts: &sql.TxOptions{Isolation: isolation}}
}

// Conn begins a transaction.
func (p *DBProvider) Conn(ctx context.Context) (Conn, error) {
	tx, err := p.db.BeginTx(ctx, p.opts)
	if err != nil {
		return nil, fmt.Errorf("sqlqueue: begin tx failed: %w", err)
	}

	return &txConn{tx: tx}, nil
}

type txConn struct {
	tx        *sql.Tx
	completed bool
	closed    bool
}

func (c *txConn) ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error) {
	return c.tx.ExecContext(ctx, query, args...)
}

func (c *txConn) QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error) {
	return c.tx.QueryContext(ctx, query, args...)
}

func (c *txConn) QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row {
	return c.tx.QueryRowContext(ctx, query, args...)
}

func (c *txConn) Complete() error {
	if c.completed {
		return nil
	}
	if c.closed {
		return sql.ErrTxDone
	}
	if err := c.tx.Commit(); err != nil {
		c.closed = true

		return fmt.Errorf("sqlqueue: commit failed: %w", err)
	}
	c.completed = true

	return nil
}

func (c *txConn) Close() error {
	if c.completed || c.closed {
		return nil
	}
	c.closed = true
	if err := c.tx.Rollback(); err != nil && !errors.Is(err, sql.ErrTxDone) {
		return fmt.Errorf("sqlqueue: rollback failed: %w", err)
	}

	return nil
}

// ExternalConn wraps a transaction owned by the caller. Complete and Close are no-ops,
// so the caller's own Commit or Rollback decides whether sends and receives take effect.
func ExternalConn(tx *sql.Tx) Conn {
	return externalConn{tx: tx}
}

type externalConn struct {
	tx *sql.Tx
}

func (c externalConn) ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error) {
	return c.tx.ExecContext(ctx, query, args...)
}

func (c externalConn) QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error) {
	return c.tx.QueryContext(ctx, query, args...)
}

func (c externalConn) QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row {
	return c.tx.QueryRowContext(ctx, query, args...)
}

func (externalConn) Complete() error { return nil }

func (externalConn) Close() error { return nil }

type receiveConnKey struct{}

// receiveConn is the handler's view of the Receiver's transaction. The Receiver
// owns commit and rollback, so Complete and Close do nothing.
type receiveConn struct {
	Conn
}

func (receiveConn) Complete() error { return nil }

func (receiveConn) Close() error { return nil }

func contextWithReceiveConn(ctx context.Context, conn Conn) context.Context {
	return context.WithValue(ctx, receiveConnKey{}, receiveConn{Conn: conn})
}

// ConnFromContext returns the transaction a Receiver opened for the message being
// handled. Sends made through it commit together with the receive and are rolled
// back when the handler fails:
//
//	func (h replier) Handle(ctx context.Context, msg *sqlqueue.Message) error {
//		conn, _ := sqlqueue.ConnFromContext(ctx)
//		return h.transport.Send(ctx, conn, "replies", reply)
//	}
//
// Complete and Close on the returned Conn are no-ops.
func ConnFromContext(ctx context.Context) (Conn, bool) {
	conn, ok := ctx.Value(receiveConnKey{}).(receiveConn)
	if !ok {
		return nil, false
	}

	return conn, true
}

package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"

	"github.com/velmie/sqlqueue"
)

// Dialect implements sqlqueue.Dialect for PostgreSQL 9.5+.
type Dialect struct {
	table   string
	queries queries
}

var _ sqlqueue.Dialect = (*Dialect)(nil)

// NewDialect constructs a PostgreSQL dialect for the configured table.
func NewDialect(opts ...Option) (*Dialect, error) {
	var cfg Config
	for _, opt := range opts {
		opt(&cfg)
	}
	cfg = cfg.withDefaults()

	return newDialect(cfg.Table)
}

func newDialect(table string) (*Dialect, error) {
	name, err := sqlqueue.SanitizeTableName(table)
	if err != nil {
		return nil, err
	}

	return &Dialect{table: name, queries: newQueries(name)}, nil
}

// New constructs a transport on db for address using READ COMMITTED transactions.
// An empty address yields a send-only transport.
func New(db *sql.DB, address string, opts ...Option) (*sqlqueue.Transport, error) {
	if db == nil {
		return nil, ErrDBRequired
	}

	var cfg Config
	for _, opt := range opts {
		opt(&cfg)
	}
	cfg = cfg.withDefaults()

	dialect, err := newDialect(cfg.Table)
	if err != nil {
		return nil, err
	}

	return sqlqueue.NewTransport(sqlqueue.NewDBProvider(db, cfg.Isolation), dialect, address, cfg.Transport...)
}

// Name implements sqlqueue.Dialect.
func (d *Dialect) Name() string { return "postgresql" }

// Table implements sqlqueue.Dialect.
func (d *Dialect) Table() string { return d.table }

// Schema implements sqlqueue.Dialect.
func (d *Dialect) Schema() []string { return schemaStatements(d.table) }

// TableExists implements sqlqueue.Dialect.
func (d *Dialect) TableExists(ctx context.Context, q sqlqueue.Querier) (bool, error) {
	var exists bool
	if err := q.QueryRowContext(ctx, d.queries.tableExists, d.table).Scan(&exists); err != nil {
		return false, fmt.Errorf("sqlqueue postgres: table lookup failed: %w", err)
	}

	return exists, nil
}

// IsAlreadyExists implements sqlqueue.Dialect.
func (d *Dialect) IsAlreadyExists(err error) bool { return isAlreadyExists(err) }

// IsTransient implements sqlqueue.Dialect.
func (d *Dialect) IsTransient(err error) bool { return IsTransient(err) }

// IsMissingTable implements sqlqueue.Dialect.
func (d *Dialect) IsMissingTable(err error) bool { return sqlState(err) == codeUndefinedTable }

// Insert implements sqlqueue.Dialect.
func (d *Dialect) Insert(ctx context.Context, q sqlqueue.Querier, row sqlqueue.Row) error {
	_, err := q.ExecContext(
		ctx,
		d.queries.insert,
		row.Recipient,
		row.Priority,
		timestamp(row.VisibleAt),
		timestamp(row.ExpiresAt),
		row.Headers,
		row.Body,
	)

	return err
}

// Claim implements sqlqueue.Dialect.
func (d *Dialect) Claim(ctx context.Context, q sqlqueue.Querier, recipient string, now time.Time) (sqlqueue.Row, bool, error) {
	row := sqlqueue.Row{Recipient: recipient}
	err := q.QueryRowContext(ctx, d.queries.claim, recipient, timestamp(now)).
		Scan(&row.ID, &row.Priority, &row.Headers, &row.Body)
	if errors.Is(err, sql.ErrNoRows) {
		return sqlqueue.Row{}, false, nil
	}
	if err != nil {
		return sqlqueue.Row{}, false, err
	}

	return row, true, nil
}

// DeleteExpired implements sqlqueue.Dialect.
func (d *Dialect) DeleteExpired(ctx context.Context, q sqlqueue.Querier, recipient string, now time.Time, limit int) (int64, error) {
	if limit <= 0 {
		return 0, sqlqueue.ErrInvalidBatchSize
	}
	res, err := q.ExecContext(ctx, d.queries.deleteExpired, recipient, timestamp(now), limit)
	if err != nil {
		return 0, err
	}

	return res.RowsAffected()
}

// Count implements sqlqueue.Dialect.
func (d *Dialect) Count(ctx context.Context, q sqlqueue.Querier, recipient string, now time.Time) (int, error) {
	var count int
	if err := q.QueryRowContext(ctx, d.queries.count, recipient, timestamp(now)).Scan(&count); err != nil {
		return 0, err
	}

	return count, nil
}

// timestamp matches TIMESTAMPTZ precision.
func timestamp(t time.Time) time.Time {
	return t.UTC().Truncate(time.Microsecond)
}

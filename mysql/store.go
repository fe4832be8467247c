package mysql

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/velmie/sqlqueue"
)

// Dialect implements sqlqueue.Dialect for MySQL 8.0+.
type Dialect struct {
	table   string
	queries queries
}

var _ sqlqueue.Dialect = (*Dialect)(nil)

// NewDialect constructs a MySQL dialect for the configured table.
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

// MustNew constructs a transport or panics on error.
func MustNew(db *sql.DB, address string, opts ...Option) *sqlqueue.Transport {
	transport, err := New(db, address, opts...)
	if err != nil {
		panic(err)
	}

	return transport
}

// Name implements sqlqueue.Dialect.
func (d *Dialect) Name() string { return "mysql" }

// Table implements sqlqueue.Dialect.
func (d *Dialect) Table() string { return d.table }

// Schema implements sqlqueue.Dialect.
func (d *Dialect) Schema() []string {
	return []string{buildSchema(d.table)}
}

// TableExists implements sqlqueue.Dialect.
func (d *Dialect) TableExists(ctx context.Context, q sqlqueue.Querier) (bool, error) {
	var schema any
	name := d.table
	if i := strings.LastIndexByte(name, '.'); i >= 0 {
		schema, name = name[:i], name[i+1:]
	}

	var count int
	if err := q.QueryRowContext(ctx, d.queries.tableExists, schema, name).Scan(&count); err != nil {
		return false, fmt.Errorf("sqlqueue mysql: table lookup failed: %w", err)
	}

	return count > 0, nil
}

// IsAlreadyExists implements sqlqueue.Dialect.
func (d *Dialect) IsAlreadyExists(err error) bool {
	n := errorNumber(err)

	return n == errTableExists || n == errDuplicateKey
}

// IsTransient implements sqlqueue.Dialect.
func (d *Dialect) IsTransient(err error) bool { return IsTransient(err) }

// IsMissingTable implements sqlqueue.Dialect.
func (d *Dialect) IsMissingTable(err error) bool {
	return errorNumber(err) == errNoSuchTable
}

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

// Claim implements sqlqueue.Dialect with SELECT ... FOR UPDATE SKIP LOCKED followed by a delete by id.
func (d *Dialect) Claim(ctx context.Context, q sqlqueue.Querier, recipient string, now time.Time) (sqlqueue.Row, bool, error) {
	ts := timestamp(now)
	row := sqlqueue.Row{Recipient: recipient}
	err := q.QueryRowContext(ctx, d.queries.selectNext, recipient, ts, ts).
		Scan(&row.ID, &row.Priority, &row.Headers, &row.Body)
	if errors.Is(err, sql.ErrNoRows) {
		return sqlqueue.Row{}, false, nil
	}
	if err != nil {
		return sqlqueue.Row{}, false, err
	}

	if _, err := q.ExecContext(ctx, d.queries.deleteByID, row.ID); err != nil {
		return sqlqueue.Row{}, false, err
	}

	return row, true, nil
}

// DeleteExpired implements sqlqueue.Dialect.
func (d *Dialect) DeleteExpired(ctx context.Context, q sqlqueue.Querier, recipient string, now time.Time, limit int) (int64, error) {
	if limit <= 0 {
		return 0, sqlqueue.ErrInvalidBatchSize
	}

	rows, err := q.QueryContext(ctx, d.queries.selectExpired, recipient, timestamp(now), limit)
	if err != nil {
		return 0, err
	}
	ids := make([]any, 0, limit)
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			_ = rows.Close()

			return 0, err
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		_ = rows.Close()

		return 0, err
	}
	if err := rows.Close(); err != nil {
		return 0, err
	}
	if len(ids) == 0 {
		return 0, nil
	}

	res, err := q.ExecContext(ctx, buildDeleteIDs(d.table, len(ids)), ids...)
	if err != nil {
		return 0, err
	}

	return res.RowsAffected()
}

// Count implements sqlqueue.Dialect.
func (d *Dialect) Count(ctx context.Context, q sqlqueue.Querier, recipient string, now time.Time) (int, error) {
	ts := timestamp(now)
	var count int
	if err := q.QueryRowContext(ctx, d.queries.count, recipient, ts, ts).Scan(&count); err != nil {
		return 0, err
	}

	return count, nil
}

// timestamp matches DATETIME(6) precision.
func timestamp(t time.Time) time.Time {
	return t.UTC().Truncate(time.Microsecond)
}

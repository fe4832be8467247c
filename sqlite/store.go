package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/velmie/sqlqueue"
)

// Dialect implements sqlqueue.Dialect for SQLite.
type Dialect struct {
	table   string
	queries queries
}

var _ sqlqueue.Dialect = (*Dialect)(nil)

// NewDialect constructs a SQLite dialect for the configured table.
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

// Open opens the database at path with a single connection, WAL journaling,
// synchronous=FULL and a busy timeout. Use ":memory:" for a private in-memory database.
func Open(ctx context.Context, path string, opts ...Option) (*sql.DB, error) {
	if path == "" {
		return nil, ErrPathRequired
	}

	var cfg Config
	for _, opt := range opts {
		opt(&cfg)
	}
	cfg = cfg.withDefaults()

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("sqlqueue sqlite: open: %w", err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	if err := configure(ctx, db, path, cfg.BusyTimeout); err != nil {
		_ = db.Close()

		return nil, err
	}

	return db, nil
}

func configure(ctx context.Context, db *sql.DB, path string, busyTimeout time.Duration) error {
	if path != ":memory:" {
		var journalMode string
		if err := db.QueryRowContext(ctx, "PRAGMA journal_mode=WAL;").Scan(&journalMode); err != nil {
			return fmt.Errorf("sqlqueue sqlite: set journal_mode=wal: %w", err)
		}
		if !strings.EqualFold(journalMode, "wal") {
			return fmt.Errorf("sqlqueue sqlite: journal_mode=%q, want wal", journalMode)
		}
	}
	if _, err := db.ExecContext(ctx, "PRAGMA synchronous=FULL;"); err != nil {
		return fmt.Errorf("sqlqueue sqlite: set synchronous=full: %w", err)
	}
	if _, err := db.ExecContext(ctx, fmt.Sprintf("PRAGMA busy_timeout=%d;", busyTimeout.Milliseconds())); err != nil {
		return fmt.Errorf("sqlqueue sqlite: set busy_timeout: %w", err)
	}

	return nil
}

// New constructs a transport on db for address. db should come from Open.
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

	return sqlqueue.NewTransport(sqlqueue.NewDBProvider(db, sql.LevelDefault), dialect, address, cfg.Transport...)
}

// Name implements sqlqueue.Dialect.
func (d *Dialect) Name() string { return "sqlite" }

// Table implements sqlqueue.Dialect.
func (d *Dialect) Table() string { return d.table }

// Schema implements sqlqueue.Dialect.
func (d *Dialect) Schema() []string { return schemaStatements(d.table) }

// TableExists implements sqlqueue.Dialect.
func (d *Dialect) TableExists(ctx context.Context, q sqlqueue.Querier) (bool, error) {
	var count int
	if err := q.QueryRowContext(ctx, d.queries.tableExists).Scan(&count); err != nil {
		return false, fmt.Errorf("sqlqueue sqlite: table lookup failed: %w", err)
	}

	return count > 0, nil
}

// IsAlreadyExists implements sqlqueue.Dialect.
func (d *Dialect) IsAlreadyExists(err error) bool { return isAlreadyExists(err) }

// IsTransient implements sqlqueue.Dialect.
func (d *Dialect) IsTransient(err error) bool { return IsBusy(err) }

// IsMissingTable implements sqlqueue.Dialect.
func (d *Dialect) IsMissingTable(err error) bool { return isMissingTable(err) }

// Insert implements sqlqueue.Dialect.
func (d *Dialect) Insert(ctx context.Context, q sqlqueue.Querier, row sqlqueue.Row) error {
	_, err := q.ExecContext(
		ctx,
		d.queries.insert,
		row.Recipient,
		row.Priority,
		row.VisibleAt.UnixMicro(),
		row.ExpiresAt.UnixMicro(),
		row.Headers,
		row.Body,
	)

	return err
}

// Claim implements sqlqueue.Dialect with a single DELETE ... RETURNING.
func (d *Dialect) Claim(ctx context.Context, q sqlqueue.Querier, recipient string, now time.Time) (sqlqueue.Row, bool, error) {
	ts := now.UnixMicro()
	row := sqlqueue.Row{Recipient: recipient}
	err := q.QueryRowContext(ctx, d.queries.claim, recipient, ts, ts).
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
	res, err := q.ExecContext(ctx, d.queries.deleteExpired, recipient, now.UnixMicro(), limit)
	if err != nil {
		return 0, err
	}

	return res.RowsAffected()
}

// Count implements sqlqueue.Dialect.
func (d *Dialect) Count(ctx context.Context, q sqlqueue.Querier, recipient string, now time.Time) (int, error) {
	ts := now.UnixMicro()
	var count int
	if err := q.QueryRowContext(ctx, d.queries.count, recipient, ts, ts).Scan(&count); err != nil {
		return 0, err
	}

	return count, nil
}

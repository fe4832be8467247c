package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgconn"

	"github.com/velmie/sqlqueue"
)

type fakeQuerier struct {
	query string
	args  []any
}

func (f *fakeQuerier) ExecContext(_ context.Context, query string, args ...any) (sql.Result, error) {
	f.query = query
	f.args = args
	return nil, nil
}

func (f *fakeQuerier) QueryContext(context.Context, string, ...any) (*sql.Rows, error) {
	return nil, errors.New("not implemented")
}

func (f *fakeQuerier) QueryRowContext(context.Context, string, ...any) *sql.Row {
	return nil
}

func TestDialectInsert(t *testing.T) {
	dialect, err := NewDialect(WithTable("queue.messages"))
	if err != nil {
		t.Fatalf("new dialect: %v", err)
	}
	row := sqlqueue.Row{
		Recipient: "orders",
		Priority:  -2,
		VisibleAt: time.Date(2024, 1, 2, 3, 4, 5, 6789, time.FixedZone("x", -7200)),
		ExpiresAt: sqlqueue.MaxExpiry,
		Headers:   []byte{0x80},
		Body:      []byte("body"),
	}
	fake := &fakeQuerier{}

	if err := dialect.Insert(context.Background(), fake, row); err != nil {
		t.Fatalf("insert: %v", err)
	}
	if !strings.HasPrefix(fake.query, "INSERT INTO queue.messages ") || !strings.Contains(fake.query, "$6") {
		t.Fatalf("unexpected query %q", fake.query)
	}
	if got := fake.args[1]; got != -2 {
		t.Fatalf("expected priority arg -2, got %v", got)
	}
	visible := fake.args[2].(time.Time)
	if visible.Location() != time.UTC || visible.Nanosecond()%1000 != 0 {
		t.Fatalf("expected UTC microsecond timestamp, got %v", visible)
	}
}

func TestQueriesClaimInOneStatement(t *testing.T) {
	q := newQueries("messages")
	if !strings.HasPrefix(q.claim, "DELETE FROM messages WHERE id = (SELECT id FROM messages ") {
		t.Fatalf("unexpected claim %q", q.claim)
	}
	if !strings.Contains(q.claim, "ORDER BY priority ASC, id ASC LIMIT 1 FOR UPDATE SKIP LOCKED") {
		t.Fatalf("expected ordered skip locked claim, got %q", q.claim)
	}
	if !strings.HasSuffix(q.claim, "RETURNING id, priority, headers, body") {
		t.Fatalf("expected returning clause, got %q", q.claim)
	}
	if !strings.Contains(q.deleteExpired, "expires_at <= $2") || !strings.Contains(q.deleteExpired, "LIMIT $3 FOR UPDATE SKIP LOCKED") {
		t.Fatalf("unexpected sweep query %q", q.deleteExpired)
	}
}

func TestDeleteExpiredRejectsNonPositiveLimit(t *testing.T) {
	dialect, _ := NewDialect()
	fake := &fakeQuerier{}

	if _, err := dialect.DeleteExpired(context.Background(), fake, "q", time.Now(), 0); !errors.Is(err, sqlqueue.ErrInvalidBatchSize) {
		t.Fatalf("expected invalid batch size, got %v", err)
	}
	if fake.query != "" {
		t.Fatalf("expected no query, got %q", fake.query)
	}
}

func TestDialectErrorClassification(t *testing.T) {
	dialect, _ := NewDialect()
	cases := []struct {
		name    string
		err     error
		exists  bool
		missing bool
	}{
		{name: "duplicate table", err: &pgconn.PgError{Code: codeDuplicateTable}, exists: true},
		{name: "duplicate index", err: fmt.Errorf("wrapped: %w", &pgconn.PgError{Code: codeDuplicateObject}), exists: true},
		{name: "catalog race", err: &pgconn.PgError{Code: codeUniqueViolation, TableName: "pg_type"}, exists: true},
		{name: "unique violation", err: &pgconn.PgError{Code: codeUniqueViolation, TableName: "messages"}},
		{name: "undefined table", err: &pgconn.PgError{Code: codeUndefinedTable}, missing: true},
		{name: "plain", err: errors.New("boom")},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := dialect.IsAlreadyExists(tc.err); got != tc.exists {
				t.Fatalf("already exists: expected %v, got %v", tc.exists, got)
			}
			if got := dialect.IsMissingTable(tc.err); got != tc.missing {
				t.Fatalf("missing table: expected %v, got %v", tc.missing, got)
			}
		})
	}

	transient := fmt.Errorf("sqlqueue: receive failed: %w", &pgconn.PgError{Code: codeDeadlockDetected})
	if !dialect.IsTransient(transient) || dialect.IsTransient(errors.New("boom")) {
		t.Fatalf("unexpected transient classification")
	}
}

func TestSchema(t *testing.T) {
	schema, err := Schema("app.messages")
	if err != nil {
		t.Fatalf("schema: %v", err)
	}
	for _, want := range []string{
		"CREATE TABLE app.messages (",
		"id BIGSERIAL PRIMARY KEY",
		"recipient VARCHAR(200) NOT NULL",
		"CREATE UNIQUE INDEX messages_receive ON app.messages (recipient, priority, id)",
		"CREATE INDEX messages_expiration ON app.messages (expires_at)",
	} {
		if !strings.Contains(schema, want) {
			t.Fatalf("expected schema to contain %q:\n%s", want, schema)
		}
	}
	if _, err := Schema(""); !errors.Is(err, sqlqueue.ErrTableNameRequired) {
		t.Fatalf("expected table name required, got %v", err)
	}
}

func TestNewValidation(t *testing.T) {
	if _, err := New(nil, "q"); !errors.Is(err, ErrDBRequired) {
		t.Fatalf("expected db required, got %v", err)
	}
	if _, err := New(&sql.DB{}, "q", WithTable("bad-name")); !errors.Is(err, sqlqueue.ErrInvalidTableName) {
		t.Fatalf("expected invalid table name, got %v", err)
	}
	transport, err := New(&sql.DB{}, "q")
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	if transport.Dialect().Name() != "postgresql" || transport.Dialect().Table() != defaultTable {
		t.Fatalf("unexpected dialect %s %s", transport.Dialect().Name(), transport.Dialect().Table())
	}
}

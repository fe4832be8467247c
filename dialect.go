package sqlqueue

import (
	"context"
	"time"
)

// Dialect adapts the transport to one SQL store. Implementations live in the
// mysql, postgres and sqlite packages.
type Dialect interface {
	// Name identifies the store, e.g. "mysql".
	Name() string
	// Table returns the sanitized table name.
	Table() string
	// Schema returns the statements that create the table and its indexes.
	Schema() []string
	// TableExists reports whether the message table exists.
	TableExists(ctx context.Context, q Querier) (bool, error)
	// IsAlreadyExists reports whether err means a schema object already exists.
	IsAlreadyExists(err error) bool
	// IsMissingTable reports whether err means the message table does not exist.
	IsMissingTable(err error) bool
	// IsTransient reports whether err is a lock conflict or deadlock worth retrying.
	IsTransient(err error) bool
	// Insert appends row. Row.ID is ignored; the store assigns it.
	Insert(ctx context.Context, q Querier, row Row) error
	// Claim deletes and returns the visible row for recipient with the lowest
	// (priority, id), skipping rows locked by other transactions. ok is false
	// when no row is eligible.
	Claim(ctx context.Context, q Querier, recipient string, now time.Time) (row Row, ok bool, err error)
	// DeleteExpired removes up to limit rows of recipient with expires_at <= now,
	// skipping locked rows, and returns the number removed.
	DeleteExpired(ctx context.Context, q Querier, recipient string, now time.Time, limit int) (int64, error)
	// Count returns the number of visible rows for recipient.
	Count(ctx context.Context, q Querier, recipient string, now time.Time) (int, error)
}

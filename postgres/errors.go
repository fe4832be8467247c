package postgres

import (
	"errors"

	"github.com/jackc/pgx/v5/pgconn"
)

var (
	// ErrDBRequired is returned when a nil *sql.DB is provided.
	ErrDBRequired = errors.New("sqlqueue postgres: db is required")
)

// SQLSTATE codes.
const (
	codeDuplicateTable       = "42P07"
	codeDuplicateObject      = "42710"
	codeUniqueViolation      = "23505"
	codeUndefinedTable       = "42P01"
	codeSerializationFailure = "40001"
	codeDeadlockDetected     = "40P01"
	codeLockNotAvailable     = "55P03"
)

func sqlState(err error) string {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		return ""
	}

	return pgErr.Code
}

func isAlreadyExists(err error) bool {
	switch sqlState(err) {
	case codeDuplicateTable, codeDuplicateObject:
		return true
	case codeUniqueViolation:
		// Concurrent CREATE TABLE collides on the pg_type catalog entry.
		var pgErr *pgconn.PgError
		return errors.As(err, &pgErr) && pgErr.TableName == "pg_type"
	default:
		return false
	}
}

// IsTransient reports whether err is a serialization failure, deadlock or lock timeout that a caller may retry.
func IsTransient(err error) bool {
	switch sqlState(err) {
	case codeSerializationFailure, codeDeadlockDetected, codeLockNotAvailable:
		return true
	default:
		return false
	}
}

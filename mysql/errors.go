package mysql

import (
	"errors"

	drv "github.com/go-sql-driver/mysql"
)

var (
	// ErrDBRequired is returned when a nil *sql.DB is provided.
	ErrDBRequired = errors.New("sqlqueue mysql: db is required")
)

// MySQL server error numbers.
const (
	errTableExists   = 1050
	errDuplicateKey  = 1061
	errNoSuchTable   = 1146
	errLockWaitAbort = 1205
	errDeadlock      = 1213
)

func errorNumber(err error) uint16 {
	var mysqlErr *drv.MySQLError
	if !errors.As(err, &mysqlErr) {
		return 0
	}

	return mysqlErr.Number
}

// IsTransient reports whether err is a lock wait timeout or deadlock that a caller may retry.
func IsTransient(err error) bool {
	switch errorNumber(err) {
	case errLockWaitAbort, errDeadlock:
		return true
	default:
		return false
	}
}

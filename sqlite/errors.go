package sqlite

import (
	"errors"
	"strings"

	sqlite3 "modernc.org/sqlite"
)

var (
	// ErrDBRequired is returned when a nil *sql.DB is provided.
	ErrDBRequired = errors.New("sqlqueue sqlite: db is required")
	// ErrPathRequired is returned when Open is called without a path.
	ErrPathRequired = errors.New("sqlqueue sqlite: path is required")
)

// Primary result codes; extended codes carry them in the lower 8 bits.
const (
	sqliteError  = 1
	sqliteBusy   = 5
	sqliteLocked = 6
)

func resultCode(err error) (int, string, bool) {
	var sqliteErr *sqlite3.Error
	if !errors.As(err, &sqliteErr) {
		return 0, "", false
	}

	return sqliteErr.Code() & 0xff, sqliteErr.Error(), true
}

func isAlreadyExists(err error) bool {
	code, msg, ok := resultCode(err)

	return ok && code == sqliteError && strings.Contains(msg, "already exists")
}

func isMissingTable(err error) bool {
	code, msg, ok := resultCode(err)

	return ok && code == sqliteError && strings.Contains(msg, "no such table")
}

// IsBusy reports whether err means the database stayed locked past the busy timeout.
func IsBusy(err error) bool {
	code, _, ok := resultCode(err)

	return ok && (code == sqliteBusy || code == sqliteLocked)
}

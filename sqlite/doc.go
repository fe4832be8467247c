// Package sqlite provides the SQLite backend for sqlqueue on modernc.org/sqlite.
//
// SQLite has no row locks, so receives claim with a single
// DELETE ... WHERE id = (SELECT ... ORDER BY priority, id LIMIT 1) RETURNING
// while holding the database write lock. Open configures one connection, WAL and
// a busy timeout so concurrent receivers queue on that lock instead of failing.
// Timestamps are stored as unix microseconds.
package sqlite

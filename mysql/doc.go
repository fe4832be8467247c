// Package mysql provides the MySQL 8.0+ backend for sqlqueue.
//
// Receives run inside READ COMMITTED transactions (to avoid gap locks) and claim with
//   - SELECT ... ORDER BY priority, id LIMIT 1 FOR UPDATE SKIP LOCKED
//   - DELETE ... WHERE id = ?
//
// so competing receivers skip each other's rows instead of waiting on them. The sweeper
// deletes expired rows the same way in small batches.
//
// See Schema for the table layout, or let Transport.EnsureSchema create it.
package mysql

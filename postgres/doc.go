// Package postgres provides the PostgreSQL backend for sqlqueue on pgx's database/sql driver.
//
// Receives run inside READ COMMITTED transactions and claim with one statement:
//
//	DELETE FROM t WHERE id = (
//	    SELECT id FROM t WHERE ... ORDER BY priority, id LIMIT 1 FOR UPDATE SKIP LOCKED
//	) RETURNING ...
//
// Open a *sql.DB with driver name "pgx".
package postgres

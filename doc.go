// Package sqlqueue implements a durable point-to-point message transport on top of a single SQL table.
//
// Every logical queue is a recipient address inside the shared table. Messages carry a
// priority, an optional visibility delay and an optional time-to-live, all read from
// reserved headers at send time.
//
// Typical flow:
//  1. Within a transaction, call Transport.Send to append a message for a recipient.
//  2. Call Transport.Receive inside another transaction to claim the next visible message
//     ordered by priority and then by id. Commit to consume it; roll back to put it back.
//  3. Run a Sweeper next to the receivers to delete messages that expired unreceived.
//
// Receiver wraps step 2 in a worker loop with commit-on-success semantics.
//
// Store specific SQL lives in the mysql, postgres and sqlite packages. MySQL and PostgreSQL
// use SELECT ... FOR UPDATE SKIP LOCKED under READ COMMITTED so competing receivers never
// wait on each other's rows; SQLite claims by DELETE ... RETURNING under its database lock.
package sqlqueue

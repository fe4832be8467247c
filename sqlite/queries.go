package sqlite

import (
	"fmt"
	"strings"
)

type queries struct {
	insert        string
	claim         string
	deleteExpired string
	count         string
	tableExists   string
}

func newQueries(table string) queries {
	master, bare := "sqlite_master", table
	if i := strings.LastIndexByte(table, '.'); i >= 0 {
		master, bare = table[:i]+".sqlite_master", table[i+1:]
	}
	eligible := "recipient = ? AND visible_at <= ? AND expires_at > ?"

	return queries{
		insert: fmt.Sprintf(
			"INSERT INTO %s (recipient, priority, visible_at, expires_at, headers, body) VALUES (?, ?, ?, ?, ?, ?)",
			table,
		),
		claim: fmt.Sprintf(
			"DELETE FROM %s WHERE id = (SELECT id FROM %s WHERE %s ORDER BY priority ASC, id ASC LIMIT 1) "+
				"RETURNING id, priority, headers, body",
			table,
			table,
			eligible,
		),
		deleteExpired: fmt.Sprintf(
			"DELETE FROM %s WHERE id IN (SELECT id FROM %s WHERE recipient = ? AND expires_at <= ? ORDER BY id ASC LIMIT ?)",
			table,
			table,
		),
		count: fmt.Sprintf("SELECT COUNT(*) FROM %s WHERE %s", table, eligible),
		// #nosec G201 -- schema name is sanitized.
		tableExists: fmt.Sprintf("SELECT COUNT(*) FROM %s WHERE type = 'table' AND name = '%s'", master, bare),
	}
}

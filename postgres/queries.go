package postgres

import "fmt"

type queries struct {
	insert        string
	claim         string
	deleteExpired string
	count         string
	tableExists   string
}

func newQueries(table string) queries {
	eligible := "recipient = $1 AND visible_at <= $2 AND expires_at > $2"

	return queries{
		insert: fmt.Sprintf(
			"INSERT INTO %s (recipient, priority, visible_at, expires_at, headers, body) VALUES ($1, $2, $3, $4, $5, $6)",
			table,
		),
		claim: fmt.Sprintf(
			"DELETE FROM %s WHERE id = ("+
				"SELECT id FROM %s WHERE %s ORDER BY priority ASC, id ASC LIMIT 1 FOR UPDATE SKIP LOCKED"+
				") RETURNING id, priority, headers, body",
			table,
			table,
			eligible,
		),
		deleteExpired: fmt.Sprintf(
			"DELETE FROM %s WHERE id IN ("+
				"SELECT id FROM %s WHERE recipient = $1 AND expires_at <= $2 ORDER BY id ASC LIMIT $3 FOR UPDATE SKIP LOCKED"+
				")",
			table,
			table,
		),
		count:       fmt.Sprintf("SELECT COUNT(*) FROM %s WHERE %s", table, eligible),
		tableExists: "SELECT to_regclass($1) IS NOT NULL",
	}
}

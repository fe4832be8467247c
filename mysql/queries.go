package mysql

import "fmt"

type queries struct {
	insert        string
	selectNext    string
	deleteByID    string
	selectExpired string
	count         string
	tableExists   string
}

func newQueries(table string) queries {
	eligible := "recipient = ? AND visible_at <= ? AND expires_at > ?"

	return queries{
		insert: fmt.Sprintf(
			"INSERT INTO %s (recipient, priority, visible_at, expires_at, headers, body) VALUES (?, ?, ?, ?, ?, ?)",
			table,
		),
		selectNext: fmt.Sprintf(
			"SELECT id, priority, headers, body FROM %s WHERE %s ORDER BY priority ASC, id ASC LIMIT 1 FOR UPDATE SKIP LOCKED",
			table,
			eligible,
		),
		deleteByID: fmt.Sprintf("DELETE FROM %s WHERE id = ?", table),
		selectExpired: fmt.Sprintf(
			"SELECT id FROM %s WHERE recipient = ? AND expires_at <= ? ORDER BY id ASC LIMIT ? FOR UPDATE SKIP LOCKED",
			table,
		),
		count: fmt.Sprintf("SELECT COUNT(*) FROM %s WHERE %s", table, eligible),
		tableExists: "SELECT COUNT(*) FROM information_schema.tables " +
			"WHERE table_schema = COALESCE(?, DATABASE()) AND table_name = ?",
	}
}

func buildDeleteIDs(table string, count int) string {
	return fmt.Sprintf("DELETE FROM %s WHERE id IN (%s)", table, makePlaceholders(count))
}

func makePlaceholders(count int) string {
	if count <= 0 {
		return ""
	}

	buf := make([]byte, 0, count*2)
	for i := 0; i < count; i++ {
		if i > 0 {
			buf = append(buf, ',')
		}
		buf = append(buf, '?')
	}

	return string(buf)
}

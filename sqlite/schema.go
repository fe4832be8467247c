package sqlite

import (
	"fmt"
	"strings"

	"github.com/velmie/sqlqueue"
)

const tableTemplate = `CREATE TABLE %s (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	recipient TEXT NOT NULL CHECK (length(recipient) <= 200),
	priority INTEGER NOT NULL,
	visible_at INTEGER NOT NULL,
	expires_at INTEGER NOT NULL,
	headers BLOB NOT NULL,
	body BLOB NOT NULL
)`

// Schema returns the statements that create a message table and its indexes, separated by semicolons.
func Schema(table string) (string, error) {
	name, err := sqlqueue.SanitizeTableName(table)
	if err != nil {
		return "", err
	}

	return strings.Join(schemaStatements(name), ";\n") + ";", nil
}

// schemaStatements qualifies index names with the table's schema, which SQLite
// requires for attached databases.
func schemaStatements(table string) []string {
	prefix, bare := "", table
	if i := strings.LastIndexByte(table, '.'); i >= 0 {
		prefix, bare = table[:i+1], table[i+1:]
	}

	return []string{
		fmt.Sprintf(tableTemplate, table),
		fmt.Sprintf(
			"CREATE UNIQUE INDEX %s%s ON %s (recipient, priority, id)",
			prefix, sqlqueue.IndexName(table, "receive"), bare,
		),
		fmt.Sprintf(
			"CREATE INDEX %s%s ON %s (expires_at)",
			prefix, sqlqueue.IndexName(table, "expiration"), bare,
		),
	}
}

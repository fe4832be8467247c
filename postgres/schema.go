package postgres

import (
	"fmt"
	"strings"

	"github.com/velmie/sqlqueue"
)

const tableTemplate = `CREATE TABLE %s (
	id BIGSERIAL PRIMARY KEY,
	recipient VARCHAR(200) NOT NULL,
	priority INTEGER NOT NULL,
	visible_at TIMESTAMPTZ NOT NULL,
	expires_at TIMESTAMPTZ NOT NULL,
	headers BYTEA NOT NULL,
	body BYTEA NOT NULL
)`

// Schema returns the statements that create a message table and its indexes, separated by semicolons.
func Schema(table string) (string, error) {
	name, err := sqlqueue.SanitizeTableName(table)
	if err != nil {
		return "", err
	}

	return strings.Join(schemaStatements(name), ";\n") + ";", nil
}

func schemaStatements(table string) []string {
	return []string{
		fmt.Sprintf(tableTemplate, table),
		fmt.Sprintf("CREATE UNIQUE INDEX %s ON %s (recipient, priority, id)", sqlqueue.IndexName(table, "receive"), table),
		fmt.Sprintf("CREATE INDEX %s ON %s (expires_at)", sqlqueue.IndexName(table, "expiration"), table),
	}
}

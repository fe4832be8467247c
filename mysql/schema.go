package mysql

import (
	"fmt"

	"github.com/velmie/sqlqueue"
)

const schemaTemplate = `CREATE TABLE %s (
	id BIGINT NOT NULL AUTO_INCREMENT,
	recipient VARCHAR(200) NOT NULL,
	priority INT NOT NULL,
	visible_at DATETIME(6) NOT NULL,
	expires_at DATETIME(6) NOT NULL,
	headers LONGBLOB NOT NULL,
	body LONGBLOB NOT NULL,
	PRIMARY KEY (id),
	UNIQUE INDEX %s (recipient, priority, id),
	INDEX %s (expires_at)
) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4;`

// Schema returns the CREATE TABLE statement for a message table.
func Schema(table string) (string, error) {
	name, err := sqlqueue.SanitizeTableName(table)
	if err != nil {
		return "", err
	}

	return buildSchema(name), nil
}

func buildSchema(table string) string {
	return fmt.Sprintf(
		schemaTemplate,
		table,
		sqlqueue.IndexName(table, "receive"),
		sqlqueue.IndexName(table, "expiration"),
	)
}

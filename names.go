package sqlqueue

import (
	"fmt"
	"strings"
)

// SanitizeTableName validates a table name made of [A-Za-z0-9_] parts separated by dots,
// e.g. "messages" or "queue.messages".
func SanitizeTableName(name string) (string, error) {
	if name == "" {
		return "", ErrTableNameRequired
	}
	parts := strings.Split(name, ".")
	for _, part := range parts {
		if part == "" {
			return "", fmt.Errorf("%w: %s", ErrInvalidTableName, name)
		}
		for _, r := range part {
			if r == '_' || (r >= '0' && r <= '9') || (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') {
				continue
			}

			return "", fmt.Errorf("%w: %s", ErrInvalidTableName, name)
		}
	}

	return name, nil
}

// IndexName derives an index name from a sanitized table name and a suffix,
// dropping any schema qualifier: IndexName("queue.messages", "receive") is "messages_receive".
func IndexName(table, suffix string) string {
	if i := strings.LastIndexByte(table, '.'); i >= 0 {
		table = table[i+1:]
	}

	return table + "_" + suffix
}

package mysql

import (
	"errors"
	"strings"
	"testing"

	"github.com/velmie/sqlqueue"
)

func TestSchema(t *testing.T) {
	schema, err := Schema("queue.messages")
	if err != nil {
		t.Fatalf("schema: %v", err)
	}
	for _, want := range []string{
		"CREATE TABLE queue.messages",
		"id BIGINT NOT NULL AUTO_INCREMENT",
		"recipient VARCHAR(200) NOT NULL",
		"UNIQUE INDEX messages_receive (recipient, priority, id)",
		"INDEX messages_expiration (expires_at)",
		"body LONGBLOB NOT NULL",
	} {
		if !strings.Contains(schema, want) {
			t.Fatalf("expected %q in schema:\n%s", want, schema)
		}
	}
}

func TestSchemaInvalidTable(t *testing.T) {
	if _, err := Schema("messages;drop"); !errors.Is(err, sqlqueue.ErrInvalidTableName) {
		t.Fatalf("expected invalid table name, got %v", err)
	}
}

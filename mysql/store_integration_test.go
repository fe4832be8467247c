//go:build integration

package mysql_test

import (
	"context"
	"fmt"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/velmie/sqlqueue"
	"github.com/velmie/sqlqueue/internal/queuetest"
	"github.com/velmie/sqlqueue/internal/testutil"
	"github.com/velmie/sqlqueue/mysql"
)

func TestTransportSuiteIntegration(t *testing.T) {
	if testing.Short() {
		t.Skip("integration test disabled in short mode")
	}

	ctx := context.Background()
	database := testutil.StartMySQLContainer(t, ctx)
	var tables atomic.Int64

	queuetest.Run(t, func(t *testing.T) queuetest.Env {
		table := fmt.Sprintf("messages_%d", tables.Add(1))
		setup, err := mysql.New(database.DB, "", mysql.WithTable(table))
		require.NoError(t, err)
		require.NoError(t, setup.EnsureSchema(ctx))

		return queuetest.Env{
			Open: func(address string, opts ...sqlqueue.Option) (*sqlqueue.Transport, error) {
				return mysql.New(database.DB, address, mysql.WithTable(table), mysql.WithTransportOptions(opts...))
			},
			ConcurrentTransactions: true,
		}
	})
}

func TestSchemaMatchesDialectIntegration(t *testing.T) {
	if testing.Short() {
		t.Skip("integration test disabled in short mode")
	}

	ctx := context.Background()
	database := testutil.StartMySQLContainer(t, ctx)

	schema, err := mysql.Schema("external_messages")
	require.NoError(t, err)
	_, err = database.DB.ExecContext(ctx, schema)
	require.NoError(t, err)

	tr, err := mysql.New(database.DB, "q", mysql.WithTable("external_messages"))
	require.NoError(t, err)
	require.NoError(t, tr.EnsureSchema(ctx))

	conn, err := tr.Begin(ctx)
	require.NoError(t, err)
	require.NoError(t, tr.Send(ctx, conn, "q", sqlqueue.Message{Body: []byte("x")}))
	require.NoError(t, conn.Complete())
	require.NoError(t, conn.Close())

	count, err := tr.PendingCount(ctx)
	require.NoError(t, err)
	require.Equal(t, 1, count)
}

func TestMissingTableIntegration(t *testing.T) {
	if testing.Short() {
		t.Skip("integration test disabled in short mode")
	}

	ctx := context.Background()
	database := testutil.StartMySQLContainer(t, ctx)

	tr, err := mysql.New(database.DB, "q", mysql.WithTable("absent"))
	require.NoError(t, err)

	conn, err := tr.Begin(ctx)
	require.NoError(t, err)
	defer conn.Close()

	_, err = tr.Receive(ctx, conn)
	require.ErrorIs(t, err, sqlqueue.ErrTableMissing)
}

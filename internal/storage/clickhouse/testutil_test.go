package clickhouse_test

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
	"go.uber.org/zap"

	chstore "anchor-flow-lab/internal/storage/clickhouse"
	"anchor-flow-lab/internal/storage/migrations"
)

// setupTestDB starts a ClickHouse container and returns a connection to a
// freshly migrated database. Skipped with -short.
func setupTestDB(t *testing.T) *chstore.Conn {
	t.Helper()

	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}

	ctx := context.Background()

	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: testcontainers.ContainerRequest{
			Image:        "clickhouse/clickhouse-server:24.1-alpine",
			ExposedPorts: []string{"9000/tcp"},
			Env:          map[string]string{"CLICKHOUSE_USER": "default", "CLICKHOUSE_PASSWORD": ""},
			WaitingFor: wait.ForAll(
				wait.ForLog("Application: Ready for connections").WithStartupTimeout(60*time.Second),
				wait.ForListeningPort("9000/tcp"),
			),
		},
		Started: true,
	})
	require.NoError(t, err, "failed to start clickhouse container")
	t.Cleanup(func() { _ = container.Terminate(ctx) })

	host, err := container.Host(ctx)
	require.NoError(t, err)
	port, err := container.MappedPort(ctx, "9000")
	require.NoError(t, err)

	// the migration creates the database
	dsn := fmt.Sprintf("clickhouse://default@%s:%s/flows?compress=none", host, port.Port())
	conn, err := migrations.RunClickhouseMigrations(ctx, dsn, zap.NewNop().Sugar())
	require.NoError(t, err, "failed to migrate clickhouse")
	t.Cleanup(func() { _ = conn.Close() })

	return conn
}

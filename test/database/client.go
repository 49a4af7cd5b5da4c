// Package database provides *database.Client constructors for integration
// tests, backed by isolated per-test schemas.
package database

import (
	"context"
	"testing"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	pgxvector "github.com/pgvector/pgvector-go/pgx"
	"github.com/stretchr/testify/require"

	"github.com/chatbridge/linecore/pkg/database"
	"github.com/chatbridge/linecore/test/util"
)

// NewTestClient creates a database client on a fresh schema with all
// migrations applied. The schema and the pool are cleaned up when the test
// ends.
func NewTestClient(t *testing.T) *database.Client {
	t.Helper()
	dsn := util.SetupTestDatabase(t)
	return openPool(t, dsn)
}

// openPool opens a pgx pool on dsn with the same pgvector codec registration
// the production client uses.
func openPool(t *testing.T, dsn string) *database.Client {
	t.Helper()
	ctx := context.Background()

	poolCfg, err := pgxpool.ParseConfig(dsn)
	require.NoError(t, err)
	poolCfg.MaxConns = 10
	poolCfg.MinConns = 2
	poolCfg.AfterConnect = func(ctx context.Context, conn *pgx.Conn) error {
		return pgxvector.RegisterTypes(ctx, conn)
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	require.NoError(t, err)
	require.NoError(t, pool.Ping(ctx))

	t.Cleanup(pool.Close)

	// The zero Config is fine here: tests never rebuild the DSN from it.
	return database.NewClientFromPool(pool, database.Config{})
}

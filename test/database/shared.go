package database

import (
	"context"
	stdsql "database/sql"
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/chatbridge/linecore/pkg/database"
	"github.com/chatbridge/linecore/test/util"
)

// SharedTestDB is one PostgreSQL schema reachable from several independent
// connection pools. Tests that model multiple server replicas (webhook dedup
// under concurrent redelivery, get-or-create races) create one of these and
// call NewClient once per replica.
type SharedTestDB struct {
	connStrWithSchema string
	baseConnStr       string
	schemaName        string
}

// NewSharedTestDB creates the schema, migrates it once, and registers a
// t.Cleanup that drops it after every per-client cleanup has run (cleanups
// fire in LIFO order).
func NewSharedTestDB(t *testing.T) *SharedTestDB {
	t.Helper()
	ctx := context.Background()

	baseConnStr := util.GetBaseConnectionString(t)
	schemaName := util.GenerateSchemaName(t)

	db, err := stdsql.Open("pgx", baseConnStr)
	require.NoError(t, err)
	_, err = db.ExecContext(ctx, fmt.Sprintf("CREATE SCHEMA %s", schemaName))
	require.NoError(t, err)
	_ = db.Close()
	t.Logf("SharedTestDB: created schema %s", schemaName)

	connStrWithSchema := util.AddSearchPathToConnString(baseConnStr, schemaName)
	require.NoError(t, database.RunMigrations(ctx, connStrWithSchema, "test"))

	t.Cleanup(func() {
		dropDB, err := stdsql.Open("pgx", baseConnStr)
		if err != nil {
			t.Logf("SharedTestDB: could not reconnect to drop schema %s: %v", schemaName, err)
			return
		}
		defer func() { _ = dropDB.Close() }()
		if _, err := dropDB.ExecContext(context.Background(), fmt.Sprintf("DROP SCHEMA IF EXISTS %s CASCADE", schemaName)); err != nil {
			t.Logf("SharedTestDB: failed to drop schema %s: %v", schemaName, err)
		}
	})

	return &SharedTestDB{
		connStrWithSchema: connStrWithSchema,
		baseConnStr:       baseConnStr,
		schemaName:        schemaName,
	}
}

// NewClient opens an independent pool on the shared schema, closed via
// t.Cleanup. Each replica gets its own pool so one can be shut down without
// disturbing the others.
func (s *SharedTestDB) NewClient(t *testing.T) *database.Client {
	t.Helper()
	return openPool(t, s.connStrWithSchema)
}

// Package database provides the PostgreSQL connection pool, embedded schema
// migrations, and health reporting.
package database

import (
	"context"
	"fmt"

	"github.com/doug-martin/goqu/v9"
	// Register the postgres dialect used by all query builders.
	_ "github.com/doug-martin/goqu/v9/dialect/postgres"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	pgxvector "github.com/pgvector/pgvector-go/pgx"
)

// Goqu is the SQL builder dialect shared by every store query in the project.
var Goqu = goqu.Dialect("postgres")

// Client wraps a pgx connection pool and carries the configuration it was
// opened with so other components can reuse the connection string.
type Client struct {
	pool *pgxpool.Pool
	cfg  Config
}

// Pool returns the underlying connection pool for direct queries.
func (c *Client) Pool() *pgxpool.Pool {
	return c.pool
}

// DSN returns the connection string the pool was built from.
func (c *Client) DSN() string {
	return c.cfg.DSN()
}

// Close releases all pooled connections.
func (c *Client) Close() {
	c.pool.Close()
}

// NewClientFromPool wraps an existing pool (useful for testing).
func NewClientFromPool(pool *pgxpool.Pool, cfg Config) *Client {
	return &Client{pool: pool, cfg: cfg}
}

// NewClient applies pending migrations and opens a connection pool.
// Migrations run first on a plain connection: the pool registers the pgvector
// codec on connect, which requires the vector extension the initial migration
// creates.
func NewClient(ctx context.Context, cfg Config) (*Client, error) {
	if err := RunMigrations(ctx, cfg.DSN(), cfg.Database); err != nil {
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	poolCfg, err := pgxpool.ParseConfig(cfg.DSN())
	if err != nil {
		return nil, fmt.Errorf("failed to parse database config: %w", err)
	}

	poolCfg.MaxConns = int32(cfg.MaxConns)
	poolCfg.MinConns = int32(cfg.MinConns)
	poolCfg.MaxConnLifetime = cfg.ConnMaxLifetime
	poolCfg.MaxConnIdleTime = cfg.ConnMaxIdleTime

	// knowledge_chunks.embedding scans into pgvector.Vector, so the codec
	// must be registered on every pooled connection.
	poolCfg.AfterConnect = func(ctx context.Context, conn *pgx.Conn) error {
		return pgxvector.RegisterTypes(ctx, conn)
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return &Client{pool: pool, cfg: cfg}, nil
}

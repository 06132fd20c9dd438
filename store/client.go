package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"go.uber.org/zap"

	"github.com/bgalvandev/clinicsay-migrations/engine"
)

// Config holds PostgreSQL connection settings.
type Config struct {
	DSN          string
	MaxOpenConns int
	MaxIdleConns int
	MaxLifetime  time.Duration
}

// Client is the PostgreSQL store client. It implements engine.Store:
// scoped transactions with guaranteed release, and natural-key lookups of
// generated identifiers.
type Client struct {
	db     *sqlx.DB
	logger *zap.Logger
}

var _ engine.Store = (*Client)(nil)

// NewClient connects to PostgreSQL and configures the connection pool.
func NewClient(config Config, logger *zap.Logger) (*Client, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	db, err := sqlx.Connect("postgres", config.DSN)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to PostgreSQL: %w", err)
	}

	if config.MaxOpenConns > 0 {
		db.SetMaxOpenConns(config.MaxOpenConns)
	}
	if config.MaxIdleConns > 0 {
		db.SetMaxIdleConns(config.MaxIdleConns)
	}
	if config.MaxLifetime > 0 {
		db.SetConnMaxLifetime(config.MaxLifetime)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	logger.Info("Store client initialized",
		zap.Int("max_open_conns", config.MaxOpenConns),
		zap.Int("max_idle_conns", config.MaxIdleConns))

	return &Client{
		db:     db,
		logger: logger.With(zap.String("component", "store_client")),
	}, nil
}

// DB exposes the underlying handle for ad hoc queries (dimension target
// fetches, health checks).
func (c *Client) DB() *sqlx.DB {
	return c.db
}

// Close releases the connection pool.
func (c *Client) Close() error {
	return c.db.Close()
}

// HealthCheck verifies database connectivity.
func (c *Client) HealthCheck(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	var result int
	if err := c.db.GetContext(ctx, &result, "SELECT 1"); err != nil {
		return fmt.Errorf("database health check failed: %w", err)
	}
	return nil
}

// Execute runs one statement outside a transaction.
func (c *Client) Execute(ctx context.Context, query string, args ...interface{}) (sql.Result, error) {
	return c.db.ExecContext(ctx, query, args...)
}

// WithTransaction runs fn inside one transaction. Commit, rollback and
// connection release are guaranteed on every exit path, including a panic
// in fn.
func (c *Client) WithTransaction(ctx context.Context, fn func(tx engine.StoreTx) error) error {
	tx, err := c.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}

	defer func() {
		if p := recover(); p != nil {
			tx.Rollback()
			panic(p)
		}
	}()

	if err := fn(tx); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			return fmt.Errorf("transaction error: %v, rollback error: %v", err, rbErr)
		}
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}

	return nil
}

// LookupGeneratedIDs resolves store-assigned ids for rows of the given
// table by their source id, scoped to a tenant when one is set. Source ids
// with no row are absent from the result; callers treat absence as "never
// persisted".
func (c *Client) LookupGeneratedIDs(ctx context.Context, table string, sourceIDs []string, tenantID uuid.UUID) (map[string]int64, error) {
	if len(sourceIDs) == 0 {
		return map[string]int64{}, nil
	}

	query := fmt.Sprintf("SELECT id, source_id FROM %s WHERE source_id = ANY($1)", pq.QuoteIdentifier(table))
	args := []interface{}{pq.Array(sourceIDs)}
	if tenantID != uuid.Nil {
		query += " AND tenant_id = $2"
		args = append(args, tenantID)
	}

	rows, err := c.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("generated id lookup on %s failed: %w", table, err)
	}
	defer rows.Close()

	result := make(map[string]int64, len(sourceIDs))
	for rows.Next() {
		var id int64
		var sourceID string
		if err := rows.Scan(&id, &sourceID); err != nil {
			return nil, fmt.Errorf("generated id scan on %s failed: %w", table, err)
		}
		result[sourceID] = id
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("generated id iteration on %s failed: %w", table, err)
	}

	return result, nil
}

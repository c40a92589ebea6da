// Package sqlstore is the database/sql scan client adapter. It compiles
// pushdown predicates into WHERE clauses and serves both the postgres (pgx)
// and embedded duckdb drivers.
package sqlstore

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	_ "github.com/marcboeker/go-duckdb/v2"

	"github.com/rowlink/rowlink/internal/store"
)

type Config struct {
	Dialect Dialect
	// DSN is the postgres connection string, or the duckdb database file
	// (empty for in-memory).
	DSN             string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxIdleTime time.Duration
	ConnMaxLifetime time.Duration
}

// Connect opens and pings the database, implementing store.Connector.
func (c Config) Connect(ctx context.Context) (store.Client, error) {
	if c.Dialect == DialectPostgres && c.DSN == "" {
		return nil, fmt.Errorf("store dsn is required")
	}

	db, err := sql.Open(c.Dialect.DriverName(), c.DSN)
	if err != nil {
		return nil, fmt.Errorf("open store db: %w", err)
	}
	if c.MaxOpenConns > 0 {
		db.SetMaxOpenConns(c.MaxOpenConns)
	}
	if c.MaxIdleConns > 0 {
		db.SetMaxIdleConns(c.MaxIdleConns)
	}
	if c.ConnMaxIdleTime > 0 {
		db.SetConnMaxIdleTime(c.ConnMaxIdleTime)
	}
	if c.ConnMaxLifetime > 0 {
		db.SetConnMaxLifetime(c.ConnMaxLifetime)
	}

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping store db: %w", err)
	}

	return &Client{db: db, dialect: c.Dialect}, nil
}

type Client struct {
	db      *sql.DB
	dialect Dialect
	closed  bool
}

// NewClient wraps an already-open handle; used by tests with sqlmock.
func NewClient(db *sql.DB, dialect Dialect) *Client {
	return &Client{db: db, dialect: dialect}
}

func (c *Client) TableExists(ctx context.Context, name string) (bool, error) {
	if c.closed {
		return false, store.ErrClosed
	}
	query := fmt.Sprintf(
		"SELECT COUNT(*) FROM information_schema.tables WHERE table_name = %s",
		c.dialect.placeholder(1),
	)
	var count int
	if err := c.db.QueryRowContext(ctx, query, name).Scan(&count); err != nil {
		return false, fmt.Errorf("check table %q: %w", name, err)
	}
	return count > 0, nil
}

func (c *Client) OpenTable(ctx context.Context, name string) (store.Table, error) {
	if c.closed {
		return nil, store.ErrClosed
	}
	exists, err := c.TableExists(ctx, name)
	if err != nil {
		return nil, err
	}
	if !exists {
		return nil, fmt.Errorf("table %q: %w", name, store.ErrTableNotFound)
	}
	return &Table{client: c, name: name}, nil
}

func (c *Client) CreateTable(ctx context.Context, name string, schema store.Schema, opts store.CreateOptions) (store.Table, error) {
	if c.closed {
		return nil, store.ErrClosed
	}
	ddl, err := renderCreateTable(c.dialect, name, schema)
	if err != nil {
		return nil, err
	}
	if _, err := c.db.ExecContext(ctx, ddl); err != nil {
		return nil, fmt.Errorf("create table %q: %w", name, err)
	}
	return &Table{client: c, name: name}, nil
}

func (c *Client) Close() error {
	if c.closed {
		return nil
	}
	c.closed = true
	if err := c.db.Close(); err != nil {
		return fmt.Errorf("close store db: %w", err)
	}
	return nil
}

func renderCreateTable(dialect Dialect, name string, schema store.Schema) (string, error) {
	if len(schema.Columns) == 0 {
		return "", fmt.Errorf("schema for table %q has no columns", name)
	}
	defs := make([]string, 0, len(schema.Columns)+1)
	for _, column := range schema.Columns {
		typeName, err := dialect.typeName(column.Type)
		if err != nil {
			return "", fmt.Errorf("column %q: %w", column.Name, err)
		}
		def := quoteIdent(column.Name) + " " + typeName
		if column.Key || !column.Nullable {
			def += " NOT NULL"
		}
		defs = append(defs, def)
	}
	if keys := schema.KeyColumns(); len(keys) > 0 {
		quoted := make([]string, len(keys))
		for i, key := range keys {
			quoted[i] = quoteIdent(key)
		}
		defs = append(defs, "PRIMARY KEY ("+strings.Join(quoted, ", ")+")")
	}
	return "CREATE TABLE " + quoteIdent(name) + " (" + strings.Join(defs, ", ") + ")", nil
}

func quoteIdent(value string) string {
	return `"` + strings.ReplaceAll(value, `"`, `""`) + `"`
}

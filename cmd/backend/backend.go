// Package backend adapts database/sql drivers into the SQL execution backend the diff
// engine runs against.
package backend

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/airframesio/data-differ/cmd/comparison"
)

var (
	ErrUnsupportedDriver = errors.New("unsupported backend driver")
	ErrNoRows            = errors.New("count query returned no rows")
)

// Backend runs read-only SQL text. Cancelling ctx aborts the in-flight query when the
// driver supports it.
type Backend interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	Dialect() Dialect
}

// DB is a Backend over a *sql.DB connection pool
type DB struct {
	db      *sql.DB
	dialect Dialect
}

// New wraps an already opened pool
func New(db *sql.DB, dialect Dialect) *DB {
	return &DB{db: db, dialect: dialect}
}

// Open connects to the backend identified by driver and verifies the connection
func Open(ctx context.Context, driver, dsn string) (*DB, error) {
	dialect, err := GetDialect(driver)
	if err != nil {
		return nil, err
	}

	db, err := sql.Open(dialect.DriverName(), dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s backend: %w", dialect.Name(), err)
	}

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to %s backend: %w", dialect.Name(), err)
	}

	// In-memory DuckDB and SQLite databases are per connection, so keep exactly one.
	if dsn == "" || strings.Contains(dsn, ":memory:") {
		db.SetMaxOpenConns(1)
	}

	return New(db, dialect), nil
}

func (d *DB) QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error) {
	return d.db.QueryContext(ctx, query, args...)
}

func (d *DB) Dialect() Dialect {
	return d.dialect
}

// SQL exposes the underlying pool
func (d *DB) SQL() *sql.DB {
	return d.db
}

func (d *DB) Close() error {
	return d.db.Close()
}

// QueryCount runs a query returning a single integer
func QueryCount(ctx context.Context, b Backend, query string, args ...any) (int64, error) {
	rows, err := b.QueryContext(ctx, query, args...)
	if err != nil {
		return 0, err
	}
	defer rows.Close()

	if !rows.Next() {
		if err := rows.Err(); err != nil {
			return 0, err
		}
		return 0, ErrNoRows
	}

	var count sql.NullInt64
	if err := rows.Scan(&count); err != nil {
		return 0, err
	}
	if err := rows.Err(); err != nil {
		return 0, err
	}
	return count.Int64, nil
}

// QuoteIdent double-quotes an identifier, doubling embedded quotes
func QuoteIdent(name string) string {
	return `"` + strings.ReplaceAll(name, `"`, `""`) + `"`
}

// SourceRef renders a source for use after FROM
func SourceRef(src comparison.Source) string {
	if src.Type == comparison.SourceQuery {
		return "(" + src.SQL + ") AS " + QuoteIdent(src.Alias)
	}

	var parts []string
	for _, p := range []string{src.DatabaseName, src.SchemaName, src.TableName} {
		if p != "" {
			parts = append(parts, QuoteIdent(p))
		}
	}
	return strings.Join(parts, ".")
}

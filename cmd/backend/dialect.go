package backend

import (
	"fmt"
	"strings"

	_ "github.com/duckdb/duckdb-go/v2"
	_ "github.com/lib/pq"
)

// Dialect names
const (
	DialectDuckDB   = "duckdb"
	DialectPostgres = "postgres"
	DialectSQLite   = "sqlite"
)

// MaxHash is the exclusive upper bound of every dialect's hash expression
const MaxHash uint64 = 1 << 63

// Dialect captures the few places where generated SQL differs between backends
type Dialect interface {
	Name() string
	DriverName() string

	// HashExpr returns an integer expression in [0, MaxHash) over the given expressions
	HashExpr(exprs []string) string
	NumericCast(expr string) string
	TextCast(expr string) string

	// KeyConstraintsQuery lists (constraint_name, constraint_type, column_name) for a
	// table. ok is false when the backend has no catalog for it.
	KeyConstraintsQuery(schemaName, tableName string) (query string, args []any, ok bool)
	// RowEstimateQuery returns a cheap catalog row estimate query
	RowEstimateQuery(schemaName, tableName string) (query string, args []any, ok bool)
}

// GetDialect returns the dialect for a driver name
func GetDialect(driver string) (Dialect, error) {
	switch strings.ToLower(driver) {
	case "duckdb", "":
		return DuckDB{}, nil
	case "postgres", "postgresql", "pg":
		return Postgres{}, nil
	case "sqlite", "sqlite3":
		return SQLite{}, nil
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedDriver, driver)
	}
}

// DuckDB hashes with the built-in hash() and drops the top bit to stay inside BIGINT
type DuckDB struct{}

func (DuckDB) Name() string       { return DialectDuckDB }
func (DuckDB) DriverName() string { return "duckdb" }

func (DuckDB) HashExpr(exprs []string) string {
	return "(hash(" + strings.Join(exprs, ", ") + ") >> 1)"
}

func (DuckDB) NumericCast(expr string) string { return "CAST(" + expr + " AS DOUBLE)" }
func (DuckDB) TextCast(expr string) string    { return "CAST(" + expr + " AS VARCHAR)" }

func (DuckDB) KeyConstraintsQuery(schemaName, tableName string) (string, []any, bool) {
	return informationSchemaConstraints("?", schemaName, tableName)
}

func (DuckDB) RowEstimateQuery(schemaName, tableName string) (string, []any, bool) {
	query := "SELECT estimated_size FROM duckdb_tables() WHERE table_name = ?"
	args := []any{tableName}
	if schemaName != "" {
		query += " AND schema_name = ?"
		args = append(args, schemaName)
	}
	return query, args, true
}

// Postgres hashes the text rendering of the key with hashtextextended
type Postgres struct{}

func (Postgres) Name() string       { return DialectPostgres }
func (Postgres) DriverName() string { return "postgres" }

func (Postgres) HashExpr(exprs []string) string {
	texts := make([]string, len(exprs))
	for i, e := range exprs {
		texts[i] = "CAST(" + e + " AS text)"
	}
	return "(hashtextextended(concat_ws('|', " + strings.Join(texts, ", ") + "), 0) & 9223372036854775807)"
}

func (Postgres) NumericCast(expr string) string { return "CAST(" + expr + " AS double precision)" }
func (Postgres) TextCast(expr string) string    { return "CAST(" + expr + " AS text)" }

func (Postgres) KeyConstraintsQuery(schemaName, tableName string) (string, []any, bool) {
	if schemaName == "" {
		schemaName = "public"
	}
	return informationSchemaConstraints("$", schemaName, tableName)
}

func (Postgres) RowEstimateQuery(schemaName, tableName string) (string, []any, bool) {
	if schemaName == "" {
		schemaName = "public"
	}
	return `SELECT GREATEST(c.reltuples, 0)::bigint FROM pg_class c
JOIN pg_namespace n ON n.oid = c.relnamespace
WHERE c.relname = $1 AND n.nspname = $2`, []any{tableName, schemaName}, true
}

// informationSchemaConstraints builds the constraint lookup shared by DuckDB and
// PostgreSQL. placeholder is "?" or "$" (numbered).
func informationSchemaConstraints(placeholder, schemaName, tableName string) (string, []any, bool) {
	param := func(n int) string {
		if placeholder == "$" {
			return fmt.Sprintf("$%d", n)
		}
		return "?"
	}

	query := `SELECT tc.constraint_name, tc.constraint_type, kcu.column_name
FROM information_schema.table_constraints tc
JOIN information_schema.key_column_usage kcu
  ON tc.constraint_name = kcu.constraint_name
 AND tc.table_schema = kcu.table_schema
 AND tc.table_name = kcu.table_name
WHERE tc.constraint_type IN ('PRIMARY KEY', 'UNIQUE') AND tc.table_name = ` + param(1)
	args := []any{tableName}
	if schemaName != "" {
		query += " AND tc.table_schema = " + param(2)
		args = append(args, schemaName)
	}
	query += " ORDER BY tc.constraint_name, kcu.ordinal_position"
	return query, args, true
}

package backend

import (
	"database/sql"
	"encoding/binary"
	"fmt"
	"hash/fnv"
	"math"
	"strings"

	"github.com/mattn/go-sqlite3"
)

const (
	sqliteDriverName = "sqlite3_differ"
	sqliteHashFunc   = "differ_hash"
)

func init() {
	sql.Register(sqliteDriverName, &sqlite3.SQLiteDriver{
		ConnectHook: func(conn *sqlite3.SQLiteConn) error {
			return conn.RegisterFunc(sqliteHashFunc, HashValues, true)
		},
	})
}

// SQLite has no built-in hash, so every connection gets differ_hash registered
type SQLite struct{}

func (SQLite) Name() string       { return DialectSQLite }
func (SQLite) DriverName() string { return sqliteDriverName }

func (SQLite) HashExpr(exprs []string) string {
	return sqliteHashFunc + "(" + strings.Join(exprs, ", ") + ")"
}

func (SQLite) NumericCast(expr string) string { return "CAST(" + expr + " AS REAL)" }
func (SQLite) TextCast(expr string) string    { return "CAST(" + expr + " AS TEXT)" }

func (SQLite) KeyConstraintsQuery(_, tableName string) (string, []any, bool) {
	return "SELECT 'pk', 'PRIMARY KEY', name FROM pragma_table_info(?) WHERE pk > 0 ORDER BY pk",
		[]any{tableName}, true
}

func (SQLite) RowEstimateQuery(_, _ string) (string, []any, bool) {
	return "", nil, false
}

// HashValues is FNV-1a over a tagged encoding of the values, masked to 63 bits.
// Equal values of the same SQLite storage class always hash the same.
func HashValues(values ...interface{}) int64 {
	h := fnv.New64a()
	var buf [8]byte
	for _, v := range values {
		switch x := v.(type) {
		case nil:
			h.Write([]byte{0})
		case int64:
			h.Write([]byte{1})
			binary.BigEndian.PutUint64(buf[:], uint64(x))
			h.Write(buf[:])
		case float64:
			// Integral floats hash like integers so 5 and 5.0 land in the same bucket.
			if x == math.Trunc(x) && math.Abs(x) < 1<<63 {
				h.Write([]byte{1})
				binary.BigEndian.PutUint64(buf[:], uint64(int64(x)))
			} else {
				h.Write([]byte{2})
				binary.BigEndian.PutUint64(buf[:], math.Float64bits(x))
			}
			h.Write(buf[:])
		case string:
			h.Write([]byte{3})
			h.Write([]byte(x))
		case []byte:
			h.Write([]byte{4})
			h.Write(x)
		default:
			h.Write([]byte{5})
			h.Write([]byte(fmt.Sprint(x)))
		}
		h.Write([]byte{0x1f})
	}
	return int64(h.Sum64() & math.MaxInt64)
}

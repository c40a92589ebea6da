package sqlstore

import (
	"fmt"

	"github.com/rowlink/rowlink/internal/expr"
)

// Dialect selects placeholder style and type names for the underlying
// driver.
type Dialect int

const (
	DialectPostgres Dialect = iota
	DialectDuckDB
)

func (d Dialect) DriverName() string {
	if d == DialectDuckDB {
		return "duckdb"
	}
	return "pgx"
}

func (d Dialect) placeholder(n int) string {
	if d == DialectDuckDB {
		return "?"
	}
	return fmt.Sprintf("$%d", n)
}

func (d Dialect) typeName(t expr.Type) (string, error) {
	switch t {
	case expr.TypeBool:
		return "BOOLEAN", nil
	case expr.TypeInt32:
		return "INTEGER", nil
	case expr.TypeInt64:
		return "BIGINT", nil
	case expr.TypeFloat32:
		return "REAL", nil
	case expr.TypeFloat64:
		return "DOUBLE PRECISION", nil
	case expr.TypeString:
		return "TEXT", nil
	case expr.TypeBytes:
		if d == DialectDuckDB {
			return "BLOB", nil
		}
		return "BYTEA", nil
	case expr.TypeTimestamp:
		return "TIMESTAMP", nil
	default:
		return "", fmt.Errorf("unsupported column type %q", t)
	}
}

package sqlstore

import (
	"errors"
	"fmt"
	"strconv"

	"github.com/lib/pq"
	"github.com/mattn/go-sqlite3"
)

// Dialect captures the SQL differences between the supported drivers
type Dialect interface {
	// Name returns the driver name accepted by database/sql
	Name() string

	// Placeholder returns the bind marker for the n-th argument (1-based)
	Placeholder(n int) string

	// AttributeText returns an expression rendering attribute key of the JSON column as text
	AttributeText(column, key string) string

	// IsUniqueViolation reports whether err is a unique constraint violation
	IsUniqueViolation(err error) bool
}

// Postgres is the dialect for github.com/lib/pq
var Postgres Dialect = postgresDialect{}

// SQLite is the dialect for github.com/mattn/go-sqlite3
var SQLite Dialect = sqliteDialect{}

// DialectFor returns the dialect for a driver name
func DialectFor(driver string) (Dialect, error) {
	switch driver {
	case "postgres":
		return Postgres, nil
	case "sqlite3", "sqlite":
		return SQLite, nil
	default:
		return nil, fmt.Errorf("unsupported database driver: %s", driver)
	}
}

type postgresDialect struct{}

func (postgresDialect) Name() string { return "postgres" }

func (postgresDialect) Placeholder(n int) string { return "$" + strconv.Itoa(n) }

func (postgresDialect) AttributeText(column, key string) string {
	return fmt.Sprintf("(%s ->> %s)", column, key)
}

// 23505 is unique_violation
func (postgresDialect) IsUniqueViolation(err error) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && pqErr.Code == "23505"
}

type sqliteDialect struct{}

func (sqliteDialect) Name() string { return "sqlite3" }

func (sqliteDialect) Placeholder(int) string { return "?" }

func (sqliteDialect) AttributeText(column, key string) string {
	return fmt.Sprintf("CAST(json_extract(%s, '$.' || %s) AS TEXT)", column, key)
}

func (sqliteDialect) IsUniqueViolation(err error) bool {
	var sqliteErr sqlite3.Error
	if !errors.As(err, &sqliteErr) {
		return false
	}
	return sqliteErr.ExtendedCode == sqlite3.ErrConstraintUnique ||
		sqliteErr.ExtendedCode == sqlite3.ErrConstraintPrimaryKey
}

package db

import "database/sql"

// Dialect names the SQL flavour behind a *sql.DB.
type Dialect string

const (
	// DialectPostgres is the production dialect.
	DialectPostgres Dialect = "postgres"
	// DialectSQLite backs local tooling and tests.
	DialectSQLite Dialect = "sqlite3"
)

// TxOptions returns the transaction options used for multi-statement writes.
// SQLite only supports its default isolation.
func (d Dialect) TxOptions() *sql.TxOptions {
	if d == DialectPostgres {
		return &sql.TxOptions{Isolation: sql.LevelRepeatableRead}
	}
	return nil
}

func (d Dialect) migrationsDir() string {
	if d == DialectPostgres {
		return "migrations/postgres"
	}
	return "migrations/sqlite"
}

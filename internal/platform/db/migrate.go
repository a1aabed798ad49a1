package db

import (
	"context"
	"database/sql"
	"fmt"
	"sync"

	"github.com/pressly/goose/v3"
)

// goose keeps its base FS and dialect in package state.
var migrateMu sync.Mutex

// Migrate applies all pending migrations for the dialect.
func Migrate(ctx context.Context, conn *sql.DB, dialect Dialect) error {
	migrateMu.Lock()
	defer migrateMu.Unlock()

	goose.SetBaseFS(Migrations)
	goose.SetLogger(goose.NopLogger())

	if err := goose.SetDialect(string(dialect)); err != nil {
		return fmt.Errorf("platform/db: goose set dialect: %w", err)
	}

	if err := goose.UpContext(ctx, conn, dialect.migrationsDir()); err != nil {
		return fmt.Errorf("platform/db: goose up: %w", err)
	}

	return nil
}

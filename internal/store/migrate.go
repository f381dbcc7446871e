package store

import (
	"context"
	"embed"
	"sync"

	"github.com/pressly/goose/v3"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// goose keeps its dialect and filesystem in package state.
var migrateMu sync.Mutex

// Migrate brings the schema up to date. The SQL is shared by both dialects.
func (s *Store) Migrate(ctx context.Context) error {
	migrateMu.Lock()
	defer migrateMu.Unlock()

	dialect := "sqlite3"
	if s.dialect == Postgres {
		dialect = "postgres"
	}
	if err := goose.SetDialect(dialect); err != nil {
		return err
	}

	goose.SetBaseFS(migrationsFS)
	goose.SetLogger(goose.NopLogger())
	return goose.UpContext(ctx, s.db, "migrations")
}

// SchemaVersion reports the applied migration version.
func (s *Store) SchemaVersion(ctx context.Context) (int64, error) {
	migrateMu.Lock()
	defer migrateMu.Unlock()

	dialect := "sqlite3"
	if s.dialect == Postgres {
		dialect = "postgres"
	}
	if err := goose.SetDialect(dialect); err != nil {
		return 0, err
	}
	return goose.GetDBVersionContext(ctx, s.db)
}

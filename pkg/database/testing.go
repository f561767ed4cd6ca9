package database

import (
	"context"
	"database/sql"
	"fmt"
	"testing"

	"github.com/google/uuid"

	"github.com/sakconstructions/storefront/pkg/config"
)

// NewTestDB returns a migrated, isolated in-memory SQLite database closed at test end
func NewTestDB(t testing.TB) *sql.DB {
	t.Helper()

	ctx := context.Background()
	db, err := Open(ctx, config.DatabaseConfig{
		Driver: DriverSQLite,
		URL:    fmt.Sprintf("file:%s?mode=memory&cache=shared&_foreign_keys=on", uuid.NewString()),
	})
	if err != nil {
		t.Fatalf("failed to open test database: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	if err := RunMigrations(ctx, db, DriverSQLite, nil); err != nil {
		t.Fatalf("failed to migrate test database: %v", err)
	}
	return db
}

// Package dbtest provides a migrated SQLite database for package tests.
package dbtest

import (
	"context"
	"database/sql"
	"path/filepath"
	"testing"

	"github.com/iliyamo/eduvault/internal/database"
)

// New returns a migrated SQLite database in the test's temp dir.  It is
// closed automatically when the test finishes.
func New(t testing.TB) *sql.DB {
	t.Helper()
	db, err := database.OpenSQLite(filepath.Join(t.TempDir(), "eduvault-test.db"))
	if err != nil {
		t.Fatalf("open test db: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })
	if err := database.Migrate(context.Background(), db, database.DriverSQLite); err != nil {
		t.Fatalf("migrate test db: %v", err)
	}
	return db
}

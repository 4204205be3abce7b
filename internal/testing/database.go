// Package testing holds fixtures shared by the hydrotrace test suites.
package testing

import (
	"database/sql"
	"path/filepath"
	"testing"

	"github.com/teranos/hydrotrace/db"
)

// CreateTestDB creates a migrated run ledger in a temporary directory.
// Automatically registers cleanup via t.Cleanup().
func CreateTestDB(t *testing.T) *sql.DB {
	t.Helper()

	// File-backed so every pooled connection sees the same schema
	conn, err := db.OpenWithMigrations(filepath.Join(t.TempDir(), "ledger.db"), nil)
	if err != nil {
		t.Fatalf("Failed to create test database: %v", err)
	}

	t.Cleanup(func() {
		conn.Close()
	})

	return conn
}

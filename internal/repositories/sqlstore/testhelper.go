package sqlstore

import (
	"fmt"
	"path/filepath"
	"testing"

	"github.com/asakaida/chronicle/internal/infrastructure/database"
	"github.com/asakaida/chronicle/internal/repositories"
)

// SetupTestDB creates a migrated SQLite database in a temp directory
func SetupTestDB(t *testing.T) *database.Database {
	t.Helper()

	db, err := database.OpenSQLite(filepath.Join(t.TempDir(), "chronicle_test.db"))
	if err != nil {
		t.Fatalf("Failed to open database: %v", err)
	}

	// Run migrations
	if err := db.RunMigrations(); err != nil {
		t.Fatalf("Failed to run migrations: %v", err)
	}

	t.Cleanup(func() { CleanupTestDB(t, db) })

	return db
}

// SetupTestStore returns a record repository over a fresh test database
func SetupTestStore(t *testing.T) repositories.RecordRepository {
	t.Helper()
	return NewRecordRepository(SetupTestDB(t).DB, SQLite)
}

// CleanupTestDB closes the database connection and cleans up test data
func CleanupTestDB(t *testing.T, db *database.Database) {
	t.Helper()

	// Clean up all tables
	tables := []string{"record_refs", "records"}
	for _, table := range tables {
		_, err := db.DB.Exec(fmt.Sprintf("DELETE FROM %s", table))
		if err != nil {
			t.Logf("Warning: Failed to clean up table %s: %v", table, err)
		}
	}

	if err := db.Close(); err != nil {
		t.Logf("Warning: Failed to close database: %v", err)
	}
}

package testing

import (
	"fmt"
	"os"
	"testing"

	"github.com/aristath/scout/internal/database"
)

// NewTestDB creates a temporary SQLite database for testing.
// Returns the database instance and a cleanup function that closes the
// connection and removes the file. The cleanup function is idempotent.
//
// Temporary files (rather than :memory:) ensure each test gets its own
// isolated database that behaves like the production WAL-mode databases.
func NewTestDB(t *testing.T, name string) (*database.DB, func()) {
	t.Helper()

	tmpFile, err := os.CreateTemp("", fmt.Sprintf("test_%s_*.db", name))
	if err != nil {
		t.Fatalf("Failed to create temporary database file: %v", err)
	}
	tmpPath := tmpFile.Name()
	_ = tmpFile.Close()

	db, err := database.New(database.Config{
		Path:    tmpPath,
		Profile: database.ProfileCache,
		Name:    name,
	})
	if err != nil {
		_ = os.Remove(tmpPath)
		t.Fatalf("Failed to open test database: %v", err)
	}

	cleaned := false
	cleanup := func() {
		if cleaned {
			return
		}
		cleaned = true
		_ = db.Close()
		_ = os.Remove(tmpPath)
		_ = os.Remove(tmpPath + "-wal")
		_ = os.Remove(tmpPath + "-shm")
	}

	return db, cleanup
}

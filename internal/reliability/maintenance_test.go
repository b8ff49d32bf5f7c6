package reliability

import (
	"context"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/aristath/scout/internal/database"
	testingpkg "github.com/aristath/scout/internal/testing"
)

func TestRunDailyHealthyDatabase(t *testing.T) {
	db, cleanup := testingpkg.NewTestDB(t, "maintenance")
	defer cleanup()

	_, err := db.Exec("CREATE TABLE IF NOT EXISTS t (id INTEGER PRIMARY KEY)")
	require.NoError(t, err)

	svc := NewMaintenanceService(map[string]*database.DB{"test": db}, t.TempDir(), zerolog.Nop())
	require.NoError(t, svc.RunDaily(context.Background()))
}

func TestRunDailyFailsOnClosedDatabase(t *testing.T) {
	db, cleanup := testingpkg.NewTestDB(t, "maintenance_closed")
	cleanup()

	svc := NewMaintenanceService(map[string]*database.DB{"test": db}, t.TempDir(), zerolog.Nop())
	require.Error(t, svc.RunDaily(context.Background()))
}

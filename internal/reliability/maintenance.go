package reliability

import (
	"context"
	"fmt"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"github.com/aristath/scout/internal/database"
)

const (
	// minFreeDiskGB halts maintenance when free space drops below it.
	minFreeDiskGB = 0.5

	// vacuumFreelistThreshold is the free-page fraction above which a
	// database gets vacuumed.
	vacuumFreelistThreshold = 0.25
)

// MaintenanceService keeps the SQLite files healthy: checkpoints WAL files,
// watches disk space, and vacuums databases whose freelist has grown.
type MaintenanceService struct {
	databases map[string]*database.DB
	dataDir   string
	log       zerolog.Logger
}

// NewMaintenanceService creates a maintenance service over the given
// databases.
func NewMaintenanceService(databases map[string]*database.DB, dataDir string, log zerolog.Logger) *MaintenanceService {
	return &MaintenanceService{
		databases: databases,
		dataDir:   dataDir,
		log:       log.With().Str("service", "maintenance").Logger(),
	}
}

// RunDaily executes the full maintenance pass.
func (s *MaintenanceService) RunDaily(ctx context.Context) error {
	startTime := time.Now()

	for name, db := range s.databases {
		if err := db.QuickCheck(ctx); err != nil {
			return fmt.Errorf("database %s unreachable during maintenance: %w", name, err)
		}

		if err := db.WALCheckpoint("TRUNCATE"); err != nil {
			s.log.Warn().Err(err).Str("database", name).Msg("WAL checkpoint failed")
		}

		s.vacuumIfFragmented(name, db)
	}

	if err := s.checkDiskSpace(); err != nil {
		return err
	}

	s.log.Info().
		Dur("duration", time.Since(startTime)).
		Msg("Daily maintenance completed")
	return nil
}

// vacuumIfFragmented vacuums a database whose freelist exceeds the
// threshold. VACUUM rewrites the whole file, so it only runs when the space
// to reclaim is worth it.
func (s *MaintenanceService) vacuumIfFragmented(name string, db *database.DB) {
	stats, err := db.GetStats()
	if err != nil {
		s.log.Warn().Err(err).Str("database", name).Msg("Failed to collect stats before vacuum check")
		return
	}
	if stats.PageCount == 0 {
		return
	}

	freeFraction := float64(stats.FreelistCount) / float64(stats.PageCount)
	if freeFraction < vacuumFreelistThreshold {
		return
	}

	s.log.Info().
		Str("database", name).
		Float64("free_fraction", freeFraction).
		Msg("Vacuuming fragmented database")
	if err := db.Vacuum(); err != nil {
		s.log.Warn().Err(err).Str("database", name).Msg("Vacuum failed")
	}
}

// checkDiskSpace fails the maintenance run when free space is critically
// low, so the failure shows up in job logs before writes start erroring.
func (s *MaintenanceService) checkDiskSpace() error {
	stat := syscall.Statfs_t{}
	if err := syscall.Statfs(s.dataDir, &stat); err != nil {
		return fmt.Errorf("failed to stat filesystem: %w", err)
	}

	availableGB := float64(stat.Bavail*uint64(stat.Bsize)) / 1e9
	s.log.Debug().Float64("available_gb", availableGB).Msg("Disk space check")

	if availableGB < minFreeDiskGB {
		return fmt.Errorf("only %.2f GB free on data volume", availableGB)
	}
	return nil
}

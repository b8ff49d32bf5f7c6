package scheduler

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/aristath/scout/internal/modules/resolution"
	"github.com/aristath/scout/internal/modules/universe"
	"github.com/aristath/scout/internal/utils"
)

// NightlyResolutionJob re-resolves the active universe. Cached outcomes keep
// the run cheap; only instruments the cache has aged out hit the broker.
type NightlyResolutionJob struct {
	service  *resolution.Service
	universe *universe.Service
	log      zerolog.Logger
}

// NewNightlyResolutionJob creates the nightly re-resolution job.
func NewNightlyResolutionJob(service *resolution.Service, universeService *universe.Service, log zerolog.Logger) *NightlyResolutionJob {
	return &NightlyResolutionJob{
		service:  service,
		universe: universeService,
		log:      log.With().Str("job", "nightly_resolution").Logger(),
	}
}

// Name implements Job.
func (j *NightlyResolutionJob) Name() string {
	return "nightly_resolution"
}

// Run implements Job.
func (j *NightlyResolutionJob) Run() error {
	defer utils.OperationTimer("nightly_resolution", j.log)()

	queries, err := j.universe.ResolvableQueries()
	if err != nil {
		return fmt.Errorf("failed to load universe for nightly resolution: %w", err)
	}
	if len(queries) == 0 {
		j.log.Info().Msg("Universe empty, nothing to resolve")
		return nil
	}

	stats, _, err := j.service.ResolveBatch(context.Background(), queries, resolution.RunOptions{
		UseCache: true,
	})
	if err != nil {
		return fmt.Errorf("nightly resolution failed: %w", err)
	}

	j.log.Info().
		Int("total", stats.Total).
		Int("resolved", stats.Resolved).
		Int("not_found", stats.NotFound).
		Int("from_cache", stats.FromCache).
		Msg("Nightly resolution completed")
	return nil
}

// CacheSweepJob removes expired resolution cache entries.
type CacheSweepJob struct {
	cache *resolution.Cache
	log   zerolog.Logger
}

// NewCacheSweepJob creates the cache sweep job.
func NewCacheSweepJob(cache *resolution.Cache, log zerolog.Logger) *CacheSweepJob {
	return &CacheSweepJob{
		cache: cache,
		log:   log.With().Str("job", "cache_sweep").Logger(),
	}
}

// Name implements Job.
func (j *CacheSweepJob) Name() string {
	return "cache_sweep"
}

// Run implements Job.
func (j *CacheSweepJob) Run() error {
	removed, err := j.cache.SweepExpired()
	if err != nil {
		return fmt.Errorf("cache sweep failed: %w", err)
	}
	if removed > 0 {
		j.log.Info().Int("removed", removed).Msg("Swept expired cache entries")
	}
	return nil
}

// BackupRunner is implemented by the reliability backup service.
type BackupRunner interface {
	BackupAll(ctx context.Context) error
}

// MaintenanceRunner is implemented by the reliability maintenance service.
type MaintenanceRunner interface {
	RunDaily(ctx context.Context) error
}

// MaintenanceJob checkpoints and compacts the databases.
type MaintenanceJob struct {
	runner MaintenanceRunner
	log    zerolog.Logger
}

// NewMaintenanceJob creates the daily maintenance job.
func NewMaintenanceJob(runner MaintenanceRunner, log zerolog.Logger) *MaintenanceJob {
	return &MaintenanceJob{
		runner: runner,
		log:    log.With().Str("job", "maintenance").Logger(),
	}
}

// Name implements Job.
func (j *MaintenanceJob) Name() string {
	return "maintenance"
}

// Run implements Job.
func (j *MaintenanceJob) Run() error {
	if err := j.runner.RunDaily(context.Background()); err != nil {
		return fmt.Errorf("maintenance failed: %w", err)
	}
	return nil
}

// BackupJob uploads the data files to remote storage.
type BackupJob struct {
	runner BackupRunner
	log    zerolog.Logger
}

// NewBackupJob creates the backup job.
func NewBackupJob(runner BackupRunner, log zerolog.Logger) *BackupJob {
	return &BackupJob{
		runner: runner,
		log:    log.With().Str("job", "backup").Logger(),
	}
}

// Name implements Job.
func (j *BackupJob) Name() string {
	return "backup"
}

// Run implements Job.
func (j *BackupJob) Run() error {
	defer utils.OperationTimer("backup", j.log)()

	if err := j.runner.BackupAll(context.Background()); err != nil {
		return fmt.Errorf("backup failed: %w", err)
	}
	return nil
}

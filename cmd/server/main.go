// Package main is the entry point for the Scout instrument resolution
// engine. Scout maintains an investment universe, resolves each instrument
// to its broker contract identifier through a pooled gateway connection, and
// caches resolutions so repeat runs only hit the broker for new or aged-out
// instruments.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/aristath/scout/internal/clients/broker"
	"github.com/aristath/scout/internal/clients/gateway"
	"github.com/aristath/scout/internal/config"
	"github.com/aristath/scout/internal/database"
	"github.com/aristath/scout/internal/events"
	"github.com/aristath/scout/internal/modules/resolution"
	"github.com/aristath/scout/internal/modules/universe"
	"github.com/aristath/scout/internal/reliability"
	"github.com/aristath/scout/internal/scheduler"
	"github.com/aristath/scout/internal/server"
	"github.com/aristath/scout/pkg/logger"
)

// Cron schedules for the background jobs, standard 5-field format.
const (
	maintenanceSchedule       = "0 2 * * *"
	nightlyResolutionSchedule = "30 2 * * *"
	backupSchedule            = "0 3 * * *"
	cacheSweepSchedule        = "0 4 * * *"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fallbackLog := logger.New(logger.Config{Level: "info", Pretty: true})
		fallbackLog.Fatal().Err(err).Msg("Failed to load configuration")
	}

	log := logger.New(logger.Config{
		Level:  cfg.LogLevel,
		Pretty: true,
	})
	logger.SetGlobalLogger(log)

	log.Info().Msg("Starting Scout")

	// Databases. The universe is durable instrument data; the cache is
	// rebuildable and tuned for speed.
	universeDB, err := database.New(database.Config{
		Path:    cfg.UniverseDBPath(),
		Profile: database.ProfileStandard,
		Name:    "universe",
	})
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to open universe database")
	}
	defer universeDB.Close()

	cacheDB, err := database.New(database.Config{
		Path:    cfg.CacheDBPath(),
		Profile: database.ProfileCache,
		Name:    "cache",
	})
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to open cache database")
	}
	defer cacheDB.Close()

	// Event bus feeds the websocket stream and the progress reporter.
	bus := events.NewBus(log)
	eventManager := events.NewManager(bus, log)

	// Universe module.
	instrumentRepo := universe.NewInstrumentRepository(universeDB.Conn(), log)
	if err := instrumentRepo.EnsureSchema(); err != nil {
		log.Fatal().Err(err).Msg("Failed to create universe schema")
	}
	universeService := universe.NewService(instrumentRepo, eventManager, log)

	// Resolution cache.
	resolutionCache := resolution.NewCache(cacheDB.Conn(), cfg.Cache.MaxAge, log)
	if err := resolutionCache.EnsureSchema(); err != nil {
		log.Fatal().Err(err).Msg("Failed to create cache schema")
	}

	// Broker session pool. One gateway websocket per session.
	sessions := make([]*broker.Session, cfg.Broker.PoolSize)
	for i := range sessions {
		transport := gateway.NewTransport(log)
		sessions[i] = broker.NewSession(i+1, transport, log)
	}
	pool := broker.NewPool(broker.PoolConfig{
		Host:           cfg.Broker.Host,
		Port:           cfg.Broker.Port,
		MaxConnections: cfg.Broker.PoolSize,
		AcquireTimeout: cfg.Broker.AcquireTimeout,
		EventManager:   eventManager,
		Log:            log,
	}, sessions)
	defer pool.Close()

	// A gateway that is down at startup is not fatal; sessions reconnect
	// with backoff once it comes up.
	if err := pool.Connect(); err != nil {
		log.Warn().Err(err).Msg("Broker pool failed to connect, will reconnect in background")
	}

	// Resolution pipeline.
	validator := resolution.NewValidator(log)
	resolver := resolution.NewResolver(validator, log)
	resolver.SetRequestTimeout(cfg.Broker.RequestTimeout)
	resolutionService := resolution.NewService(resolver, resolutionCache, pool, eventManager, log)

	// Background jobs.
	databases := map[string]*database.DB{
		"universe": universeDB,
		"cache":    cacheDB,
	}

	sched := scheduler.New(log)
	maintenance := reliability.NewMaintenanceService(databases, cfg.DataDir, log)
	if err := sched.AddJob(maintenanceSchedule, scheduler.NewMaintenanceJob(maintenance, log)); err != nil {
		log.Fatal().Err(err).Msg("Failed to schedule maintenance")
	}
	if err := sched.AddJob(nightlyResolutionSchedule, scheduler.NewNightlyResolutionJob(resolutionService, universeService, log)); err != nil {
		log.Fatal().Err(err).Msg("Failed to schedule nightly resolution")
	}
	if err := sched.AddJob(cacheSweepSchedule, scheduler.NewCacheSweepJob(resolutionCache, log)); err != nil {
		log.Fatal().Err(err).Msg("Failed to schedule cache sweep")
	}

	if cfg.Backup.Enabled() {
		s3Client, err := reliability.NewS3Client(context.Background(), cfg.Backup, log)
		if err != nil {
			log.Fatal().Err(err).Msg("Failed to initialize backup storage")
		}
		backupService := reliability.NewBackupService(databases, s3Client, cfg.DataDir, cfg.Backup.Prefix, eventManager, log)

		if err := sched.AddJob(backupSchedule, scheduler.NewBackupJob(backupService, log)); err != nil {
			log.Fatal().Err(err).Msg("Failed to schedule backup")
		}
		log.Info().Str("bucket", cfg.Backup.Bucket).Msg("Backups enabled")
	} else {
		log.Info().Msg("Backups not configured, skipping backup job")
	}

	sched.Start()
	defer sched.Stop()

	// HTTP server.
	srv := server.New(server.Config{
		Log:               log,
		Config:            cfg,
		UniverseDB:        universeDB,
		CacheDB:           cacheDB,
		Pool:              pool,
		EventManager:      eventManager,
		ResolutionService: resolutionService,
		ResolutionCache:   resolutionCache,
		UniverseService:   universeService,
	})

	serverErr := make(chan error, 1)
	go func() {
		serverErr <- srv.Start()
	}()

	// Block until a shutdown signal or a server failure.
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-quit:
		log.Info().Str("signal", sig.String()).Msg("Shutdown signal received")
	case err := <-serverErr:
		if err != nil {
			log.Error().Err(err).Msg("HTTP server failed")
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("Graceful shutdown failed")
	}

	log.Info().Msg("Scout stopped")
}

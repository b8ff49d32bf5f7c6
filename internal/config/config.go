// Package config provides configuration management functionality.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/joho/godotenv"

	"github.com/aristath/scout/internal/utils"
)

// Config holds application configuration
type Config struct {
	DataDir     string // Base directory for all databases (always absolute)
	LogLevel    string
	Port        int
	DevMode     bool
	CORSOrigins []string

	Broker BrokerConfig
	Cache  CacheConfig
	Backup BackupConfig
}

// BrokerConfig holds broker gateway connection parameters.
type BrokerConfig struct {
	Host           string
	Port           int
	PoolSize       int
	AcquireTimeout time.Duration // Max wait for an idle session
	RequestTimeout time.Duration // Per broker round trip
	MaxConcurrent  int           // Default fan-out bound for resolution runs
}

// CacheConfig holds resolution cache parameters.
type CacheConfig struct {
	MaxAge time.Duration // Entries older than this are treated as misses
}

// BackupConfig holds S3-compatible backup settings. Backups are disabled
// when the bucket is empty.
type BackupConfig struct {
	Bucket          string
	Endpoint        string // Custom endpoint for R2/minio style providers
	Region          string
	AccessKeyID     string
	SecretAccessKey string
	Prefix          string
}

// Enabled reports whether backups are configured.
func (b *BackupConfig) Enabled() bool {
	return b.Bucket != "" && b.AccessKeyID != "" && b.SecretAccessKey != ""
}

// Load reads configuration from environment variables
func Load() (*Config, error) {
	// Load .env file if it exists
	_ = godotenv.Load()

	// Data directory: SCOUT_DATA_DIR, resolved to an absolute path and
	// created when missing.
	dataDir := getEnv("SCOUT_DATA_DIR", "")
	if dataDir == "" {
		dataDir = "./data"
	}

	absDataDir, err := filepath.Abs(dataDir)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve data directory path: %w", err)
	}
	if err := os.MkdirAll(absDataDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}

	cfg := &Config{
		DataDir:     absDataDir,
		Port:        getEnvAsInt("SCOUT_PORT", 8001),
		DevMode:     getEnvAsBool("DEV_MODE", false),
		LogLevel:    getEnv("LOG_LEVEL", "info"),
		CORSOrigins: utils.ParseCSV(getEnv("SCOUT_CORS_ORIGINS", "*")),
		Broker: BrokerConfig{
			Host:           getEnv("BROKER_HOST", "127.0.0.1"),
			Port:           getEnvAsInt("BROKER_PORT", 7496),
			PoolSize:       getEnvAsInt("BROKER_POOL_SIZE", 3),
			AcquireTimeout: getEnvAsDuration("BROKER_ACQUIRE_TIMEOUT", 30*time.Second),
			RequestTimeout: getEnvAsDuration("BROKER_REQUEST_TIMEOUT", 25*time.Second),
			MaxConcurrent:  getEnvAsInt("RESOLVE_MAX_CONCURRENT", 4),
		},
		Cache: CacheConfig{
			MaxAge: getEnvAsDuration("RESOLUTION_CACHE_MAX_AGE", 365*24*time.Hour),
		},
		Backup: BackupConfig{
			Bucket:          getEnv("BACKUP_S3_BUCKET", ""),
			Endpoint:        getEnv("BACKUP_S3_ENDPOINT", ""),
			Region:          getEnv("BACKUP_S3_REGION", "auto"),
			AccessKeyID:     getEnv("BACKUP_S3_ACCESS_KEY_ID", ""),
			SecretAccessKey: getEnv("BACKUP_S3_SECRET_ACCESS_KEY", ""),
			Prefix:          getEnv("BACKUP_S3_PREFIX", "scout"),
		},
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks if required configuration is present
func (c *Config) Validate() error {
	if c.Broker.PoolSize < 1 {
		return fmt.Errorf("BROKER_POOL_SIZE must be at least 1")
	}
	if c.Broker.Port <= 0 || c.Broker.Port > 65535 {
		return fmt.Errorf("BROKER_PORT out of range: %d", c.Broker.Port)
	}
	return nil
}

// UniverseDBPath returns the path of the universe database file.
func (c *Config) UniverseDBPath() string {
	return filepath.Join(c.DataDir, "universe.db")
}

// CacheDBPath returns the path of the resolution cache database file.
func (c *Config) CacheDBPath() string {
	return filepath.Join(c.DataDir, "cache.db")
}

// Helper functions
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

func getEnvAsBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolVal, err := strconv.ParseBool(value); err == nil {
			return boolVal
		}
	}
	return defaultValue
}

func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil && d > 0 {
			return d
		}
	}
	return defaultValue
}

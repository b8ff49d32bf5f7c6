package server

import (
	"encoding/json"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/rs/zerolog"
	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/mem"

	"github.com/aristath/scout/internal/clients/broker"
	"github.com/aristath/scout/internal/database"
)

// SystemHandlers serves health and system status endpoints.
type SystemHandlers struct {
	log        zerolog.Logger
	dataDir    string
	universeDB *database.DB
	cacheDB    *database.DB
	pool       *broker.Pool
	startedAt  time.Time
}

// NewSystemHandlers creates system handlers.
func NewSystemHandlers(log zerolog.Logger, dataDir string, universeDB, cacheDB *database.DB, pool *broker.Pool) *SystemHandlers {
	return &SystemHandlers{
		log:        log.With().Str("component", "system_handlers").Logger(),
		dataDir:    dataDir,
		universeDB: universeDB,
		cacheDB:    cacheDB,
		pool:       pool,
		startedAt:  time.Now(),
	}
}

// HandleHealth is the liveness probe: process up, databases reachable.
func (h *SystemHandlers) HandleHealth(w http.ResponseWriter, r *http.Request) {
	status := "ok"
	code := http.StatusOK

	ctx := r.Context()
	if err := h.universeDB.HealthCheck(ctx); err != nil {
		h.log.Error().Err(err).Msg("Universe database health check failed")
		status = "degraded"
		code = http.StatusServiceUnavailable
	}
	if err := h.cacheDB.HealthCheck(ctx); err != nil {
		h.log.Error().Err(err).Msg("Cache database health check failed")
		status = "degraded"
		code = http.StatusServiceUnavailable
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(map[string]interface{}{
		"status": status,
		"uptime": time.Since(h.startedAt).Round(time.Second).String(),
	})
}

// systemStatusResponse is the payload for HandleSystemStatus.
type systemStatusResponse struct {
	Status     string            `json:"status"`
	UptimeSecs float64           `json:"uptime_seconds"`
	CPUPercent float64           `json:"cpu_percent"`
	RAMPercent float64           `json:"ram_percent"`
	Broker     broker.PoolStatus `json:"broker"`
}

// HandleSystemStatus reports process resource usage and broker pool health.
func (h *SystemHandlers) HandleSystemStatus(w http.ResponseWriter, r *http.Request) {
	cpuPercent, ramPercent := h.getSystemStats()

	poolStatus := h.pool.Status()
	status := "ok"
	if poolStatus.Healthy == 0 {
		status = "broker_disconnected"
	}

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(systemStatusResponse{
		Status:     status,
		UptimeSecs: time.Since(h.startedAt).Seconds(),
		CPUPercent: cpuPercent,
		RAMPercent: ramPercent,
		Broker:     poolStatus,
	})
}

// HandleDatabaseStats reports size and page statistics for each database.
func (h *SystemHandlers) HandleDatabaseStats(w http.ResponseWriter, r *http.Request) {
	response := make(map[string]interface{}, 2)
	for _, db := range []*database.DB{h.universeDB, h.cacheDB} {
		stats, err := db.GetStats()
		if err != nil {
			h.log.Warn().Err(err).Str("db", db.Name()).Msg("Failed to collect database stats")
			continue
		}
		response[db.Name()] = stats
	}

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(response)
}

// DiskUsageResponse reports data directory sizes in MB.
type DiskUsageResponse struct {
	DataDirMB float64 `json:"data_dir_mb"`
	BackupsMB float64 `json:"backups_mb"`
	TotalMB   float64 `json:"total_mb"`
}

// HandleDiskUsage reports on-disk footprint of the data directory.
func (h *SystemHandlers) HandleDiskUsage(w http.ResponseWriter, r *http.Request) {
	dataDirSize := h.getDirSize(h.dataDir)
	backupsSize := h.getDirSize(filepath.Join(h.dataDir, "backups"))

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(DiskUsageResponse{
		DataDirMB: dataDirSize,
		BackupsMB: backupsSize,
		TotalMB:   dataDirSize + backupsSize,
	})
}

// getDirSize calculates total size of a directory in MB.
func (h *SystemHandlers) getDirSize(dirPath string) float64 {
	var totalSize int64

	err := filepath.Walk(dirPath, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return nil // Skip errors
		}
		if !info.IsDir() {
			totalSize += info.Size()
		}
		return nil
	})
	if err != nil {
		h.log.Warn().Err(err).Str("dir", dirPath).Msg("Failed to calculate directory size")
		return 0
	}

	return float64(totalSize) / 1024 / 1024
}

// getSystemStats returns CPU and RAM usage percentages. The CPU sample uses
// a 100ms window so the endpoint stays fast for polling UIs.
func (h *SystemHandlers) getSystemStats() (float64, float64) {
	cpuPercent, err := cpu.Percent(100*time.Millisecond, false)
	if err != nil {
		h.log.Warn().Err(err).Msg("Failed to get CPU percentage")
		cpuPercent = []float64{0}
	}

	memStat, err := mem.VirtualMemory()
	if err != nil {
		h.log.Warn().Err(err).Msg("Failed to get memory statistics")
		return 0, 0
	}

	cpuAvg := 0.0
	if len(cpuPercent) > 0 {
		cpuAvg = cpuPercent[0]
	}
	return cpuAvg, memStat.UsedPercent
}

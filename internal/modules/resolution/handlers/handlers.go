// Package handlers provides HTTP handlers for resolution runs and the
// resolution cache.
package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"

	"github.com/rs/zerolog"

	"github.com/aristath/scout/internal/clients/broker"
	"github.com/aristath/scout/internal/domain"
	"github.com/aristath/scout/internal/events"
	"github.com/aristath/scout/internal/modules/resolution"
)

// QuerySource supplies the instrument queries for a full resolution run.
// The universe module implements this.
type QuerySource interface {
	ResolvableQueries() ([]domain.InstrumentQuery, error)
}

// Handlers holds dependencies for resolution HTTP handlers.
type Handlers struct {
	service      *resolution.Service
	cache        *resolution.Cache
	pool         *broker.Pool
	source       QuerySource
	eventManager *events.Manager
	log          zerolog.Logger

	mu       sync.Mutex
	lastRun  *resolution.RunStats
	lastFail string
}

// NewHandlers creates resolution handlers.
func NewHandlers(service *resolution.Service, cache *resolution.Cache, pool *broker.Pool, source QuerySource, em *events.Manager, log zerolog.Logger) *Handlers {
	return &Handlers{
		service:      service,
		cache:        cache,
		pool:         pool,
		source:       source,
		eventManager: em,
		log:          log.With().Str("component", "resolution_handlers").Logger(),
	}
}

// resolveRequest is the body for HandleTriggerRun.
type resolveRequest struct {
	UseCache      *bool `json:"use_cache,omitempty"`
	MaxConcurrent int   `json:"max_concurrent,omitempty"`
}

// HandleTriggerRun starts a resolution run over the whole universe in the
// background. Progress and completion are observable on the event stream;
// the final stats also land on /api/resolution/last-run.
func (h *Handlers) HandleTriggerRun(w http.ResponseWriter, r *http.Request) {
	if h.service.Running() {
		http.Error(w, "a resolution run is already in progress", http.StatusConflict)
		return
	}

	var req resolveRequest
	if r.Body != nil {
		// An empty body means defaults.
		_ = json.NewDecoder(r.Body).Decode(&req)
	}

	useCache := true
	if req.UseCache != nil {
		useCache = *req.UseCache
	}

	queries, err := h.source.ResolvableQueries()
	if err != nil {
		h.log.Error().Err(err).Msg("Failed to load universe queries")
		http.Error(w, "failed to load universe", http.StatusInternalServerError)
		return
	}
	if len(queries) == 0 {
		http.Error(w, "universe is empty", http.StatusUnprocessableEntity)
		return
	}

	opts := resolution.RunOptions{UseCache: useCache, MaxConcurrent: req.MaxConcurrent}

	// The run outlives the HTTP request, so it gets its own context.
	go func() {
		stats, _, err := h.service.ResolveBatch(context.Background(), queries, opts)
		h.mu.Lock()
		defer h.mu.Unlock()
		if err != nil {
			h.lastFail = err.Error()
			return
		}
		h.lastRun = stats
		h.lastFail = ""
	}()

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusAccepted)
	_ = json.NewEncoder(w).Encode(map[string]interface{}{
		"status":      "started",
		"instruments": len(queries),
		"use_cache":   useCache,
	})
}

// HandleLastRun returns the stats of the most recent completed run.
func (h *Handlers) HandleLastRun(w http.ResponseWriter, r *http.Request) {
	h.mu.Lock()
	stats := h.lastRun
	failure := h.lastFail
	h.mu.Unlock()

	w.Header().Set("Content-Type", "application/json")
	if stats == nil && failure == "" {
		_ = json.NewEncoder(w).Encode(map[string]interface{}{"status": "never_run"})
		return
	}
	if failure != "" {
		_ = json.NewEncoder(w).Encode(map[string]interface{}{"status": "failed", "error": failure})
		return
	}
	_ = json.NewEncoder(w).Encode(stats)
}

// HandleCacheStats returns hit/miss counters and entry count.
func (h *Handlers) HandleCacheStats(w http.ResponseWriter, r *http.Request) {
	stats := h.cache.Stats()
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(stats)
}

// HandleClearCache wipes every cached resolution, forcing full re-resolution
// on the next run.
func (h *Handlers) HandleClearCache(w http.ResponseWriter, r *http.Request) {
	removed, err := h.cache.Clear()
	if err != nil {
		h.log.Error().Err(err).Msg("Failed to clear resolution cache")
		http.Error(w, "failed to clear cache", http.StatusInternalServerError)
		return
	}

	h.eventManager.EmitTyped(events.CacheCleared, "resolution", &events.CacheClearedData{
		EntriesRemoved: removed,
	})

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]interface{}{
		"status":          "cleared",
		"entries_removed": removed,
	})
}

// HandlePoolStatus reports broker pool health.
func (h *Handlers) HandlePoolStatus(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(h.pool.Status())
}

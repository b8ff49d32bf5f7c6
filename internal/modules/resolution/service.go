package resolution

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/aristath/scout/internal/clients/broker"
	"github.com/aristath/scout/internal/domain"
	"github.com/aristath/scout/internal/events"
)

// DefaultMaxConcurrent bounds the resolution worker count when the caller
// does not specify one.
const DefaultMaxConcurrent = 4

// RunOptions controls one resolution run.
type RunOptions struct {
	// UseCache serves previously resolved instruments (positive and
	// negative) from the cache and skips their broker round trips.
	UseCache bool

	// MaxConcurrent caps the worker count. The effective concurrency is
	// min(MaxConcurrent, pool size); zero means DefaultMaxConcurrent.
	MaxConcurrent int
}

// RunStats aggregates the outcome of one resolution run.
type RunStats struct {
	RunID           string                  `json:"run_id"`
	Total           int                     `json:"total"`
	Resolved        int                     `json:"resolved"`
	FoundByISIN     int                     `json:"found_by_isin"`
	FoundByTicker   int                     `json:"found_by_ticker"`
	FoundByName     int                     `json:"found_by_name"`
	NotFound        int                     `json:"not_found"`
	FromCache       int                     `json:"from_cache"`
	Duration        float64                 `json:"duration_seconds"`
	NotFoundDetails []domain.NotFoundDetail `json:"not_found_details,omitempty"`
	Timing          *TimingSummary          `json:"timing,omitempty"`
}

// Outcome pairs a query with its result for callers that need the full
// per-instrument breakdown.
type Outcome struct {
	Query     domain.InstrumentQuery  `json:"query"`
	Result    domain.ResolutionResult `json:"result"`
	FromCache bool                    `json:"from_cache"`
}

// Service orchestrates concurrent resolution runs over the session pool.
// One run resolves a batch of instruments: cached outcomes are served
// immediately, the rest fan out across workers that each own one pooled
// session per instrument.
type Service struct {
	resolver     *Resolver
	cache        *Cache
	pool         *broker.Pool
	eventManager *events.Manager
	log          zerolog.Logger

	mu      sync.Mutex
	running bool
}

// NewService creates the resolution orchestrator.
func NewService(resolver *Resolver, cache *Cache, pool *broker.Pool, em *events.Manager, log zerolog.Logger) *Service {
	return &Service{
		resolver:     resolver,
		cache:        cache,
		pool:         pool,
		eventManager: em,
		log:          log.With().Str("service", "resolution").Logger(),
	}
}

// Running reports whether a run is currently in flight.
func (s *Service) Running() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}

// ResolveBatch resolves every query in the batch and returns aggregate stats
// plus per-instrument outcomes in input order. Individual failures never
// abort the run; they surface as negative results with a reason. Only one
// run may be in flight at a time.
func (s *Service) ResolveBatch(ctx context.Context, queries []domain.InstrumentQuery, opts RunOptions) (*RunStats, []Outcome, error) {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return nil, nil, fmt.Errorf("a resolution run is already in progress")
	}
	s.running = true
	s.mu.Unlock()
	defer func() {
		s.mu.Lock()
		s.running = false
		s.mu.Unlock()
	}()

	runID := uuid.New().String()
	started := time.Now()

	s.log.Info().
		Str("run_id", runID).
		Int("instruments", len(queries)).
		Bool("use_cache", opts.UseCache).
		Msg("Resolution run started")

	s.eventManager.EmitTyped(events.ResolutionStarted, "resolution", &events.ResolutionRunData{
		RunID:     runID,
		Status:    "started",
		Timestamp: started,
	})

	outcomes := make([]Outcome, len(queries))
	progress := NewProgressReporter(s.eventManager, runID, len(queries))

	// Phase 1: serve what the cache already knows.
	remaining := make([]int, 0, len(queries))
	for i := range queries {
		if opts.UseCache && s.tryCache(&queries[i], &outcomes[i]) {
			progress.Advance(queries[i].Label())
			continue
		}
		remaining = append(remaining, i)
	}

	// Phase 2: fan the rest out over the pool.
	durations := make([]time.Duration, 0, len(remaining))
	var durationsMu sync.Mutex

	group, groupCtx := errgroup.WithContext(ctx)
	group.SetLimit(s.concurrency(opts))

	for _, idx := range remaining {
		group.Go(func() error {
			query := &queries[idx]

			begun := time.Now()
			result := s.resolveOne(groupCtx, query)
			elapsed := time.Since(begun)

			durationsMu.Lock()
			durations = append(durations, elapsed)
			durationsMu.Unlock()

			outcomes[idx] = Outcome{Query: *query, Result: result}
			s.writeBack(query, &result)

			s.emitInstrumentResolved(query, &result, false)
			progress.Advance(query.Label())

			// Batch isolation: worker errors never propagate.
			return nil
		})
	}

	if err := group.Wait(); err != nil {
		// Only a cancelled parent context lands here.
		s.emitRunFailed(runID, started, err)
		return nil, nil, err
	}

	if err := ctx.Err(); err != nil {
		s.emitRunFailed(runID, started, err)
		return nil, nil, err
	}

	progress.Finish()

	stats := s.buildStats(runID, started, outcomes, durations)

	s.eventManager.EmitTyped(events.ResolutionCompleted, "resolution", &events.ResolutionRunData{
		RunID:     runID,
		Status:    "completed",
		Duration:  stats.Duration,
		Timestamp: time.Now(),
	})

	s.log.Info().
		Str("run_id", runID).
		Int("resolved", stats.Resolved).
		Int("not_found", stats.NotFound).
		Int("from_cache", stats.FromCache).
		Float64("duration_seconds", stats.Duration).
		Msg("Resolution run completed")

	return stats, outcomes, nil
}

// concurrency returns the effective worker count for a run.
func (s *Service) concurrency(opts RunOptions) int {
	workers := opts.MaxConcurrent
	if workers <= 0 {
		workers = DefaultMaxConcurrent
	}
	if poolSize := s.pool.Status().Total; poolSize > 0 && workers > poolSize {
		workers = poolSize
	}
	return workers
}

// tryCache fills the outcome from the cache. Both positive and negative
// cached results count as hits.
func (s *Service) tryCache(query *domain.InstrumentQuery, outcome *Outcome) bool {
	cached, err := s.cache.Get(queryISIN(query), query.Ticker, query.Currency)
	if err != nil {
		s.log.Warn().Err(err).Str("ticker", query.Ticker).Msg("Cache lookup failed")
		return false
	}
	if cached == nil {
		return false
	}

	*outcome = Outcome{Query: *query, Result: *cached, FromCache: true}
	s.emitInstrumentResolved(query, cached, true)
	return true
}

// resolveOne acquires a session, runs the pipeline, and folds every failure
// into a negative result so the batch keeps moving.
func (s *Service) resolveOne(ctx context.Context, query *domain.InstrumentQuery) domain.ResolutionResult {
	session, err := s.pool.Acquire(ctx)
	if err != nil {
		s.log.Warn().Err(err).Str("ticker", query.Ticker).Msg("No broker session available")
		return domain.ResolutionResult{
			Found:  false,
			Reason: "no connection available",
		}
	}
	defer s.pool.Release(session)

	result, err := s.resolver.Resolve(ctx, session, query)
	if err != nil {
		if errors.Is(err, domain.ErrBrokerFatal) {
			s.log.Error().Err(err).Str("ticker", query.Ticker).Msg("Broker session failed mid-resolution")
			return domain.ResolutionResult{
				Found:  false,
				Reason: "broker session failed during resolution",
			}
		}
		s.log.Error().Err(err).Str("ticker", query.Ticker).Msg("Resolution failed")
		return domain.ResolutionResult{
			Found:  false,
			Reason: fmt.Sprintf("resolution error: %v", err),
		}
	}
	return result
}

// writeBack persists an outcome, negatives included. A confirmed "not found"
// is as valuable as a hit: it stops the next run repeating the whole search.
func (s *Service) writeBack(query *domain.InstrumentQuery, result *domain.ResolutionResult) {
	if !shouldCache(result) {
		return
	}
	if err := s.cache.Put(queryISIN(query), query.Ticker, query.Currency, result); err != nil {
		s.log.Warn().Err(err).Str("ticker", query.Ticker).Msg("Cache write failed")
	}
}

// shouldCache excludes transient infrastructure failures from the cache; only
// genuine search outcomes are durable.
func shouldCache(result *domain.ResolutionResult) bool {
	if result.Found {
		return true
	}
	switch result.Reason {
	case "no connection available", "broker session failed during resolution":
		return false
	}
	return true
}

func (s *Service) emitInstrumentResolved(query *domain.InstrumentQuery, result *domain.ResolutionResult, fromCache bool) {
	strategy := ""
	if result.StrategyUsed != nil {
		strategy = string(*result.StrategyUsed)
	}
	s.eventManager.EmitTyped(events.InstrumentResolved, "resolution", &events.InstrumentResolvedData{
		Ticker:     query.Ticker,
		Found:      result.Found,
		Strategy:   strategy,
		Confidence: result.ConfidenceScore,
		FromCache:  fromCache,
	})
}

func (s *Service) emitRunFailed(runID string, started time.Time, err error) {
	s.eventManager.EmitTyped(events.ResolutionFailed, "resolution", &events.ResolutionRunData{
		RunID:     runID,
		Status:    "failed",
		Error:     err.Error(),
		Duration:  time.Since(started).Seconds(),
		Timestamp: time.Now(),
	})
}

func (s *Service) buildStats(runID string, started time.Time, outcomes []Outcome, durations []time.Duration) *RunStats {
	stats := &RunStats{
		RunID:    runID,
		Total:    len(outcomes),
		Duration: time.Since(started).Seconds(),
		Timing:   summarizeTimings(durations),
	}

	for i := range outcomes {
		o := &outcomes[i]
		if o.FromCache {
			stats.FromCache++
		}
		if !o.Result.Found {
			stats.NotFound++
			stats.NotFoundDetails = append(stats.NotFoundDetails, notFoundDetail(&o.Query, &o.Result))
			continue
		}
		stats.Resolved++
		if o.Result.StrategyUsed == nil {
			continue
		}
		switch *o.Result.StrategyUsed {
		case domain.StrategyISIN:
			stats.FoundByISIN++
		case domain.StrategyTicker:
			stats.FoundByTicker++
		case domain.StrategyName:
			stats.FoundByName++
		}
	}
	return stats
}

func notFoundDetail(query *domain.InstrumentQuery, result *domain.ResolutionResult) domain.NotFoundDetail {
	country := ""
	if query.Country != nil {
		country = *query.Country
	}
	return domain.NotFoundDetail{
		Ticker:   query.Ticker,
		Name:     query.Name,
		Currency: query.Currency,
		Country:  country,
		Reason:   result.Reason,
	}
}

func queryISIN(query *domain.InstrumentQuery) string {
	if query.HasISIN() {
		return *query.ISIN
	}
	return ""
}

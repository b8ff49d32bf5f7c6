package universe

import (
	"fmt"
	"strings"

	"github.com/rs/zerolog"

	"github.com/aristath/scout/internal/domain"
	"github.com/aristath/scout/internal/events"
)

// Service wraps the repository with import deduplication and the query
// materialization the resolution orchestrator consumes.
type Service struct {
	repo         *InstrumentRepository
	eventManager *events.Manager
	log          zerolog.Logger
}

// NewService creates a universe service.
func NewService(repo *InstrumentRepository, em *events.Manager, log zerolog.Logger) *Service {
	return &Service{
		repo:         repo,
		eventManager: em,
		log:          log.With().Str("service", "universe").Logger(),
	}
}

// Repository returns the underlying repository.
func (s *Service) Repository() *InstrumentRepository {
	return s.repo
}

// Dedupe collapses duplicate tickers, keeping the highest-priority record
// for each. Input order is preserved for first occurrences.
func Dedupe(instruments []Instrument) []Instrument {
	index := make(map[string]int, len(instruments))
	deduped := make([]Instrument, 0, len(instruments))

	for _, instrument := range instruments {
		ticker := strings.ToUpper(strings.TrimSpace(instrument.Ticker))
		if ticker == "" {
			continue
		}
		if at, seen := index[ticker]; seen {
			if instrument.Priority > deduped[at].Priority {
				deduped[at] = instrument
			}
			continue
		}
		index[ticker] = len(deduped)
		deduped = append(deduped, instrument)
	}
	return deduped
}

// Import dedupes and upserts a batch of instruments, then emits a
// UniverseChanged event. Returns the number of records stored.
func (s *Service) Import(instruments []Instrument) (int, error) {
	deduped := Dedupe(instruments)

	if err := s.repo.UpsertMany(deduped); err != nil {
		return 0, fmt.Errorf("failed to import universe: %w", err)
	}

	count, err := s.repo.Count(false)
	if err != nil {
		return len(deduped), nil
	}

	s.log.Info().
		Int("imported", len(deduped)).
		Int("dropped_duplicates", len(instruments)-len(deduped)).
		Int("total", count).
		Msg("Universe imported")

	s.eventManager.EmitTyped(events.UniverseChanged, "universe", &events.UniverseChangedData{
		InstrumentCount: count,
	})
	return len(deduped), nil
}

// ResolvableQueries materializes the active universe as resolution queries,
// skipping records no strategy could run for.
func (s *Service) ResolvableQueries() ([]domain.InstrumentQuery, error) {
	instruments, err := s.repo.ListActive()
	if err != nil {
		return nil, fmt.Errorf("failed to load active universe: %w", err)
	}

	queries := make([]domain.InstrumentQuery, 0, len(instruments))
	skipped := 0
	for i := range instruments {
		query := instruments[i].Query()
		if !query.Resolvable() {
			skipped++
			continue
		}
		queries = append(queries, query)
	}

	if skipped > 0 {
		s.log.Warn().Int("skipped", skipped).Msg("Skipped unresolvable universe records")
	}
	return queries, nil
}

package resolution

import (
	"context"
	"errors"
	"sort"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/aristath/scout/internal/clients/broker"
	"github.com/aristath/scout/internal/domain"
)

const (
	// DefaultRequestTimeout bounds one broker round trip. A timed-out request
	// is an empty step, not a failure; the pipeline moves on.
	DefaultRequestTimeout = 25 * time.Second

	// genericVenue is the broker's smart-routing venue used for symbol
	// lookups when the universe record carries no venue information.
	genericVenue = "SMART"

	// maxNameSearchTerms caps how many derived terms the name strategy tries.
	maxNameSearchTerms = 3
)

// scoredCandidate pairs a candidate with its verdict. The strategy that
// produced the candidate is tagged on the candidate itself at production
// time, never re-derived afterwards.
type scoredCandidate struct {
	candidate domain.CandidateMatch
	verdict   Verdict
}

// Resolver runs the three-strategy search pipeline for one instrument using
// one pooled broker session. Strategies run strictly in order: identifier,
// then symbol variations, then name search.
type Resolver struct {
	validator      *Validator
	requestTimeout time.Duration
	log            zerolog.Logger
}

// NewResolver creates a new resolver
func NewResolver(validator *Validator, log zerolog.Logger) *Resolver {
	return &Resolver{
		validator:      validator,
		requestTimeout: DefaultRequestTimeout,
		log:            log.With().Str("component", "resolver").Logger(),
	}
}

// SetRequestTimeout overrides the per-round-trip timeout. Used by tests and
// by deployments talking to slow gateways.
func (r *Resolver) SetRequestTimeout(timeout time.Duration) {
	if timeout > 0 {
		r.requestTimeout = timeout
	}
}

// Resolve executes the pipeline. The returned error is non-nil only for
// connection-level failures; every per-request problem (timeout, unknown
// contract, rejection) is folded into a negative result instead.
func (r *Resolver) Resolve(ctx context.Context, session *broker.Session, query *domain.InstrumentQuery) (domain.ResolutionResult, error) {
	if !query.Resolvable() {
		return domain.ResolutionResult{
			Found:  false,
			Reason: "query needs a ticker plus currency, or an ISIN",
		}, nil
	}

	var collected []scoredCandidate

	// Strategy 1: identifier lookup. An accepted candidate ends the pipeline.
	if query.HasISIN() {
		candidates, err := r.identifierStrategy(ctx, session, query)
		if err != nil {
			return domain.ResolutionResult{}, err
		}
		collected = append(collected, candidates...)

		if result, ok := bestAccepted(collected); ok {
			return result, nil
		}
	}

	// Strategy 2: symbol variations. Attempted whenever a ticker exists,
	// even after an identifier round trip whose candidates failed
	// validation.
	if strings.TrimSpace(query.Ticker) != "" {
		candidates, err := r.symbolStrategy(ctx, session, query)
		if err != nil {
			return domain.ResolutionResult{}, err
		}
		collected = append(collected, candidates...)
	}

	// Strategy 3: name search, only when neither earlier strategy produced
	// any raw candidate at all.
	if len(collected) == 0 {
		candidates, err := r.nameStrategy(ctx, session, query)
		if err != nil {
			return domain.ResolutionResult{}, err
		}
		collected = append(collected, candidates...)
	}

	if result, ok := bestAccepted(collected); ok {
		return result, nil
	}

	return r.notFound(query, collected), nil
}

// identifierStrategy issues one contract lookup for the query's ISIN and
// validates everything that comes back.
func (r *Resolver) identifierStrategy(ctx context.Context, session *broker.Session, query *domain.InstrumentQuery) ([]scoredCandidate, error) {
	isin := strings.ToUpper(strings.TrimSpace(*query.ISIN))

	records, err := r.roundTrip(ctx, query, "isin lookup", func(stepCtx context.Context) ([]broker.ContractRecord, error) {
		return session.ContractLookup(stepCtx, isin, query.Currency, "")
	})
	if err != nil {
		return nil, err
	}

	return r.validateRecords(query, records, domain.StrategyISIN, ""), nil
}

// symbolStrategy walks the ticker variations against the generic venue and
// stops at the first variation that produces any candidate, validated or
// not. Validation happens after collection.
func (r *Resolver) symbolStrategy(ctx context.Context, session *broker.Session, query *domain.InstrumentQuery) ([]scoredCandidate, error) {
	for _, variation := range TickerVariations(query.Ticker) {
		records, err := r.roundTrip(ctx, query, "symbol lookup "+variation, func(stepCtx context.Context) ([]broker.ContractRecord, error) {
			return session.ContractLookup(stepCtx, variation, query.Currency, genericVenue)
		})
		if err != nil {
			return nil, err
		}

		if len(records) > 0 {
			return r.validateRecords(query, records, domain.StrategyTicker, genericVenue), nil
		}
	}
	return nil, nil
}

// nameStrategy derives search terms from the display name plus the alias
// table and collects currency-compatible matches.
func (r *Resolver) nameStrategy(ctx context.Context, session *broker.Session, query *domain.InstrumentQuery) ([]scoredCandidate, error) {
	var collected []scoredCandidate

	for _, term := range searchTerms(query.Name) {
		records, err := r.roundTrip(ctx, query, "name search "+term, func(stepCtx context.Context) ([]broker.ContractRecord, error) {
			return session.SymbolMatches(stepCtx, term)
		})
		if err != nil {
			return nil, err
		}

		// Name search is broker-wide; keep only currency-compatible hits.
		compatible := records[:0:0]
		for _, record := range records {
			if record.Currency == "" || strings.EqualFold(record.Currency, query.Currency) {
				compatible = append(compatible, record)
			}
		}

		collected = append(collected, r.validateRecords(query, compatible, domain.StrategyName, "")...)
	}

	return collected, nil
}

// roundTrip runs one bounded broker request. Timeouts and per-request errors
// collapse to an empty record set; connection failures propagate.
func (r *Resolver) roundTrip(ctx context.Context, query *domain.InstrumentQuery, step string, call func(context.Context) ([]broker.ContractRecord, error)) ([]broker.ContractRecord, error) {
	stepCtx, cancel := context.WithTimeout(ctx, r.requestTimeout)
	defer cancel()

	records, err := call(stepCtx)
	if err != nil {
		if errors.Is(err, domain.ErrBrokerFatal) {
			return nil, err
		}
		if errors.Is(err, domain.ErrRequestTimeout) {
			r.log.Warn().
				Str("ticker", query.Ticker).
				Str("step", step).
				Msg("Broker request timed out, moving to next step")
			return nil, nil
		}
		r.log.Warn().
			Err(err).
			Str("ticker", query.Ticker).
			Str("step", step).
			Msg("Broker request failed, moving to next step")
		return nil, nil
	}
	return records, nil
}

// validateRecords turns raw records into scored candidates tagged with the
// producing strategy.
func (r *Resolver) validateRecords(query *domain.InstrumentQuery, records []broker.ContractRecord, strategy domain.Strategy, venue string) []scoredCandidate {
	candidates := make([]scoredCandidate, 0, len(records))
	for _, record := range records {
		candidate := domain.CandidateMatch{
			Symbol:          record.Symbol,
			LongName:        record.LongName,
			Currency:        record.Currency,
			Exchange:        firstNonEmpty(record.Exchange, venue),
			PrimaryExchange: record.PrimaryExchange,
			ContractID:      record.ContractID,
			StrategyUsed:    strategy,
		}
		verdict := r.validator.Validate(query, &candidate, strategy)
		candidates = append(candidates, scoredCandidate{candidate: candidate, verdict: verdict})
	}
	return candidates
}

// bestAccepted ranks accepted candidates by name similarity descending and
// returns the winner as a final result.
func bestAccepted(collected []scoredCandidate) (domain.ResolutionResult, bool) {
	accepted := make([]scoredCandidate, 0, len(collected))
	for _, sc := range collected {
		if sc.verdict.Accepted {
			accepted = append(accepted, sc)
		}
	}
	if len(accepted) == 0 {
		return domain.ResolutionResult{}, false
	}

	sort.SliceStable(accepted, func(i, j int) bool {
		return accepted[i].verdict.Similarity > accepted[j].verdict.Similarity
	})

	winner := accepted[0]
	match := winner.candidate
	strategy := match.StrategyUsed

	return domain.ResolutionResult{
		Found:           true,
		Match:           &match,
		ConfidenceScore: winner.verdict.Score,
		StrategyUsed:    &strategy,
		Reason:          winner.verdict.Reason,
	}, true
}

// notFound builds the negative result, preserving the most informative
// rejection reason for triage.
func (r *Resolver) notFound(query *domain.InstrumentQuery, collected []scoredCandidate) domain.ResolutionResult {
	reason := "no candidates from any strategy"
	if len(collected) > 0 {
		// Prefer the rejection closest to acceptance.
		best := collected[0]
		for _, sc := range collected[1:] {
			if sc.verdict.Similarity > best.verdict.Similarity {
				best = sc
			}
		}
		reason = best.verdict.Reason
	}

	r.log.Debug().
		Str("ticker", query.Ticker).
		Str("name", query.Name).
		Int("candidates_seen", len(collected)).
		Str("reason", reason).
		Msg("Instrument not resolved")

	return domain.ResolutionResult{Found: false, Reason: reason}
}

// searchTerms derives up to maxNameSearchTerms free-text terms from a display
// name, then appends alias table entries.
func searchTerms(name string) []string {
	tokens := SignificantTokens(name)

	var terms []string
	if len(tokens) > 0 {
		terms = append(terms, tokens[0])
	}
	if len(tokens) > 1 {
		terms = append(terms, tokens[0]+" "+tokens[1])
	}
	if cleaned := CleanName(name); cleaned != "" && len(terms) < maxNameSearchTerms {
		duplicate := false
		for _, t := range terms {
			if t == cleaned {
				duplicate = true
				break
			}
		}
		if !duplicate {
			terms = append(terms, cleaned)
		}
	}

	return dedupe(append(terms, aliasTerms(name)...))
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}

package resolution

import (
	"strings"

	"github.com/agnivade/levenshtein"
	"github.com/rs/zerolog"

	"github.com/aristath/scout/internal/domain"
)

// Acceptance thresholds per strategy. An identifier lookup is authoritative
// for identity but not immune to data-entry errors in the universe, so even
// ISIN hits are cross-checked against the name. Name-based hits carry the
// least signal and are gated hardest.
const (
	tickerMinSimilarity = 0.3

	isinMinSimilarity         = 0.6
	isinRelaxedSimilarity     = 0.4
	isinRelaxedMinOverlap     = 1
	isinOverlapOnlyMinOverlap = 2

	nameMinSimilarity         = 0.8
	nameLeadTokenSimilarity   = 0.5
	nameOverlapSimilarity     = 0.6
	nameOverlapMinOverlap     = 2
	nameSingleHitSimilarity   = 0.7
	tickerFallbackScore       = 0.5
)

// Verdict is the Validator's judgement of one candidate.
type Verdict struct {
	Accepted   bool
	Score      float64
	Similarity float64
	Overlap    int
	Reason     string
}

// Validator scores broker candidates against the originating query using
// normalized-token overlap and whole-string similarity, with acceptance
// rules tuned per strategy.
type Validator struct {
	log zerolog.Logger
}

// NewValidator creates a new validator
func NewValidator(log zerolog.Logger) *Validator {
	return &Validator{
		log: log.With().Str("component", "validator").Logger(),
	}
}

// Validate decides whether a candidate is the instrument the query describes.
// The currency gate applies to every strategy: a currency mismatch rejects
// unconditionally, because a right-name-wrong-listing contract would be
// silently traded on the wrong venue.
func (v *Validator) Validate(query *domain.InstrumentQuery, candidate *domain.CandidateMatch, strategy domain.Strategy) Verdict {
	if !strings.EqualFold(strings.TrimSpace(query.Currency), strings.TrimSpace(candidate.Currency)) {
		return Verdict{
			Accepted: false,
			Reason:   "currency mismatch: query " + query.Currency + " vs candidate " + candidate.Currency,
		}
	}

	similarity := SimilarityRatio(query.Name, candidate.LongName)
	overlap, leadHit := tokenOverlap(query.Name, candidate.LongName)
	score := confidenceScore(query.Name, similarity, overlap)

	verdict := Verdict{Similarity: similarity, Overlap: overlap, Score: score}

	switch strategy {
	case domain.StrategyTicker:
		switch {
		case similarity > tickerMinSimilarity:
			verdict.Accepted = true
			verdict.Reason = "ticker match, name similar"
		case overlap >= 1:
			verdict.Accepted = true
			verdict.Reason = "ticker match, name word overlap"
		default:
			// A successful ticker+currency round trip is itself a strong
			// signal even when the broker's long name shares nothing with
			// the universe record.
			verdict.Accepted = true
			verdict.Score = maxFloat(score, tickerFallbackScore)
			verdict.Reason = "ticker match, currency confirmed"
		}

	case domain.StrategyISIN:
		switch {
		case similarity > isinMinSimilarity:
			verdict.Accepted = true
			verdict.Reason = "isin match, name confirmed"
		case overlap >= isinOverlapOnlyMinOverlap:
			verdict.Accepted = true
			verdict.Reason = "isin match, name word overlap"
		case overlap >= isinRelaxedMinOverlap && similarity > isinRelaxedSimilarity:
			verdict.Accepted = true
			verdict.Reason = "isin match, partial name agreement"
		default:
			verdict.Reason = "possible wrong ISIN: identifier matched but name disagrees"
		}

	case domain.StrategyName:
		switch {
		case similarity > nameMinSimilarity:
			verdict.Accepted = true
			verdict.Reason = "name match, high similarity"
		case leadHit && similarity > nameLeadTokenSimilarity:
			verdict.Accepted = true
			verdict.Reason = "name match, distinctive word hit"
		case overlap >= nameOverlapMinOverlap && similarity > nameOverlapSimilarity:
			verdict.Accepted = true
			verdict.Reason = "name match, word overlap"
		case overlap >= 1 && similarity > nameSingleHitSimilarity:
			verdict.Accepted = true
			verdict.Reason = "name match, single word and similarity"
		default:
			verdict.Reason = "name similarity too low"
		}

	default:
		verdict.Reason = "unknown strategy"
	}

	if !verdict.Accepted {
		v.log.Debug().
			Str("ticker", query.Ticker).
			Str("candidate", candidate.Symbol).
			Str("candidate_name", candidate.LongName).
			Str("strategy", string(strategy)).
			Float64("similarity", similarity).
			Int("overlap", overlap).
			Str("reason", verdict.Reason).
			Msg("Candidate rejected")
	}

	return verdict
}

// SimilarityRatio is an edit-distance-based ratio in [0,1] over the cleaned,
// ASCII-folded names. 1.0 means identical after cleaning.
func SimilarityRatio(a, b string) float64 {
	ca, cb := CleanName(a), CleanName(b)
	if ca == "" || cb == "" {
		return 0
	}
	if ca == cb {
		return 1
	}

	distance := levenshtein.ComputeDistance(ca, cb)
	longer := len(ca)
	if len(cb) > longer {
		longer = len(cb)
	}
	return 1 - float64(distance)/float64(longer)
}

// tokenOverlap counts significant tokens shared by the two names. leadHit
// reports whether the query's first significant token (the distinctive part
// of most corporate names) appears in the candidate.
func tokenOverlap(queryName, candidateName string) (overlap int, leadHit bool) {
	queryTokens := SignificantTokens(queryName)
	candidateTokens := SignificantTokens(candidateName)

	candidateSet := make(map[string]bool, len(candidateTokens))
	for _, token := range candidateTokens {
		candidateSet[token] = true
	}

	for i, token := range queryTokens {
		if candidateSet[token] {
			overlap++
			if i == 0 {
				leadHit = true
			}
		}
	}
	return overlap, leadHit
}

// confidenceScore blends similarity with how much of the query's significant
// vocabulary the candidate covers.
func confidenceScore(queryName string, similarity float64, overlap int) float64 {
	tokens := len(SignificantTokens(queryName))
	if tokens == 0 {
		return similarity
	}

	coverage := float64(overlap) / float64(tokens)
	if coverage > 1 {
		coverage = 1
	}

	score := 0.6*similarity + 0.4*coverage
	if score > 1 {
		score = 1
	}
	if score < 0 {
		score = 0
	}
	return score
}

func maxFloat(a, b float64) float64 {
	if a > b {
		return a
	}
	return b
}

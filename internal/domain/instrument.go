package domain

import (
	"strings"
)

// Broker-agnostic types for instrument identity resolution.
// These types abstract away broker-specific contract representations.

// InstrumentQuery describes one instrument from the internal universe that
// needs to be resolved into a broker contract. Immutable input.
type InstrumentQuery struct {
	Ticker            string   // Internal ticker, possibly with an exchange suffix (e.g. ROCK-A.CO)
	ISIN              *string  // ISIN if known (nullable)
	Name              string   // Display name (e.g. "ROCKWOOL International A/S")
	Currency          string   // ISO 4217 trading currency
	Sector            *string  // Sector/industry label (nullable)
	Country           *string  // Issuer country code (nullable)
	RequestedQuantity *float64 // Quantity the rebalancer wants, carried through for reporting
}

// isinSentinels are placeholder values that show up in universe exports where
// an ISIN was never captured. They must not trigger an identifier lookup.
var isinSentinels = map[string]bool{
	"":     true,
	"-":    true,
	"0":    true,
	"NONE": true,
	"N/A":  true,
}

// HasISIN reports whether the query carries a usable ISIN.
func (q *InstrumentQuery) HasISIN() bool {
	if q.ISIN == nil {
		return false
	}
	return !isinSentinels[strings.ToUpper(strings.TrimSpace(*q.ISIN))]
}

// Resolvable reports whether any search strategy can run for this query.
// Ticker plus currency, or an ISIN, is the minimum.
func (q *InstrumentQuery) Resolvable() bool {
	if q.HasISIN() {
		return true
	}
	return q.Ticker != "" && q.Currency != ""
}

// Label returns a short human-readable identifier for progress reporting
// and not-found listings.
func (q *InstrumentQuery) Label() string {
	if q.Ticker != "" {
		return q.Ticker
	}
	if q.HasISIN() {
		return *q.ISIN
	}
	return q.Name
}

// Key returns the composite cache key for this query: (isin, ticker, currency).
func (q *InstrumentQuery) Key() string {
	isin := ""
	if q.HasISIN() {
		isin = strings.ToUpper(strings.TrimSpace(*q.ISIN))
	}
	return isin + "|" + strings.ToUpper(strings.TrimSpace(q.Ticker)) + "|" + strings.ToUpper(strings.TrimSpace(q.Currency))
}

// Strategy identifies which search approach produced a candidate.
type Strategy string

const (
	StrategyISIN   Strategy = "isin"
	StrategyTicker Strategy = "ticker"
	StrategyName   Strategy = "name"
)

// CandidateMatch is a single contract record returned by the broker for one
// request, prior to validation. Ephemeral: not retained beyond scoring.
type CandidateMatch struct {
	Symbol          string   // Broker symbol
	LongName        string   // Full contract name as the broker knows it
	Currency        string   // Contract trading currency
	Exchange        string   // Venue the lookup ran against
	PrimaryExchange string   // Contract's primary listing venue
	ContractID      int64    // Broker-side contract identifier
	StrategyUsed    Strategy // Strategy that produced this candidate
}

// ResolutionResult is the outcome of resolving one InstrumentQuery.
// Immutable once produced. A found=false result is still a valid, cacheable
// outcome - a confirmed "not found" avoids repeating an expensive search.
type ResolutionResult struct {
	Found           bool            `json:"found" msgpack:"found"`
	Match           *CandidateMatch `json:"match,omitempty" msgpack:"match"`
	ConfidenceScore float64         `json:"confidence_score" msgpack:"confidence_score"`
	StrategyUsed    *Strategy       `json:"strategy_used,omitempty" msgpack:"strategy_used"`
	Reason          string          `json:"reason,omitempty" msgpack:"reason"`
}

// NotFoundDetail carries enough context about an unresolved instrument for
// manual triage.
type NotFoundDetail struct {
	Ticker   string `json:"ticker"`
	Name     string `json:"name"`
	Currency string `json:"currency"`
	Country  string `json:"country,omitempty"`
	Reason   string `json:"reason,omitempty"`
}

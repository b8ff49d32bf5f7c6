package testing

import (
	"github.com/aristath/scout/internal/domain"
)

// StrPtr returns a pointer to the given string. Convenience for building
// queries with optional fields.
func StrPtr(s string) *string {
	return &s
}

// QueryFixture builds an InstrumentQuery with the given core fields.
func QueryFixture(ticker, isin, name, currency string) domain.InstrumentQuery {
	q := domain.InstrumentQuery{
		Ticker:   ticker,
		Name:     name,
		Currency: currency,
	}
	if isin != "" {
		q.ISIN = StrPtr(isin)
	}
	return q
}

// SampleUniverse returns a small mixed universe covering the markets the
// resolver handles: US, Nordic, Greek, and Japanese listings.
func SampleUniverse() []domain.InstrumentQuery {
	return []domain.InstrumentQuery{
		QueryFixture("AAPL", "US0378331005", "Apple Inc", "USD"),
		QueryFixture("ADMCM.HE", "FI0009006407", "Admicom Oyj", "EUR"),
		QueryFixture("ROCK-A.CO", "", "ROCKWOOL International A/S", "DKK"),
		QueryFixture("OPAP.AT", "GRS419003009", "OPAP SA", "EUR"),
		QueryFixture("7203.T", "JP3633400001", "Toyota Motor Corporation", "JPY"),
	}
}

package universe

import (
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aristath/scout/internal/events"
)

func setupTestService(t *testing.T) *Service {
	t.Helper()

	repo := setupTestRepo(t)
	bus := events.NewBus(zerolog.Nop())
	return NewService(repo, events.NewManager(bus, zerolog.Nop()), zerolog.Nop())
}

func TestDedupeKeepsHighestPriority(t *testing.T) {
	instruments := []Instrument{
		sampleInstrument("AAPL", "", "Apple Inc", "USD", 1),
		sampleInstrument("OPAP.AT", "", "OPAP SA", "EUR", 2),
		sampleInstrument("aapl", "US0378331005", "Apple Inc.", "USD", 5),
		sampleInstrument("AAPL", "", "Apple stale", "USD", 3),
	}

	deduped := Dedupe(instruments)
	require.Len(t, deduped, 2)

	// First occurrence keeps its position; highest priority wins the slot.
	assert.Equal(t, "aapl", deduped[0].Ticker)
	assert.Equal(t, 5.0, deduped[0].Priority)
	assert.Equal(t, "OPAP.AT", deduped[1].Ticker)
}

func TestDedupeSkipsBlankTickers(t *testing.T) {
	instruments := []Instrument{
		sampleInstrument("", "", "Ghost", "USD", 1),
		sampleInstrument("AAPL", "", "Apple Inc", "USD", 1),
	}
	deduped := Dedupe(instruments)
	require.Len(t, deduped, 1)
	assert.Equal(t, "AAPL", deduped[0].Ticker)
}

func TestImportDedupesAndStores(t *testing.T) {
	service := setupTestService(t)

	stored, err := service.Import([]Instrument{
		sampleInstrument("AAPL", "", "Apple Inc", "USD", 1),
		sampleInstrument("AAPL", "US0378331005", "Apple Inc.", "USD", 2),
		sampleInstrument("OPAP.AT", "GRS419003009", "OPAP SA", "EUR", 1),
	})
	require.NoError(t, err)
	assert.Equal(t, 2, stored)

	got, err := service.Repository().GetByTicker("AAPL")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "US0378331005", got.ISIN, "highest-priority duplicate wins")
}

func TestResolvableQueriesSkipsIncompleteRecords(t *testing.T) {
	service := setupTestService(t)

	complete := sampleInstrument("AAPL", "", "Apple Inc", "USD", 1)
	noCurrency := sampleInstrument("NOCCY", "", "No Currency Corp", "", 1)
	isinOnly := Instrument{Ticker: "ISINONLY", ISIN: "US1111111111", Name: "ISIN Only", Active: true}
	inactive := sampleInstrument("GONE", "", "Gone Corp", "USD", 1)
	inactive.Active = false

	require.NoError(t, service.Repository().Upsert(&complete))
	require.NoError(t, service.Repository().Upsert(&noCurrency))
	require.NoError(t, service.Repository().Upsert(&isinOnly))
	require.NoError(t, service.Repository().Upsert(&inactive))

	queries, err := service.ResolvableQueries()
	require.NoError(t, err)

	tickers := make([]string, len(queries))
	for i, q := range queries {
		tickers[i] = q.Ticker
	}
	assert.ElementsMatch(t, []string{"AAPL", "ISINONLY"}, tickers)
}

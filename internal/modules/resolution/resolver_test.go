package resolution

import (
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aristath/scout/internal/clients/broker"
	"github.com/aristath/scout/internal/domain"
	testingpkg "github.com/aristath/scout/internal/testing"
)

func newTestResolver(t *testing.T, stub *testingpkg.StubTransport) (*Resolver, *broker.Session) {
	t.Helper()

	session := broker.NewSession(1, stub, zerolog.Nop())
	require.NoError(t, session.Connect("localhost", 7496))

	resolver := NewResolver(NewValidator(zerolog.Nop()), zerolog.Nop())
	resolver.SetRequestTimeout(200 * time.Millisecond)
	return resolver, session
}

func TestResolveByISIN(t *testing.T) {
	// Scenario: the identifier lookup answers with the right contract.
	stub := testingpkg.NewStubTransport()
	stub.OnContractLookup("US0378331005", broker.ContractRecord{
		Symbol:          "AAPL",
		LongName:        "Apple Inc.",
		Currency:        "USD",
		PrimaryExchange: "NASDAQ",
		ContractID:      265598,
	})

	resolver, session := newTestResolver(t, stub)
	query := testingpkg.QueryFixture("AAPL", "US0378331005", "Apple Inc", "USD")

	result, err := resolver.Resolve(context.Background(), session, &query)
	require.NoError(t, err)

	assert.True(t, result.Found)
	require.NotNil(t, result.StrategyUsed)
	assert.Equal(t, domain.StrategyISIN, *result.StrategyUsed)
	assert.Greater(t, result.ConfidenceScore, 0.9)
	require.NotNil(t, result.Match)
	assert.Equal(t, int64(265598), result.Match.ContractID)

	// The identifier strategy short-circuits: one round trip only.
	assert.Equal(t, int64(1), stub.RoundTrips())
}

func TestResolveWrongISINRejected(t *testing.T) {
	// Scenario: the universe carries a wrong ISIN; the identifier round trip
	// succeeds but names disagree, and nothing else answers.
	stub := testingpkg.NewStubTransport()
	stub.OnContractLookup("FI0009006407", broker.ContractRecord{
		Symbol:     "ICP1V",
		LongName:   "INCAP OYJ",
		Currency:   "EUR",
		ContractID: 99,
	})

	resolver, session := newTestResolver(t, stub)
	query := testingpkg.QueryFixture("ADMCM.HE", "FI0009006407", "Admicom Oyj", "EUR")

	result, err := resolver.Resolve(context.Background(), session, &query)
	require.NoError(t, err)

	assert.False(t, result.Found)
	assert.Contains(t, result.Reason, "possible wrong ISIN")
}

func TestResolveByTickerVariation(t *testing.T) {
	// Scenario: no ISIN; the broker only answers to the collapsed
	// share-class symbol ROCKA on the generic venue.
	stub := testingpkg.NewStubTransport()
	stub.OnContractLookup("ROCKA", broker.ContractRecord{
		Symbol:          "ROCKA",
		LongName:        "Rockwool International A/S",
		Currency:        "DKK",
		PrimaryExchange: "CPH",
		ContractID:      7731,
	})

	resolver, session := newTestResolver(t, stub)
	query := testingpkg.QueryFixture("ROCK-A.CO", "", "ROCKWOOL International A/S", "DKK")

	result, err := resolver.Resolve(context.Background(), session, &query)
	require.NoError(t, err)

	assert.True(t, result.Found)
	require.NotNil(t, result.StrategyUsed)
	assert.Equal(t, domain.StrategyTicker, *result.StrategyUsed)
	require.NotNil(t, result.Match)
	assert.Equal(t, "ROCKA", result.Match.Symbol)
}

func TestResolveFallsBackToTickerAfterFailedISINValidation(t *testing.T) {
	// An identifier hit that fails validation must not stop the symbol
	// strategy from running.
	stub := testingpkg.NewStubTransport()
	stub.OnContractLookup("FI0009006407", broker.ContractRecord{
		Symbol:   "ICP1V",
		LongName: "INCAP OYJ",
		Currency: "EUR",
	})
	stub.OnContractLookup("ADMCM.HE", broker.ContractRecord{
		Symbol:   "ADMCM",
		LongName: "Admicom Oyj",
		Currency: "EUR",
	})

	resolver, session := newTestResolver(t, stub)
	query := testingpkg.QueryFixture("ADMCM.HE", "FI0009006407", "Admicom Oyj", "EUR")

	result, err := resolver.Resolve(context.Background(), session, &query)
	require.NoError(t, err)

	assert.True(t, result.Found)
	require.NotNil(t, result.StrategyUsed)
	assert.Equal(t, domain.StrategyTicker, *result.StrategyUsed, "winner came from the symbol strategy")
}

func TestResolveByNameSearch(t *testing.T) {
	// Nothing answers to identifier or symbol lookups; the name search does.
	stub := testingpkg.NewStubTransport()
	stub.OnSymbolMatch("admicom", broker.ContractRecord{
		Symbol:     "ADMCM",
		LongName:   "Admicom Oyj",
		Currency:   "EUR",
		ContractID: 1205,
	})

	resolver, session := newTestResolver(t, stub)
	query := testingpkg.QueryFixture("WRONG.HE", "", "Admicom Oyj", "EUR")

	result, err := resolver.Resolve(context.Background(), session, &query)
	require.NoError(t, err)

	assert.True(t, result.Found)
	require.NotNil(t, result.StrategyUsed)
	assert.Equal(t, domain.StrategyName, *result.StrategyUsed)
}

func TestResolveNameSearchFiltersCurrency(t *testing.T) {
	stub := testingpkg.NewStubTransport()
	stub.OnSymbolMatch("admicom", broker.ContractRecord{
		Symbol:   "ADMCM",
		LongName: "Admicom Oyj",
		Currency: "SEK", // wrong listing
	})

	resolver, session := newTestResolver(t, stub)
	query := testingpkg.QueryFixture("WRONG.HE", "", "Admicom Oyj", "EUR")

	result, err := resolver.Resolve(context.Background(), session, &query)
	require.NoError(t, err)
	assert.False(t, result.Found)
}

func TestResolveTimeoutAdvancesPipeline(t *testing.T) {
	// The ISIN lookup hangs; the ticker strategy must still run and win.
	stub := testingpkg.NewStubTransport()
	stub.NeverComplete("US0378331005")
	stub.OnContractLookup("AAPL", broker.ContractRecord{
		Symbol:   "AAPL",
		LongName: "Apple Inc.",
		Currency: "USD",
	})

	resolver, session := newTestResolver(t, stub)
	resolver.SetRequestTimeout(50 * time.Millisecond)
	query := testingpkg.QueryFixture("AAPL", "US0378331005", "Apple Inc", "USD")

	result, err := resolver.Resolve(context.Background(), session, &query)
	require.NoError(t, err)

	assert.True(t, result.Found)
	require.NotNil(t, result.StrategyUsed)
	assert.Equal(t, domain.StrategyTicker, *result.StrategyUsed)
}

func TestResolveUnresolvableQuery(t *testing.T) {
	stub := testingpkg.NewStubTransport()
	resolver, session := newTestResolver(t, stub)

	query := domain.InstrumentQuery{Name: "Mystery Corp"}
	result, err := resolver.Resolve(context.Background(), session, &query)
	require.NoError(t, err)

	assert.False(t, result.Found)
	assert.Equal(t, int64(0), stub.RoundTrips())
}

func TestResolveBestOfMultipleCandidates(t *testing.T) {
	// Two candidates from one round trip; the higher name similarity wins.
	stub := testingpkg.NewStubTransport()
	stub.OnContractLookup("VOLV", broker.ContractRecord{
		Symbol:   "VOLV A",
		LongName: "Volvo AB Series A",
		Currency: "SEK",
	}, broker.ContractRecord{
		Symbol:   "VOLV B",
		LongName: "Volvo AB",
		Currency: "SEK",
	})

	resolver, session := newTestResolver(t, stub)
	query := testingpkg.QueryFixture("VOLV", "", "Volvo AB", "SEK")

	result, err := resolver.Resolve(context.Background(), session, &query)
	require.NoError(t, err)

	assert.True(t, result.Found)
	require.NotNil(t, result.Match)
	assert.Equal(t, "VOLV B", result.Match.Symbol)
}

func TestSearchTerms(t *testing.T) {
	terms := searchTerms("ROCKWOOL International A/S")
	assert.Contains(t, terms, "rockwool")
	assert.LessOrEqual(t, len(terms), maxNameSearchTerms+1)

	// Alias table entries ride along.
	aliased := searchTerms("Viohalco SA")
	assert.Contains(t, aliased, "VIO")
}

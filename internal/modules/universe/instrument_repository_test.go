package universe

import (
	"database/sql"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	_ "modernc.org/sqlite"
)

func setupTestRepo(t *testing.T) *InstrumentRepository {
	t.Helper()

	db, err := sql.Open("sqlite", ":memory:")
	require.NoError(t, err)
	// Pooled :memory: connections each see a different database.
	db.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = db.Close() })

	repo := NewInstrumentRepository(db, zerolog.Nop())
	require.NoError(t, repo.EnsureSchema())
	return repo
}

func sampleInstrument(ticker, isin, name, currency string, priority float64) Instrument {
	return Instrument{
		Ticker:   ticker,
		ISIN:     isin,
		Name:     name,
		Currency: currency,
		Priority: priority,
		Active:   true,
	}
}

func TestUpsertAndGetByTicker(t *testing.T) {
	repo := setupTestRepo(t)

	instrument := sampleInstrument("OPAP.AT", "GRS419003009", "OPAP SA", "EUR", 1.5)
	require.NoError(t, repo.Upsert(&instrument))

	got, err := repo.GetByTicker("opap.at")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "OPAP.AT", got.Ticker)
	assert.Equal(t, "GRS419003009", got.ISIN)
	assert.Equal(t, "EUR", got.Currency)
	assert.Equal(t, 1.5, got.Priority)
	assert.True(t, got.Active)
}

func TestGetByTickerNotFound(t *testing.T) {
	repo := setupTestRepo(t)

	got, err := repo.GetByTicker("MISSING")
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestUpsertOverwrites(t *testing.T) {
	repo := setupTestRepo(t)

	first := sampleInstrument("AAPL", "US0378331005", "Apple Inc", "USD", 1)
	require.NoError(t, repo.Upsert(&first))

	second := sampleInstrument("AAPL", "US0378331005", "Apple Inc.", "USD", 2)
	require.NoError(t, repo.Upsert(&second))

	got, err := repo.GetByTicker("AAPL")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "Apple Inc.", got.Name)
	assert.Equal(t, 2.0, got.Priority)

	count, err := repo.Count(false)
	require.NoError(t, err)
	assert.Equal(t, 1, count)
}

func TestGetByISINPrefersHighestPriority(t *testing.T) {
	repo := setupTestRepo(t)

	// Dual listing sharing an ISIN under different tickers.
	low := sampleInstrument("ROCK-B.CO", "DK0010219153", "ROCKWOOL B", "DKK", 1)
	high := sampleInstrument("ROCK-A.CO", "DK0010219153", "ROCKWOOL A", "DKK", 5)
	require.NoError(t, repo.Upsert(&low))
	require.NoError(t, repo.Upsert(&high))

	got, err := repo.GetByISIN("DK0010219153")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "ROCK-A.CO", got.Ticker)
}

func TestListActiveOrdering(t *testing.T) {
	repo := setupTestRepo(t)

	a := sampleInstrument("AAA", "", "Alpha", "USD", 1)
	b := sampleInstrument("BBB", "", "Beta", "USD", 3)
	c := sampleInstrument("CCC", "", "Gamma", "USD", 2)
	c.Active = false
	require.NoError(t, repo.Upsert(&a))
	require.NoError(t, repo.Upsert(&b))
	require.NoError(t, repo.Upsert(&c))

	active, err := repo.ListActive()
	require.NoError(t, err)
	require.Len(t, active, 2)
	assert.Equal(t, "BBB", active[0].Ticker, "highest priority first")
	assert.Equal(t, "AAA", active[1].Ticker)
}

func TestSetActive(t *testing.T) {
	repo := setupTestRepo(t)

	instrument := sampleInstrument("AAPL", "", "Apple Inc", "USD", 1)
	require.NoError(t, repo.Upsert(&instrument))

	require.NoError(t, repo.SetActive("AAPL", false))
	got, err := repo.GetByTicker("AAPL")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.False(t, got.Active)

	err = repo.SetActive("MISSING", false)
	assert.Error(t, err)
}

func TestDelete(t *testing.T) {
	repo := setupTestRepo(t)

	instrument := sampleInstrument("AAPL", "", "Apple Inc", "USD", 1)
	require.NoError(t, repo.Upsert(&instrument))
	require.NoError(t, repo.Delete("AAPL"))

	got, err := repo.GetByTicker("AAPL")
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestUpsertRequiresTicker(t *testing.T) {
	repo := setupTestRepo(t)

	instrument := sampleInstrument("  ", "", "Nameless", "USD", 1)
	assert.Error(t, repo.Upsert(&instrument))
}

func TestUpsertManyIsAtomic(t *testing.T) {
	repo := setupTestRepo(t)

	batch := []Instrument{
		sampleInstrument("AAPL", "US0378331005", "Apple Inc", "USD", 1),
		sampleInstrument("  ", "", "Nameless", "USD", 1),
	}
	require.Error(t, repo.UpsertMany(batch))

	// The valid record must have been rolled back with the bad one.
	count, err := repo.Count(false)
	require.NoError(t, err)
	assert.Equal(t, 0, count)
}

func TestUpsertManyStoresBatch(t *testing.T) {
	repo := setupTestRepo(t)

	batch := []Instrument{
		sampleInstrument("AAPL", "US0378331005", "Apple Inc", "USD", 1),
		sampleInstrument("OPAP.AT", "GRS419003009", "OPAP SA", "EUR", 2),
	}
	require.NoError(t, repo.UpsertMany(batch))

	count, err := repo.Count(false)
	require.NoError(t, err)
	assert.Equal(t, 2, count)
}

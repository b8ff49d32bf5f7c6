package resolution

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aristath/scout/internal/clients/broker"
	"github.com/aristath/scout/internal/domain"
	"github.com/aristath/scout/internal/events"
	testingpkg "github.com/aristath/scout/internal/testing"
)

// testHarness wires a service over stub transports so batch behaviour can be
// exercised without a broker.
type testHarness struct {
	service *Service
	cache   *Cache
	bus     *events.Bus
	stubs   []*testingpkg.StubTransport
}

func (h *testHarness) roundTrips() int64 {
	var total int64
	for _, stub := range h.stubs {
		total += stub.RoundTrips()
	}
	return total
}

// script registers an ISIN answer on every stub, so whichever session serves
// the instrument can answer it.
func (h *testHarness) script(isin string, record broker.ContractRecord) {
	for _, stub := range h.stubs {
		stub.OnContractLookup(isin, record)
	}
}

func newTestService(t *testing.T, poolSize int) (*testHarness, func()) {
	t.Helper()

	db, cleanupDB := testingpkg.NewTestDB(t, "resolution_cache")
	cache := NewCache(db.Conn(), DefaultCacheMaxAge, zerolog.Nop())
	require.NoError(t, cache.EnsureSchema())

	bus := events.NewBus(zerolog.Nop())
	em := events.NewManager(bus, zerolog.Nop())

	stubs := make([]*testingpkg.StubTransport, poolSize)
	sessions := make([]*broker.Session, poolSize)
	for i := range stubs {
		stubs[i] = testingpkg.NewStubTransport()
		sessions[i] = broker.NewSession(i+1, stubs[i], zerolog.Nop())
	}

	pool := broker.NewPool(broker.PoolConfig{
		Host:           "localhost",
		Port:           7496,
		MaxConnections: poolSize,
		AcquireTimeout: 2 * time.Second,
		EventManager:   em,
		Log:            zerolog.Nop(),
	}, sessions)
	require.NoError(t, pool.Connect())

	resolver := NewResolver(NewValidator(zerolog.Nop()), zerolog.Nop())
	resolver.SetRequestTimeout(500 * time.Millisecond)

	service := NewService(resolver, cache, pool, em, zerolog.Nop())

	cleanup := func() {
		pool.Close()
		cleanupDB()
	}
	return &testHarness{service: service, cache: cache, bus: bus, stubs: stubs}, cleanup
}

// batchFixture builds n queries with synthetic ISINs and scripts a matching
// contract for each.
func batchFixture(h *testHarness, n int) []domain.InstrumentQuery {
	queries := make([]domain.InstrumentQuery, n)
	for i := range queries {
		isin := fmt.Sprintf("US%010d", i)
		name := fmt.Sprintf("Test Company %d", i)
		queries[i] = testingpkg.QueryFixture(fmt.Sprintf("TST%d", i), isin, name, "USD")
		h.script(isin, broker.ContractRecord{
			Symbol:     fmt.Sprintf("TST%d", i),
			LongName:   name,
			Currency:   "USD",
			ContractID: int64(1000 + i),
		})
	}
	return queries
}

func TestResolveBatchCachePartitioning(t *testing.T) {
	h, cleanup := newTestService(t, 3)
	defer cleanup()

	queries := batchFixture(h, 20)

	// Pre-resolve the first 8 so the cache already knows them.
	for i := 0; i < 8; i++ {
		strategy := domain.StrategyISIN
		require.NoError(t, h.cache.Put(*queries[i].ISIN, queries[i].Ticker, queries[i].Currency, &domain.ResolutionResult{
			Found:           true,
			ConfidenceScore: 0.95,
			StrategyUsed:    &strategy,
		}))
	}

	stats, outcomes, err := h.service.ResolveBatch(context.Background(), queries, RunOptions{
		UseCache:      true,
		MaxConcurrent: 5,
	})
	require.NoError(t, err)

	assert.Equal(t, 20, stats.Total)
	assert.Equal(t, 20, stats.Resolved)
	assert.Equal(t, 8, stats.FromCache)
	assert.Equal(t, 0, stats.NotFound)

	// Only uncached instruments reach the broker, one round trip each
	// (identifier hits short-circuit the pipeline).
	assert.Equal(t, int64(12), h.roundTrips())

	// Outcomes stay in input order.
	require.Len(t, outcomes, 20)
	for i, o := range outcomes {
		assert.Equal(t, queries[i].Ticker, o.Query.Ticker)
		assert.Equal(t, i < 8, o.FromCache, "outcome %d cache flag", i)
	}
}

func TestResolveBatchIdempotentWithCache(t *testing.T) {
	h, cleanup := newTestService(t, 2)
	defer cleanup()

	queries := batchFixture(h, 6)

	first, _, err := h.service.ResolveBatch(context.Background(), queries, RunOptions{UseCache: true})
	require.NoError(t, err)
	assert.Equal(t, 6, first.Resolved)
	assert.Equal(t, int64(6), h.roundTrips())

	// Second run is served entirely from the cache.
	second, _, err := h.service.ResolveBatch(context.Background(), queries, RunOptions{UseCache: true})
	require.NoError(t, err)
	assert.Equal(t, 6, second.Resolved)
	assert.Equal(t, 6, second.FromCache)
	assert.Equal(t, int64(6), h.roundTrips(), "no new broker traffic")
}

func TestResolveBatchCachesNegatives(t *testing.T) {
	h, cleanup := newTestService(t, 1)
	defer cleanup()

	// Nothing scripted: every strategy comes back empty.
	query := testingpkg.QueryFixture("GHOST", "US9999999999", "Ghost Corp", "USD")

	first, _, err := h.service.ResolveBatch(context.Background(), []domain.InstrumentQuery{query}, RunOptions{UseCache: true})
	require.NoError(t, err)
	assert.Equal(t, 1, first.NotFound)
	firstTrips := h.roundTrips()
	assert.Greater(t, firstTrips, int64(0))

	second, _, err := h.service.ResolveBatch(context.Background(), []domain.InstrumentQuery{query}, RunOptions{UseCache: true})
	require.NoError(t, err)
	assert.Equal(t, 1, second.FromCache)
	assert.Equal(t, firstTrips, h.roundTrips(), "negative outcome served from cache")
}

func TestResolveBatchBypassesCacheWhenDisabled(t *testing.T) {
	h, cleanup := newTestService(t, 2)
	defer cleanup()

	queries := batchFixture(h, 4)

	_, _, err := h.service.ResolveBatch(context.Background(), queries, RunOptions{UseCache: true})
	require.NoError(t, err)
	assert.Equal(t, int64(4), h.roundTrips())

	// A forced re-resolution hits the broker again for everything.
	stats, _, err := h.service.ResolveBatch(context.Background(), queries, RunOptions{UseCache: false})
	require.NoError(t, err)
	assert.Equal(t, 0, stats.FromCache)
	assert.Equal(t, int64(8), h.roundTrips())
}

func TestResolveBatchIsolatesFailures(t *testing.T) {
	h, cleanup := newTestService(t, 2)
	defer cleanup()

	queries := batchFixture(h, 5)

	// Make one instrument unresolvable: clear its scripted answer so every
	// strategy fails for it while its neighbours resolve normally.
	broken := testingpkg.QueryFixture("BROKEN", "US7777777777", "Broken Holdings", "EUR")
	queries = append(queries, broken)

	stats, outcomes, err := h.service.ResolveBatch(context.Background(), queries, RunOptions{UseCache: false})
	require.NoError(t, err)

	assert.Equal(t, 5, stats.Resolved)
	assert.Equal(t, 1, stats.NotFound)
	require.Len(t, stats.NotFoundDetails, 1)
	assert.Equal(t, "BROKEN", stats.NotFoundDetails[0].Ticker)
	assert.NotEmpty(t, stats.NotFoundDetails[0].Reason)

	assert.False(t, outcomes[5].Result.Found)
}

func TestResolveBatchStrategyBreakdown(t *testing.T) {
	h, cleanup := newTestService(t, 1)
	defer cleanup()

	// One ISIN hit, one ticker hit, one name hit.
	isin := "FI0009007884"
	byISIN := testingpkg.QueryFixture("ELISA.HE", isin, "Elisa Oyj", "EUR")
	h.stubs[0].OnContractLookup(isin, broker.ContractRecord{Symbol: "ELISA", LongName: "Elisa Oyj", Currency: "EUR"})

	byTicker := testingpkg.QueryFixture("NOKIA.HE", "", "Nokia Oyj", "EUR")
	h.stubs[0].OnContractLookup("NOKIA.HE", broker.ContractRecord{Symbol: "NOKIA", LongName: "Nokia Oyj", Currency: "EUR"})

	byName := testingpkg.QueryFixture("XXX.HE", "", "Sampo Oyj", "EUR")
	h.stubs[0].OnSymbolMatch("sampo", broker.ContractRecord{Symbol: "SAMPO", LongName: "Sampo Oyj", Currency: "EUR"})

	stats, _, err := h.service.ResolveBatch(context.Background(), []domain.InstrumentQuery{byISIN, byTicker, byName}, RunOptions{})
	require.NoError(t, err)

	assert.Equal(t, 1, stats.FoundByISIN)
	assert.Equal(t, 1, stats.FoundByTicker)
	assert.Equal(t, 1, stats.FoundByName)
	assert.Equal(t, 3, stats.Resolved)
}

func TestResolveBatchProgressMonotonic(t *testing.T) {
	h, cleanup := newTestService(t, 3)
	defer cleanup()

	eventCh, unsubscribe := h.bus.Subscribe()
	defer unsubscribe()

	queries := batchFixture(h, 10)
	stats, _, err := h.service.ResolveBatch(context.Background(), queries, RunOptions{MaxConcurrent: 3})
	require.NoError(t, err)
	require.Equal(t, 10, stats.Total)

	var sawStarted, sawCompleted bool
	lastCurrent := 0
	finalCurrent, finalTotal := -1, -1

	deadline := time.After(2 * time.Second)
collect:
	for {
		select {
		case event := <-eventCh:
			switch event.Type {
			case events.ResolutionStarted:
				sawStarted = true
			case events.ResolutionProgress:
				data, ok := event.Data.(*events.ResolutionRunData)
				require.True(t, ok)
				require.NotNil(t, data.Progress)
				assert.GreaterOrEqual(t, data.Progress.Current, lastCurrent, "progress went backwards")
				lastCurrent = data.Progress.Current
				finalCurrent = data.Progress.Current
				finalTotal = data.Progress.Total
			case events.ResolutionCompleted:
				sawCompleted = true
				break collect
			}
		case <-deadline:
			t.Fatal("timed out waiting for completion event")
		}
	}

	assert.True(t, sawStarted)
	assert.True(t, sawCompleted)
	assert.Equal(t, finalTotal, finalCurrent, "run must end at (total, total)")
	assert.Equal(t, 10, finalTotal)
}

func TestResolveBatchRejectsConcurrentRuns(t *testing.T) {
	h, cleanup := newTestService(t, 1)
	defer cleanup()

	// Slow the single session down so the first run is still going when the
	// second starts.
	h.stubs[0].Delay = 100 * time.Millisecond
	queries := batchFixture(h, 3)

	errCh := make(chan error, 1)
	go func() {
		_, _, err := h.service.ResolveBatch(context.Background(), queries, RunOptions{})
		errCh <- err
	}()

	// Wait for the first run to be marked in flight.
	require.Eventually(t, h.service.Running, time.Second, 5*time.Millisecond)

	_, _, err := h.service.ResolveBatch(context.Background(), queries, RunOptions{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "already in progress")

	require.NoError(t, <-errCh)
}

func TestConcurrencyCappedByPoolSize(t *testing.T) {
	h, cleanup := newTestService(t, 2)
	defer cleanup()

	assert.Equal(t, 2, h.service.concurrency(RunOptions{MaxConcurrent: 10}))
	assert.Equal(t, 1, h.service.concurrency(RunOptions{MaxConcurrent: 1}))
	assert.Equal(t, 2, h.service.concurrency(RunOptions{}), "default capped by pool")
}

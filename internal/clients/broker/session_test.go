package broker_test

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aristath/scout/internal/clients/broker"
	"github.com/aristath/scout/internal/domain"
	testingpkg "github.com/aristath/scout/internal/testing"
)

func newConnectedSession(t *testing.T, stub *testingpkg.StubTransport) *broker.Session {
	t.Helper()
	session := broker.NewSession(1, stub, zerolog.Nop())
	require.NoError(t, session.Connect("localhost", 7496))
	return session
}

func TestSessionContractLookup(t *testing.T) {
	stub := testingpkg.NewStubTransport()
	stub.OnContractLookup("US0378331005", broker.ContractRecord{
		Symbol:     "AAPL",
		LongName:   "Apple Inc.",
		Currency:   "USD",
		ContractID: 265598,
	})

	session := newConnectedSession(t, stub)

	records, err := session.ContractLookup(context.Background(), "US0378331005", "USD", "SMART")
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, "AAPL", records[0].Symbol)
	assert.Equal(t, int64(265598), records[0].ContractID)
}

func TestSessionLookupUnknownContract(t *testing.T) {
	stub := testingpkg.NewStubTransport()
	stub.FailWith("NOPE", 200, "No security definition has been found")

	session := newConnectedSession(t, stub)

	records, err := session.ContractLookup(context.Background(), "NOPE", "USD", "SMART")
	require.NoError(t, err, "unknown-contract codes are not errors")
	assert.Empty(t, records)
}

func TestSessionLookupTimeout(t *testing.T) {
	stub := testingpkg.NewStubTransport()
	stub.NeverComplete("SLOW")

	session := newConnectedSession(t, stub)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	_, err := session.ContractLookup(ctx, "SLOW", "USD", "SMART")
	require.Error(t, err)
	assert.True(t, errors.Is(err, domain.ErrRequestTimeout))
}

func TestSessionConnectionLostFailsInFlight(t *testing.T) {
	stub := testingpkg.NewStubTransport()
	stub.NeverComplete("HANGING")

	session := newConnectedSession(t, stub)

	errCh := make(chan error, 1)
	go func() {
		_, err := session.ContractLookup(context.Background(), "HANGING", "USD", "SMART")
		errCh <- err
	}()

	// Give the request a moment to register before dropping the connection.
	time.Sleep(20 * time.Millisecond)
	stub.DropConnection(errors.New("socket closed"))

	select {
	case err := <-errCh:
		require.Error(t, err)
		assert.True(t, errors.Is(err, domain.ErrBrokerFatal))
	case <-time.After(time.Second):
		t.Fatal("in-flight request was not failed on connection loss")
	}

	assert.False(t, session.Healthy())
}

func TestSessionOverlappingRequestsDoNotMix(t *testing.T) {
	stub := testingpkg.NewStubTransport()
	stub.Delay = 10 * time.Millisecond
	for i := 0; i < 10; i++ {
		symbol := fmt.Sprintf("SYM%d", i)
		stub.OnContractLookup(symbol, broker.ContractRecord{Symbol: symbol, Currency: "USD"})
	}

	session := newConnectedSession(t, stub)

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			symbol := fmt.Sprintf("SYM%d", i)
			records, err := session.ContractLookup(context.Background(), symbol, "USD", "SMART")
			assert.NoError(t, err)
			if assert.Len(t, records, 1) {
				assert.Equal(t, symbol, records[0].Symbol)
			}
		}(i)
	}
	wg.Wait()
}

func TestSessionRequestIDsIncrease(t *testing.T) {
	stub := testingpkg.NewStubTransport()
	session := newConnectedSession(t, stub)

	_, err := session.ContractLookup(context.Background(), "A", "USD", "SMART")
	require.NoError(t, err)
	first := session.LastRequestID()

	_, err = session.SymbolMatches(context.Background(), "B")
	require.NoError(t, err)

	assert.Greater(t, session.LastRequestID(), first)
}

func TestSessionUnhealthyRejectsRequests(t *testing.T) {
	stub := testingpkg.NewStubTransport()
	session := broker.NewSession(1, stub, zerolog.Nop())

	_, err := session.ContractLookup(context.Background(), "AAPL", "USD", "SMART")
	require.Error(t, err)
	assert.True(t, errors.Is(err, domain.ErrBrokerFatal))
}

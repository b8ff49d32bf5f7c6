// Package testing provides testing utilities and helpers for the scout project.
package testing

import (
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/aristath/scout/internal/clients/broker"
)

// StubTransport is a scripted broker.Transport for tests. Answers are keyed
// by the lookup string (contract lookups) or search term (symbol matches) and
// delivered asynchronously through the handler callbacks, the same way a real
// callback-driven transport behaves.
type StubTransport struct {
	mu        sync.Mutex
	handler   broker.Handler
	connected bool

	// ConnectErr, when set, makes Connect fail.
	ConnectErr error

	// Delay is applied before every scripted answer is delivered.
	Delay time.Duration

	contractAnswers map[string][]broker.ContractRecord
	symbolAnswers   map[string][]broker.ContractRecord
	errorAnswers    map[string]errorAnswer
	silent          map[string]bool

	roundTrips atomic.Int64
}

type errorAnswer struct {
	code    int
	message string
}

// NewStubTransport creates an empty stub. Lookups with no scripted answer
// complete with zero records.
func NewStubTransport() *StubTransport {
	return &StubTransport{
		contractAnswers: make(map[string][]broker.ContractRecord),
		symbolAnswers:   make(map[string][]broker.ContractRecord),
		errorAnswers:    make(map[string]errorAnswer),
		silent:          make(map[string]bool),
	}
}

// OnContractLookup scripts the records returned for a contract lookup.
func (t *StubTransport) OnContractLookup(lookup string, records ...broker.ContractRecord) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.contractAnswers[lookup] = records
}

// OnSymbolMatch scripts the records returned for a symbol-match search.
func (t *StubTransport) OnSymbolMatch(term string, records ...broker.ContractRecord) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.symbolAnswers[term] = records
}

// FailWith scripts a per-request broker error for a lookup or search term.
func (t *StubTransport) FailWith(key string, code int, message string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.errorAnswers[key] = errorAnswer{code: code, message: message}
}

// NeverComplete makes a lookup or search term hang forever, so callers hit
// their per-request timeout.
func (t *StubTransport) NeverComplete(key string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.silent[key] = true
}

// RoundTrips returns how many requests were issued against this transport.
func (t *StubTransport) RoundTrips() int64 {
	return t.roundTrips.Load()
}

// DropConnection simulates a connection-level failure.
func (t *StubTransport) DropConnection(err error) {
	t.mu.Lock()
	t.connected = false
	handler := t.handler
	t.mu.Unlock()

	if handler != nil {
		handler.ConnectionLost(err)
	}
}

// SetHandler implements broker.Transport.
func (t *StubTransport) SetHandler(h broker.Handler) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.handler = h
}

// Connect implements broker.Transport.
func (t *StubTransport) Connect(host string, port int, sessionID int) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.ConnectErr != nil {
		return t.ConnectErr
	}
	t.connected = true
	return nil
}

// Disconnect implements broker.Transport.
func (t *StubTransport) Disconnect() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.connected = false
	return nil
}

// IsConnected implements broker.Transport.
func (t *StubTransport) IsConnected() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.connected
}

// RequestContractLookup implements broker.Transport.
func (t *StubTransport) RequestContractLookup(requestID int64, identifierOrSymbol, currency, venue string) error {
	return t.answer(requestID, identifierOrSymbol, t.lookupContract)
}

// RequestSymbolMatches implements broker.Transport.
func (t *StubTransport) RequestSymbolMatches(requestID int64, searchTerm string) error {
	return t.answer(requestID, searchTerm, t.lookupSymbol)
}

func (t *StubTransport) lookupContract(key string) []broker.ContractRecord {
	return t.contractAnswers[key]
}

func (t *StubTransport) lookupSymbol(key string) []broker.ContractRecord {
	return t.symbolAnswers[key]
}

func (t *StubTransport) answer(requestID int64, key string, lookup func(string) []broker.ContractRecord) error {
	t.mu.Lock()
	if !t.connected {
		t.mu.Unlock()
		return fmt.Errorf("stub transport not connected")
	}
	handler := t.handler
	delay := t.Delay
	records := lookup(key)
	errAnswer, hasError := t.errorAnswers[key]
	isSilent := t.silent[key]
	t.mu.Unlock()

	t.roundTrips.Add(1)

	if isSilent {
		return nil
	}

	go func() {
		if delay > 0 {
			time.Sleep(delay)
		}
		if hasError {
			handler.RequestError(requestID, errAnswer.code, errAnswer.message)
			return
		}
		for _, record := range records {
			handler.ContractDetails(requestID, record)
		}
		handler.RequestDone(requestID)
	}()

	return nil
}

package broker

import (
	"context"
	"fmt"
	"sync/atomic"

	"github.com/rs/zerolog"

	"github.com/aristath/scout/internal/domain"
)

// SessionStatus describes the lifecycle state of a pooled session.
type SessionStatus string

const (
	StatusIdle      SessionStatus = "idle"
	StatusAcquired  SessionStatus = "acquired"
	StatusUnhealthy SessionStatus = "unhealthy"
)

// Session is one authenticated broker connection. It owns a Transport, the
// registry of its outstanding requests, and a dedicated request-ID counter
// (each session serializes its own in-flight requests, so per-session
// counters cannot collide across the pool).
type Session struct {
	id        int
	transport Transport
	pending   *pendingRegistry
	requestID atomic.Int64
	healthy   atomic.Bool
	log       zerolog.Logger
}

// NewSession creates a session over the given transport and registers itself
// as the transport's callback handler.
func NewSession(id int, transport Transport, log zerolog.Logger) *Session {
	s := &Session{
		id:        id,
		transport: transport,
		pending:   newPendingRegistry(),
		log:       log.With().Str("client", "broker").Int("session", id).Logger(),
	}
	transport.SetHandler(s)
	return s
}

// ID returns the pool-assigned session identifier.
func (s *Session) ID() int {
	return s.id
}

// LastRequestID returns the most recently allocated request ID.
func (s *Session) LastRequestID() int64 {
	return s.requestID.Load()
}

// Connect establishes the underlying transport connection. The session ID
// doubles as the broker-side client identifier so concurrent sessions do not
// collide.
func (s *Session) Connect(host string, port int) error {
	if err := s.transport.Connect(host, port, s.id); err != nil {
		s.healthy.Store(false)
		return fmt.Errorf("failed to connect session %d: %w", s.id, err)
	}
	s.healthy.Store(true)
	s.log.Info().Str("host", host).Int("port", port).Msg("Broker session connected")
	return nil
}

// Disconnect closes the transport connection.
func (s *Session) Disconnect() error {
	s.healthy.Store(false)
	s.pending.failAll(domain.ErrBrokerFatal)
	return s.transport.Disconnect()
}

// Healthy reports whether the session can serve requests.
func (s *Session) Healthy() bool {
	return s.healthy.Load() && s.transport.IsConnected()
}

// nextRequestID allocates a fresh request ID for this session.
func (s *Session) nextRequestID() int64 {
	return s.requestID.Add(1)
}

// ContractLookup issues one contract-lookup round trip and waits for its
// completion signal or the context deadline.
func (s *Session) ContractLookup(ctx context.Context, identifierOrSymbol, currency, venue string) ([]ContractRecord, error) {
	if !s.Healthy() {
		return nil, domain.ErrBrokerFatal
	}

	requestID := s.nextRequestID()
	req := s.pending.open(requestID)

	s.log.Debug().
		Int64("request_id", requestID).
		Str("lookup", identifierOrSymbol).
		Str("currency", currency).
		Str("venue", venue).
		Msg("Requesting contract lookup")

	if err := s.transport.RequestContractLookup(requestID, identifierOrSymbol, currency, venue); err != nil {
		s.pending.discard(requestID)
		return nil, fmt.Errorf("failed to send contract lookup: %w", err)
	}

	return s.pending.await(ctx, requestID, req)
}

// SymbolMatches issues one free-text symbol search round trip and waits for
// its completion signal or the context deadline.
func (s *Session) SymbolMatches(ctx context.Context, searchTerm string) ([]ContractRecord, error) {
	if !s.Healthy() {
		return nil, domain.ErrBrokerFatal
	}

	requestID := s.nextRequestID()
	req := s.pending.open(requestID)

	s.log.Debug().
		Int64("request_id", requestID).
		Str("term", searchTerm).
		Msg("Requesting symbol matches")

	if err := s.transport.RequestSymbolMatches(requestID, searchTerm); err != nil {
		s.pending.discard(requestID)
		return nil, fmt.Errorf("failed to send symbol match request: %w", err)
	}

	return s.pending.await(ctx, requestID, req)
}

// ContractDetails implements Handler.
func (s *Session) ContractDetails(requestID int64, record ContractRecord) {
	s.pending.appendRecord(requestID, record)
}

// RequestDone implements Handler.
func (s *Session) RequestDone(requestID int64) {
	s.pending.complete(requestID, nil)
}

// RequestError implements Handler. Unknown-contract style codes complete the
// request with empty results; anything else is treated as a request failure
// without condemning the session.
func (s *Session) RequestError(requestID int64, code int, message string) {
	if IsNonFatalCode(code) {
		s.log.Debug().
			Int64("request_id", requestID).
			Int("code", code).
			Str("message", message).
			Msg("Broker reported no results")
		s.pending.complete(requestID, nil)
		return
	}

	s.log.Warn().
		Int64("request_id", requestID).
		Int("code", code).
		Str("message", message).
		Msg("Broker request error")
	s.pending.complete(requestID, fmt.Errorf("broker error %d: %s", code, message))
}

// ConnectionLost implements Handler. The session is marked unhealthy and all
// outstanding requests failfast.
func (s *Session) ConnectionLost(err error) {
	s.log.Error().Err(err).Msg("Broker connection lost")
	s.healthy.Store(false)
	s.pending.failAll(domain.ErrBrokerFatal)
}

// Package broker adapts the externally supplied broker transport into
// awaitable request/response calls and pools authenticated sessions.
package broker

// ContractRecord is a single contract as delivered by the transport for one
// lookup request. Zero or more records arrive per request, followed by a
// completion signal.
type ContractRecord struct {
	Symbol          string
	LongName        string
	Currency        string
	Exchange        string
	PrimaryExchange string
	ContractID      int64
}

// Handler receives asynchronous transport callbacks. The transport delivers
// results keyed by the request ID that initiated them.
type Handler interface {
	// ContractDetails delivers one contract record for an outstanding request.
	ContractDetails(requestID int64, record ContractRecord)

	// RequestDone signals that no more records will arrive for a request.
	RequestDone(requestID int64)

	// RequestError reports a per-request error code from the broker.
	RequestError(requestID int64, code int, message string)

	// ConnectionLost reports a connection-level failure. Everything
	// outstanding on the session is dead.
	ConnectionLost(err error)
}

// Transport is the wire-level broker client this engine consumes. The
// implementation (socket protocol, session handshake, request framing) is
// supplied externally; this package only drives it.
type Transport interface {
	Connect(host string, port int, sessionID int) error
	Disconnect() error
	IsConnected() bool

	// RequestContractLookup asks for contracts matching an identifier (ISIN)
	// or an exact symbol on a venue, restricted to a currency.
	RequestContractLookup(requestID int64, identifierOrSymbol, currency, venue string) error

	// RequestSymbolMatches asks for contracts whose symbol or name matches a
	// free-text search term.
	RequestSymbolMatches(requestID int64, searchTerm string) error

	// SetHandler registers the callback sink. Must be called before Connect.
	SetHandler(h Handler)
}

// Per-request broker error codes that mean "nothing found", not "broken
// connection". The session treats these as empty results.
var nonFatalErrorCodes = map[int]bool{
	200: true, // no security definition found
	430: true, // fundamentals data not available
	162: true, // historical data service error / no data
}

// IsNonFatalCode reports whether a broker error code is a per-request
// "unknown contract" style answer rather than a connection failure.
func IsNonFatalCode(code int) bool {
	return nonFatalErrorCodes[code]
}

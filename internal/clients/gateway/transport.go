// Package gateway implements the broker transport over a websocket
// connection to the broker gateway process. The gateway owns the native
// broker wire protocol; this client exchanges JSON frames with it.
package gateway

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"nhooyr.io/websocket"
	"nhooyr.io/websocket/wsjson"

	"github.com/aristath/scout/internal/clients/broker"
)

const (
	writeWait   = 10 * time.Second
	dialTimeout = 30 * time.Second
)

// request is an outbound frame to the gateway.
type request struct {
	Op        string `json:"op"`
	RequestID int64  `json:"request_id,omitempty"`
	SessionID int    `json:"session_id,omitempty"`
	Query     string `json:"query,omitempty"`
	Currency  string `json:"currency,omitempty"`
	Venue     string `json:"venue,omitempty"`
}

// response is an inbound frame from the gateway.
type response struct {
	Type      string          `json:"type"`
	RequestID int64           `json:"request_id"`
	Code      int             `json:"code"`
	Message   string          `json:"message"`
	Record    *contractRecord `json:"record"`
}

type contractRecord struct {
	Symbol          string `json:"symbol"`
	LongName        string `json:"long_name"`
	Currency        string `json:"currency"`
	Exchange        string `json:"exchange"`
	PrimaryExchange string `json:"primary_exchange"`
	ContractID      int64  `json:"contract_id"`
}

// Transport is a websocket client for one gateway session. Each pool session
// owns its own Transport, so concurrent resolution runs over parallel
// websocket connections.
type Transport struct {
	mu         sync.RWMutex
	conn       *websocket.Conn
	connCtx    context.Context
	cancelFunc context.CancelFunc
	connected  bool

	handler broker.Handler
	log     zerolog.Logger
}

// NewTransport creates an unconnected gateway transport.
func NewTransport(log zerolog.Logger) *Transport {
	return &Transport{
		log: log.With().Str("client", "gateway").Logger(),
	}
}

// SetHandler registers the callback sink. Must be called before Connect.
func (t *Transport) SetHandler(h broker.Handler) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.handler = h
}

// Connect dials the gateway and announces the session ID. The read loop runs
// until the connection drops or Disconnect is called.
func (t *Transport) Connect(host string, port int, sessionID int) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.handler == nil {
		return fmt.Errorf("transport handler not set")
	}
	if t.connected {
		return nil
	}

	wsURL := fmt.Sprintf("ws://%s:%d/ws", host, port)
	t.log.Info().Str("url", wsURL).Int("session", sessionID).Msg("Connecting to broker gateway")

	dialCtx, dialCancel := context.WithTimeout(context.Background(), dialTimeout)
	defer dialCancel()

	conn, _, err := websocket.Dial(dialCtx, wsURL, nil)
	if err != nil {
		return fmt.Errorf("failed to dial gateway: %w", err)
	}

	connCtx, connCancel := context.WithCancel(context.Background())

	if err := writeFrame(connCtx, conn, request{Op: "session", SessionID: sessionID}); err != nil {
		connCancel()
		conn.Close(websocket.StatusNormalClosure, "handshake failed")
		return fmt.Errorf("failed to announce session: %w", err)
	}

	t.conn = conn
	t.connCtx = connCtx
	t.cancelFunc = connCancel
	t.connected = true

	go t.readLoop(connCtx, conn)
	return nil
}

// Disconnect closes the websocket connection.
func (t *Transport) Disconnect() error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.conn == nil {
		return nil
	}

	if t.cancelFunc != nil {
		t.cancelFunc()
		t.cancelFunc = nil
	}
	err := t.conn.Close(websocket.StatusNormalClosure, "")
	t.conn = nil
	t.connCtx = nil
	t.connected = false

	if err != nil {
		return fmt.Errorf("error closing gateway connection: %w", err)
	}
	return nil
}

// IsConnected reports whether the websocket is established.
func (t *Transport) IsConnected() bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.connected
}

// RequestContractLookup asks the gateway for contracts matching an
// identifier or exact symbol, restricted to a currency.
func (t *Transport) RequestContractLookup(requestID int64, identifierOrSymbol, currency, venue string) error {
	return t.send(request{
		Op:        "contract_lookup",
		RequestID: requestID,
		Query:     identifierOrSymbol,
		Currency:  currency,
		Venue:     venue,
	})
}

// RequestSymbolMatches asks the gateway for contracts whose symbol or name
// matches a free-text term.
func (t *Transport) RequestSymbolMatches(requestID int64, searchTerm string) error {
	return t.send(request{
		Op:        "symbol_matches",
		RequestID: requestID,
		Query:     searchTerm,
	})
}

func (t *Transport) send(req request) error {
	t.mu.RLock()
	conn := t.conn
	ctx := t.connCtx
	t.mu.RUnlock()

	if conn == nil {
		return fmt.Errorf("gateway transport not connected")
	}
	if err := writeFrame(ctx, conn, req); err != nil {
		return fmt.Errorf("failed to send %s request: %w", req.Op, err)
	}
	return nil
}

func writeFrame(ctx context.Context, conn *websocket.Conn, req request) error {
	writeCtx, cancel := context.WithTimeout(ctx, writeWait)
	defer cancel()
	return wsjson.Write(writeCtx, conn, req)
}

// readLoop dispatches inbound frames to the handler until the connection
// drops. A read failure marks the transport disconnected and reports
// ConnectionLost; reconnection is the pool's job.
func (t *Transport) readLoop(ctx context.Context, conn *websocket.Conn) {
	for {
		msgType, message, err := conn.Read(ctx)
		if err != nil {
			t.mu.Lock()
			wasConnected := t.connected
			t.connected = false
			t.conn = nil
			handler := t.handler
			t.mu.Unlock()

			closeStatus := websocket.CloseStatus(err)
			switch {
			case ctx.Err() != nil:
				t.log.Debug().Msg("Read loop cancelled")
			case closeStatus == websocket.StatusNormalClosure || closeStatus == websocket.StatusGoingAway:
				t.log.Info().Int("status", int(closeStatus)).Msg("Gateway closed the connection")
			default:
				t.log.Error().Err(err).Msg("Gateway read failed")
			}

			if wasConnected && ctx.Err() == nil && handler != nil {
				handler.ConnectionLost(fmt.Errorf("gateway connection lost: %w", err))
			}
			return
		}

		if msgType != websocket.MessageText {
			continue
		}
		if err := t.handleFrame(message); err != nil {
			t.log.Error().Err(err).Str("frame", string(message)).Msg("Failed to handle gateway frame")
		}
	}
}

func (t *Transport) handleFrame(message []byte) error {
	var resp response
	if err := json.Unmarshal(message, &resp); err != nil {
		return fmt.Errorf("failed to parse gateway frame: %w", err)
	}

	t.mu.RLock()
	handler := t.handler
	t.mu.RUnlock()
	if handler == nil {
		return nil
	}

	switch resp.Type {
	case "contract":
		if resp.Record == nil {
			return fmt.Errorf("contract frame without record")
		}
		handler.ContractDetails(resp.RequestID, broker.ContractRecord{
			Symbol:          resp.Record.Symbol,
			LongName:        resp.Record.LongName,
			Currency:        resp.Record.Currency,
			Exchange:        resp.Record.Exchange,
			PrimaryExchange: resp.Record.PrimaryExchange,
			ContractID:      resp.Record.ContractID,
		})
	case "done":
		handler.RequestDone(resp.RequestID)
	case "error":
		handler.RequestError(resp.RequestID, resp.Code, resp.Message)
	default:
		return fmt.Errorf("unknown gateway frame type: %q", resp.Type)
	}
	return nil
}

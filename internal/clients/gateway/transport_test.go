package gateway

import (
	"net/http"
	"net/http/httptest"
	"net/url"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"nhooyr.io/websocket"
	"nhooyr.io/websocket/wsjson"

	"github.com/aristath/scout/internal/clients/broker"
)

// recordingHandler collects transport callbacks for assertions.
type recordingHandler struct {
	mu       sync.Mutex
	records  []broker.ContractRecord
	done     []int64
	errors   []int64
	lost     int
	doneChan chan int64
}

func newRecordingHandler() *recordingHandler {
	return &recordingHandler{doneChan: make(chan int64, 16)}
}

func (h *recordingHandler) ContractDetails(requestID int64, record broker.ContractRecord) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.records = append(h.records, record)
}

func (h *recordingHandler) RequestDone(requestID int64) {
	h.mu.Lock()
	h.done = append(h.done, requestID)
	h.mu.Unlock()
	h.doneChan <- requestID
}

func (h *recordingHandler) RequestError(requestID int64, code int, message string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.errors = append(h.errors, requestID)
}

func (h *recordingHandler) ConnectionLost(err error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.lost++
}

// fakeGateway answers every contract_lookup with one record and a done frame.
func fakeGateway(t *testing.T) (*httptest.Server, string, int) {
	t.Helper()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := websocket.Accept(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close(websocket.StatusNormalClosure, "")

		ctx := r.Context()
		for {
			var req request
			if err := wsjson.Read(ctx, conn, &req); err != nil {
				return
			}

			switch req.Op {
			case "session":
				// handshake, nothing to answer
			case "contract_lookup":
				_ = wsjson.Write(ctx, conn, response{
					Type:      "contract",
					RequestID: req.RequestID,
					Record: &contractRecord{
						Symbol:     req.Query,
						LongName:   "TEST CORP",
						Currency:   req.Currency,
						Exchange:   "SMART",
						ContractID: 42,
					},
				})
				_ = wsjson.Write(ctx, conn, response{Type: "done", RequestID: req.RequestID})
			case "symbol_matches":
				_ = wsjson.Write(ctx, conn, response{Type: "done", RequestID: req.RequestID})
			}
		}
	}))

	u, err := url.Parse(srv.URL)
	require.NoError(t, err)
	port, err := strconv.Atoi(u.Port())
	require.NoError(t, err)
	return srv, u.Hostname(), port
}

func TestTransportLookupRoundTrip(t *testing.T) {
	srv, host, port := fakeGateway(t)
	defer srv.Close()

	handler := newRecordingHandler()
	transport := NewTransport(zerolog.Nop())
	transport.SetHandler(handler)

	require.NoError(t, transport.Connect(host, port, 1))
	defer transport.Disconnect()
	assert.True(t, transport.IsConnected())

	require.NoError(t, transport.RequestContractLookup(7, "AAPL", "USD", "SMART"))

	select {
	case id := <-handler.doneChan:
		assert.Equal(t, int64(7), id)
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for done frame")
	}

	handler.mu.Lock()
	defer handler.mu.Unlock()
	require.Len(t, handler.records, 1)
	assert.Equal(t, "AAPL", handler.records[0].Symbol)
	assert.Equal(t, "USD", handler.records[0].Currency)
	assert.Equal(t, int64(42), handler.records[0].ContractID)
}

func TestTransportRequiresHandler(t *testing.T) {
	transport := NewTransport(zerolog.Nop())
	err := transport.Connect("localhost", 1, 1)
	assert.ErrorContains(t, err, "handler not set")
}

func TestTransportSendWhileDisconnected(t *testing.T) {
	transport := NewTransport(zerolog.Nop())
	transport.SetHandler(newRecordingHandler())
	err := transport.RequestContractLookup(1, "AAPL", "USD", "")
	assert.ErrorContains(t, err, "not connected")
}

func TestTransportReportsConnectionLost(t *testing.T) {
	srv, host, port := fakeGateway(t)

	handler := newRecordingHandler()
	transport := NewTransport(zerolog.Nop())
	transport.SetHandler(handler)
	require.NoError(t, transport.Connect(host, port, 1))

	// Killing the server drops the websocket out from under the transport.
	srv.CloseClientConnections()
	srv.Close()

	require.Eventually(t, func() bool {
		handler.mu.Lock()
		defer handler.mu.Unlock()
		return handler.lost > 0
	}, 2*time.Second, 10*time.Millisecond)
	assert.False(t, transport.IsConnected())
}

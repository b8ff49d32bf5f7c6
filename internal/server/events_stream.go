package server

import (
	"net/http"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"nhooyr.io/websocket"
	"nhooyr.io/websocket/wsjson"

	"github.com/aristath/scout/internal/events"
	"github.com/aristath/scout/internal/utils"
)

// EventsStreamHandler pushes system events to websocket clients. Each client
// gets its own bus subscription; slow clients are disconnected rather than
// allowed to stall the bus.
type EventsStreamHandler struct {
	eventBus *events.Bus
	log      zerolog.Logger
}

// NewEventsStreamHandler creates a websocket events stream handler.
func NewEventsStreamHandler(eventBus *events.Bus, log zerolog.Logger) *EventsStreamHandler {
	return &EventsStreamHandler{
		eventBus: eventBus,
		log:      log.With().Str("component", "events_stream").Logger(),
	}
}

// ServeHTTP handles GET /api/events/stream. An optional `types` query
// parameter restricts delivery to a comma-separated set of event types.
func (h *EventsStreamHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		// The API is already behind permissive CORS.
		InsecureSkipVerify: true,
	})
	if err != nil {
		h.log.Warn().Err(err).Msg("Websocket accept failed")
		return
	}
	defer conn.Close(websocket.StatusInternalError, "stream closed")

	clientID := uuid.New().String()[:8]

	var allowedTypes map[events.EventType]bool
	if typeNames := utils.ParseCSV(r.URL.Query().Get("types")); len(typeNames) > 0 {
		allowedTypes = make(map[events.EventType]bool, len(typeNames))
		for _, t := range typeNames {
			allowedTypes[events.EventType(t)] = true
		}
	}

	eventCh, unsubscribe := h.eventBus.Subscribe()
	defer unsubscribe()

	h.log.Info().Str("client", clientID).Msg("Client connected to event stream")
	defer h.log.Info().Str("client", clientID).Msg("Client disconnected from event stream")

	ctx := r.Context()
	for {
		select {
		case <-ctx.Done():
			conn.Close(websocket.StatusNormalClosure, "")
			return
		case event, ok := <-eventCh:
			if !ok {
				conn.Close(websocket.StatusGoingAway, "bus closed")
				return
			}
			if allowedTypes != nil && !allowedTypes[event.Type] {
				continue
			}
			if err := wsjson.Write(ctx, conn, event); err != nil {
				h.log.Debug().Err(err).Str("client", clientID).Msg("Event stream write failed")
				return
			}
		}
	}
}

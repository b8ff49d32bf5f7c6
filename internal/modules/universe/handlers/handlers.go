// Package handlers provides HTTP handlers for universe management.
package handlers

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"

	"github.com/aristath/scout/internal/modules/universe"
)

// Handlers holds dependencies for universe HTTP handlers.
type Handlers struct {
	service *universe.Service
	log     zerolog.Logger
}

// NewHandlers creates universe handlers.
func NewHandlers(service *universe.Service, log zerolog.Logger) *Handlers {
	return &Handlers{
		service: service,
		log:     log.With().Str("component", "universe_handlers").Logger(),
	}
}

// HandleList returns every instrument in the universe.
func (h *Handlers) HandleList(w http.ResponseWriter, r *http.Request) {
	instruments, err := h.service.Repository().ListAll()
	if err != nil {
		h.log.Error().Err(err).Msg("Failed to list universe")
		http.Error(w, "failed to list universe", http.StatusInternalServerError)
		return
	}
	if instruments == nil {
		instruments = []universe.Instrument{}
	}

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]interface{}{
		"instruments": instruments,
		"count":       len(instruments),
	})
}

// HandleGet returns one instrument by ticker.
func (h *Handlers) HandleGet(w http.ResponseWriter, r *http.Request) {
	ticker := chi.URLParam(r, "ticker")

	instrument, err := h.service.Repository().GetByTicker(ticker)
	if err != nil {
		h.log.Error().Err(err).Str("ticker", ticker).Msg("Failed to load instrument")
		http.Error(w, "failed to load instrument", http.StatusInternalServerError)
		return
	}
	if instrument == nil {
		http.Error(w, "instrument not found", http.StatusNotFound)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(instrument)
}

// HandleImport ingests a batch of instruments, deduplicating by ticker.
func (h *Handlers) HandleImport(w http.ResponseWriter, r *http.Request) {
	var payload struct {
		Instruments []universe.Instrument `json:"instruments"`
	}
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if len(payload.Instruments) == 0 {
		http.Error(w, "no instruments in request", http.StatusBadRequest)
		return
	}

	stored, err := h.service.Import(payload.Instruments)
	if err != nil {
		h.log.Error().Err(err).Msg("Universe import failed")
		http.Error(w, "import failed", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]interface{}{
		"status":   "imported",
		"received": len(payload.Instruments),
		"stored":   stored,
	})
}

// HandleSetActive flips an instrument's active flag.
func (h *Handlers) HandleSetActive(w http.ResponseWriter, r *http.Request) {
	ticker := chi.URLParam(r, "ticker")

	var payload struct {
		Active bool `json:"active"`
	}
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}

	if err := h.service.Repository().SetActive(ticker, payload.Active); err != nil {
		http.Error(w, err.Error(), http.StatusNotFound)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]interface{}{"status": "ok", "active": payload.Active})
}

// HandleDelete removes an instrument from the universe.
func (h *Handlers) HandleDelete(w http.ResponseWriter, r *http.Request) {
	ticker := chi.URLParam(r, "ticker")

	if err := h.service.Repository().Delete(ticker); err != nil {
		h.log.Error().Err(err).Str("ticker", ticker).Msg("Failed to delete instrument")
		http.Error(w, "failed to delete instrument", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]interface{}{"status": "deleted"})
}

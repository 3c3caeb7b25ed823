// Package api exposes the engine over HTTP: instrument activation,
// read-side queries on ladders, orders, positions and realized profits,
// and a WebSocket stream of engine events.
//
// All monetary values are shopspring/decimal and serialize as strings.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/atmx/trading-engine/internal/engine"
	"github.com/atmx/trading-engine/internal/instrument"
	"github.com/atmx/trading-engine/internal/model"
	"github.com/atmx/trading-engine/internal/scheduler"
	"github.com/atmx/trading-engine/internal/store"
)

// Passer runs a single scheduler pass on demand.
type Passer interface {
	Pass(ctx context.Context, loop, instrument string) error
}

var _ Passer = (*scheduler.Scheduler)(nil)

// Service serves the engine's HTTP surface.
type Service struct {
	eng    *engine.Engine
	passes Passer
	log    zerolog.Logger
}

// NewService creates a service. passes may be nil, which disables the
// manual pass endpoint.
func NewService(eng *engine.Engine, passes Passer, log zerolog.Logger) *Service {
	return &Service{
		eng:    eng,
		passes: passes,
		log:    log.With().Str("component", "api").Logger(),
	}
}

// Routes mounts the handlers on r.
func (s *Service) Routes(r chi.Router) {
	r.Get("/instruments", s.ListInstruments)
	r.Post("/instruments", s.ActivateInstrument)
	r.Route("/instruments/{instrument}", func(r chi.Router) {
		r.Delete("/", s.DeactivateInstrument)
		r.Get("/ladder", s.GetLadder)
		r.Get("/orders", s.ListOrders)
		r.Get("/positions", s.ListPositions)
		r.Get("/history", s.GetHistory)
		r.Post("/passes/{loop}", s.RunPass)
	})
	r.Get("/profits", s.ListProfits)
}

// --- Request/Response types ---

// ActivateRequest is the JSON body for POST /instruments.
type ActivateRequest struct {
	Instrument string `json:"instrument"` // BASE-QUOTE, e.g. XRP-USD
}

// InstrumentsResponse lists active instruments.
type InstrumentsResponse struct {
	Instruments []string `json:"instruments"`
}

// HistoryResponse is the price history of one instrument, oldest first.
type HistoryResponse struct {
	Instrument string            `json:"instrument"`
	Prices     []decimal.Decimal `json:"prices"`
}

// ProfitsResponse lists realized-profit events, newest first, with their sum.
type ProfitsResponse struct {
	Events []model.RealizedProfitEvent `json:"events"`
	Total  decimal.Decimal             `json:"total"`
}

// --- HTTP Handlers ---

// ListInstruments handles GET /api/v1/instruments
func (s *Service) ListInstruments(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, InstrumentsResponse{Instruments: s.eng.Instruments()})
}

// ActivateInstrument handles POST /api/v1/instruments
func (s *Service) ActivateInstrument(w http.ResponseWriter, r *http.Request) {
	var req ActivateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}

	name, err := s.eng.Activate(r.Context(), req.Instrument)
	switch {
	case errors.Is(err, instrument.ErrInvalidSymbol), errors.Is(err, instrument.ErrInvalidQuote):
		writeError(w, err.Error(), http.StatusBadRequest)
		return
	case errors.Is(err, engine.ErrAlreadyActive):
		writeError(w, "instrument already active: "+name, http.StatusConflict)
		return
	case err != nil:
		writeError(w, err.Error(), http.StatusInternalServerError)
		return
	}

	s.log.Info().Str("instrument", name).Msg("instrument activated via api")
	writeJSON(w, http.StatusCreated, InstrumentsResponse{Instruments: []string{name}})
}

// DeactivateInstrument handles DELETE /api/v1/instruments/{instrument}
func (s *Service) DeactivateInstrument(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "instrument")
	err := s.eng.Deactivate(r.Context(), name)
	switch {
	case errors.Is(err, engine.ErrNotActive):
		writeError(w, "instrument not active: "+name, http.StatusNotFound)
		return
	case errors.Is(err, engine.ErrPersist):
		// Deactivated in memory; the store write is retried on next activation.
		s.log.Warn().Err(err).Str("instrument", name).Msg("deactivation not fully persisted")
	case err != nil:
		writeError(w, err.Error(), http.StatusInternalServerError)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// GetLadder handles GET /api/v1/instruments/{instrument}/ladder
func (s *Service) GetLadder(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "instrument")
	ladder, err := s.eng.Ladder(name)
	if err != nil {
		writeError(w, "instrument not active: "+name, http.StatusNotFound)
		return
	}
	if ladder == nil {
		writeError(w, "ladder not initialized yet", http.StatusNotFound)
		return
	}
	writeJSON(w, http.StatusOK, ladder)
}

// ListOrders handles GET /api/v1/instruments/{instrument}/orders
// Pending orders by default; ?status=all includes terminal orders from
// the store.
func (s *Service) ListOrders(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "instrument")
	if r.URL.Query().Get("status") == "all" {
		orders, err := s.eng.Store().ListOrders(r.Context(), normalize(name))
		if err != nil {
			writeError(w, "failed to list orders", http.StatusInternalServerError)
			return
		}
		writeJSON(w, http.StatusOK, nonNil(orders))
		return
	}

	orders, err := s.eng.PendingOrders(name)
	if err != nil {
		writeError(w, "instrument not active: "+name, http.StatusNotFound)
		return
	}
	writeJSON(w, http.StatusOK, nonNil(orders))
}

// ListPositions handles GET /api/v1/instruments/{instrument}/positions
// Open positions by default; ?status=all includes closed positions from
// the store.
func (s *Service) ListPositions(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "instrument")
	if r.URL.Query().Get("status") == "all" {
		positions, err := s.eng.Store().ListPositions(r.Context(), normalize(name))
		if err != nil {
			writeError(w, "failed to list positions", http.StatusInternalServerError)
			return
		}
		writeJSON(w, http.StatusOK, nonNil(positions))
		return
	}

	positions, err := s.eng.OpenPositions(name)
	if err != nil {
		writeError(w, "instrument not active: "+name, http.StatusNotFound)
		return
	}
	writeJSON(w, http.StatusOK, nonNil(positions))
}

// GetHistory handles GET /api/v1/instruments/{instrument}/history
func (s *Service) GetHistory(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "instrument")
	prices, err := s.eng.Snapshot(name)
	if err != nil {
		writeError(w, "instrument not active: "+name, http.StatusNotFound)
		return
	}
	writeJSON(w, http.StatusOK, HistoryResponse{Instrument: normalize(name), Prices: nonNil(prices)})
}

// RunPass handles POST /api/v1/instruments/{instrument}/passes/{loop}
// where loop is grid, momentum or sweep.
func (s *Service) RunPass(w http.ResponseWriter, r *http.Request) {
	if s.passes == nil {
		writeError(w, "manual passes disabled", http.StatusNotImplemented)
		return
	}
	name := chi.URLParam(r, "instrument")
	loop := chi.URLParam(r, "loop")
	switch loop {
	case scheduler.LoopGrid, scheduler.LoopMomentum, scheduler.LoopSweep:
	default:
		writeError(w, "unknown loop: "+loop, http.StatusBadRequest)
		return
	}

	if _, err := s.eng.Ladder(name); err != nil {
		writeError(w, "instrument not active: "+name, http.StatusNotFound)
		return
	}

	err := s.passes.Pass(r.Context(), loop, normalize(name))
	switch {
	case err == nil:
		w.WriteHeader(http.StatusNoContent)
	case errors.Is(err, engine.ErrPriceUnavailable):
		writeError(w, err.Error(), http.StatusServiceUnavailable)
	default:
		writeError(w, err.Error(), http.StatusInternalServerError)
	}
}

// ListProfits handles GET /api/v1/profits?instrument=XRP-USD
// Without an instrument every event is returned.
func (s *Service) ListProfits(w http.ResponseWriter, r *http.Request) {
	name := normalize(r.URL.Query().Get("instrument"))
	events, err := s.eng.Store().ListProfitEvents(r.Context(), name)
	if err != nil && !errors.Is(err, store.ErrNotFound) {
		writeError(w, "failed to list profits", http.StatusInternalServerError)
		return
	}

	total := decimal.Zero
	for _, ev := range events {
		total = total.Add(ev.USDAmount)
	}
	writeJSON(w, http.StatusOK, ProfitsResponse{Events: nonNil(events), Total: total})
}

func normalize(raw string) string {
	if raw == "" {
		return ""
	}
	if sym, err := instrument.Parse(raw); err == nil {
		return sym.String()
	}
	return raw
}

func nonNil[T any](s []T) []T {
	if s == nil {
		return []T{}
	}
	return s
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// writeError writes a JSON error response.
func writeError(w http.ResponseWriter, message string, status int) {
	writeJSON(w, status, map[string]string{"error": message})
}

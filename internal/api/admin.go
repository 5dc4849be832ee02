package api

import (
	"errors"
	"io"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/goinginblind/scribe/internal/domain"
	"github.com/goinginblind/scribe/internal/service"
	"github.com/goinginblind/scribe/internal/store"
)

func (s *Server) listOrders(w http.ResponseWriter, r *http.Request) {
	f, err := parseListFilter(r.URL.Query())
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	page, err := s.orders.ListOrders(r.Context(), f)
	if err != nil {
		s.serverError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, page)
}

func (s *Server) adminOrder(w http.ResponseWriter, r *http.Request) {
	order, ok := s.loadOrder(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, order)
}

// processOrder is the operator re-trigger for an order stuck waiting
// for processing.
func (s *Server) processOrder(w http.ResponseWriter, r *http.Request) {
	order, ok := s.loadOrder(w, r)
	if !ok {
		return
	}

	err := s.orders.RequeueOrder(r.Context(), order.ID)
	switch {
	case err == nil:
		s.logger.Infow("Operator re-triggered processing", "order_id", order.ID)
		writeJSON(w, http.StatusAccepted, map[string]any{"order_id": order.ID, "queued": true})
	case errors.Is(err, store.ErrNotFound):
		writeError(w, http.StatusNotFound, "order not found")
	case errors.Is(err, service.ErrNotProcessable):
		writeError(w, http.StatusConflict, err.Error())
	default:
		s.serverError(w, r, err)
	}
}

func (s *Server) stats(w http.ResponseWriter, r *http.Request) {
	st, err := s.orders.GetStats(r.Context())
	if err != nil {
		s.serverError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, st)
}

func (s *Server) getSettings(w http.ResponseWriter, r *http.Request) {
	settings, err := s.settings.Current(r.Context())
	if err != nil {
		s.serverError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, settings.Redacted())
}

func (s *Server) updateSettings(w http.ResponseWriter, r *http.Request) {
	raw, err := io.ReadAll(r.Body)
	if err != nil {
		writeError(w, http.StatusBadRequest, "unreadable body")
		return
	}

	settings, err := s.settings.UpdateSection(r.Context(), chi.URLParam(r, "section"), raw)
	switch {
	case err == nil:
		writeJSON(w, http.StatusOK, settings.Redacted())
	case errors.Is(err, domain.ErrUnknownSection):
		writeError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, domain.ErrValidation):
		writeError(w, http.StatusBadRequest, err.Error())
	default:
		s.serverError(w, r, err)
	}
}

package api

import (
	"bytes"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/goinginblind/scribe/internal/domain"
	"github.com/goinginblind/scribe/internal/service"
	"github.com/goinginblind/scribe/internal/store"
)

func (s *Server) createOrder(w http.ResponseWriter, r *http.Request) {
	var in service.CreateOrderInput
	if err := decodeJSON(r.Body, &in); err != nil {
		writeError(w, http.StatusBadRequest, "invalid json: "+err.Error())
		return
	}

	res, err := s.orders.CreateOrder(r.Context(), in)
	if err != nil {
		if errors.Is(err, domain.ErrValidation) {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		s.serverError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, res)
}

// orderView is the customer page of an order. It only ever shows the
// projection, internal details stay in the logs.
func (s *Server) orderView(w http.ResponseWriter, r *http.Request) {
	order, ok := s.loadOrder(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, domain.NewOrderView(order))
}

// loadOrder resolves the {id} URL parameter, writing the error response
// itself when it can't.
func (s *Server) loadOrder(w http.ResponseWriter, r *http.Request) (*domain.Order, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil || id <= 0 {
		writeError(w, http.StatusNotFound, "order not found")
		return nil, false
	}

	order, err := s.orders.GetOrder(r.Context(), id)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeError(w, http.StatusNotFound, "order not found")
			return nil, false
		}
		s.serverError(w, r, err)
		return nil, false
	}
	return order, true
}

// decodeJSON decodes a single JSON document, rejecting unknown fields.
func decodeJSON(body io.Reader, v any) error {
	raw, err := io.ReadAll(body)
	if err != nil {
		return err
	}
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.DisallowUnknownFields()
	return dec.Decode(v)
}

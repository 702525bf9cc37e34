package server

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/aristath/marketpulse/internal/apperr"
)

// ohclRow is one candle in the wire response, per spec.md §6's
// {t,o,h,l,c,v} shape.
type ohclRow struct {
	T int64   `json:"t"`
	O float64 `json:"o"`
	H float64 `json:"h"`
	L float64 `json:"l"`
	C float64 `json:"c"`
	V float64 `json:"v"`
}

type ohclResponse struct {
	Ohcl  []ohclRow `json:"ohcl"`
	Error string    `json:"error,omitempty"`
}

type errorResponse struct {
	Error string `json:"error"`
}

func writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func writeError(w http.ResponseWriter, err error) {
	status := apperr.HTTPStatus(apperr.KindOf(err))
	writeJSON(w, status, errorResponse{Error: err.Error()})
}

// handleGetOhcl serves GET /api/investing/v1/ohcl/{broker}/{symbol}, per
// spec.md §6. Query parameters: resolution, from, to, limit.
func (s *Server) handleGetOhcl(w http.ResponseWriter, r *http.Request) {
	broker := chi.URLParam(r, "broker")
	symbol := chi.URLParam(r, "symbol")

	q := r.URL.Query()
	resolution := q.Get("resolution")
	if resolution == "" {
		resolution = "1D"
	}

	from, err := parseInt64(q.Get("from"), 0)
	if err != nil {
		writeError(w, apperr.Wrapf(apperr.Contract, "from", "invalid from parameter: %v", err))
		return
	}
	to, err := parseInt64(q.Get("to"), 0)
	if err != nil {
		writeError(w, apperr.Wrapf(apperr.Contract, "to", "invalid to parameter: %v", err))
		return
	}
	limit, err := parseInt(q.Get("limit"), 0)
	if err != nil {
		writeError(w, apperr.Wrapf(apperr.Contract, "limit", "invalid limit parameter: %v", err))
		return
	}

	if s.priceService == nil {
		writeError(w, apperr.New(apperr.Contract, "priceservice", errors.New("not configured")))
		return
	}

	candles, isFromSource, err := s.priceService.GetOhcl(r.Context(), broker, symbol, resolution, from, to, limit)
	if err != nil {
		writeError(w, err)
		return
	}
	if isFromSource {
		s.priceService.UpdateOhclToCache(symbol, resolution, candles)
	}

	rows := make([]ohclRow, len(candles))
	for i, c := range candles {
		rows[i] = ohclRow{T: c.T, O: c.O, H: c.H, L: c.L, C: c.C, V: c.V}
	}
	writeJSON(w, http.StatusOK, ohclResponse{Ohcl: rows})
}

// handleListSymbols serves GET /api/investing/v1/symbols/{broker}/{product}.
func (s *Server) handleListSymbols(w http.ResponseWriter, r *http.Request) {
	broker := chi.URLParam(r, "broker")
	product := chi.URLParam(r, "product")

	if s.providers == nil {
		writeError(w, apperr.New(apperr.Contract, "providers", errors.New("not configured")))
		return
	}

	symbols, err := s.providers.ListSymbols(r.Context(), broker, product)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string][]string{"symbols": symbols})
}

func parseInt64(s string, def int64) (int64, error) {
	if s == "" {
		return def, nil
	}
	return strconv.ParseInt(s, 10, 64)
}

func parseInt(s string, def int) (int, error) {
	if s == "" {
		return def, nil
	}
	v, err := strconv.Atoi(s)
	if err != nil {
		return 0, err
	}
	return v, nil
}

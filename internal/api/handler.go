// Package api serves the read side of the token store over HTTP.
package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"solana-pool-sentinel/internal/domain"
	"solana-pool-sentinel/internal/storage"
)

type response struct {
	Success bool   `json:"success"`
	Data    any    `json:"data,omitempty"`
	Error   string `json:"error,omitempty"`
}

// statusError carries the HTTP status for an error returned by a handler.
type statusError struct {
	status int
	msg    string
}

func (e *statusError) Error() string { return e.msg }

func badRequest(msg string) error { return &statusError{status: http.StatusBadRequest, msg: msg} }

type handlerFunc func(http.ResponseWriter, *http.Request) error

type tokenHandler struct {
	store  storage.TokenStore
	logger *zap.Logger
}

func (h *tokenHandler) wrap(fn handlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		err := fn(w, r)
		if err == nil {
			return
		}

		var se *statusError
		switch {
		case errors.As(err, &se):
			writeJSON(w, se.status, response{Error: se.msg})
		case errors.Is(err, storage.ErrNotFound):
			writeJSON(w, http.StatusNotFound, response{Error: "token not found"})
		default:
			h.logger.Error("request failed", zap.String("path", r.URL.Path), zap.Error(err))
			writeJSON(w, http.StatusInternalServerError, response{Error: "internal error"})
		}
	}
}

// list handles GET /tokens?limit=N&riskLevel=L.
func (h *tokenHandler) list(w http.ResponseWriter, r *http.Request) error {
	q := r.URL.Query()

	var filter storage.ListFilter
	if raw := q.Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil {
			return badRequest("limit must be an integer")
		}
		filter.Limit = n
	}
	if raw := q.Get("riskLevel"); raw != "" {
		level, err := domain.ParseRiskLevel(raw)
		if err != nil {
			return badRequest("riskLevel must be one of LOW, MEDIUM, HIGH")
		}
		filter.RiskLevel = level
	}

	tokens, err := h.store.ListRecent(r.Context(), filter.Normalize())
	if err != nil {
		return err
	}
	if tokens == nil {
		tokens = []*domain.TokenRecord{}
	}
	writeJSON(w, http.StatusOK, response{Success: true, Data: tokens})
	return nil
}

// get handles GET /tokens/{key}.
func (h *tokenHandler) get(w http.ResponseWriter, r *http.Request) error {
	rec, err := h.store.GetByKey(r.Context(), chi.URLParam(r, "key"))
	if err != nil {
		return err
	}
	writeJSON(w, http.StatusOK, response{Success: true, Data: rec})
	return nil
}

func writeJSON(w http.ResponseWriter, status int, body response) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

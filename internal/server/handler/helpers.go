package handler

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/alanyoungcy/opinionbook/internal/domain"
)

// UserHeader carries the caller's user ID. Authentication happens upstream.
const UserHeader = "X-User-ID"

// writeJSON marshals v as JSON and writes it to the response with the given
// HTTP status code. If marshaling fails, it falls back to a plain-text 500.
func writeJSON(w http.ResponseWriter, status int, v any) {
	data, err := json.Marshal(v)
	if err != nil {
		http.Error(w, `{"error":"internal server error"}`, http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	w.Write(data)
}

// writeError sends a JSON-formatted error response.
func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// errorKinds maps domain errors to a status and a stable code, most specific
// first.
var errorKinds = []struct {
	err    error
	status int
	code   string
}{
	{domain.ErrInvalidOrder, http.StatusBadRequest, "invalid_order"},
	{domain.ErrInvalidMarket, http.StatusBadRequest, "invalid_market"},
	{domain.ErrInsufficientFunds, http.StatusBadRequest, "insufficient_funds"},
	{domain.ErrMarketHalted, http.StatusConflict, "market_halted"},
	{domain.ErrMarketNotActive, http.StatusConflict, "market_not_active"},
	{domain.ErrInvalidTransition, http.StatusConflict, "invalid_transition"},
	{domain.ErrAlreadyExists, http.StatusConflict, "already_exists"},
	{domain.ErrNotFound, http.StatusNotFound, "not_found"},
	{domain.ErrConcurrencyConflict, http.StatusServiceUnavailable, "concurrency_conflict"},
	{domain.ErrOracleUnavailable, http.StatusServiceUnavailable, "oracle_unavailable"},
	{domain.ErrInvariantViolation, http.StatusInternalServerError, "invariant_violation"},
}

// writeServiceError maps err onto an HTTP response. Unrecognised errors are
// logged and reported as a bare 500.
func writeServiceError(w http.ResponseWriter, r *http.Request, logger *slog.Logger, op string, err error) {
	for _, k := range errorKinds {
		if errors.Is(err, k.err) {
			if k.status >= http.StatusInternalServerError {
				logger.ErrorContext(r.Context(), "handler: "+op+" failed", slog.String("error", err.Error()))
			}
			writeJSON(w, k.status, map[string]string{"error": k.code, "message": err.Error()})
			return
		}
	}
	logger.ErrorContext(r.Context(), "handler: "+op+" failed", slog.String("error", err.Error()))
	writeError(w, http.StatusInternalServerError, "failed to "+op)
}

// parseListOpts extracts standard pagination parameters from the query string.
// Defaults: limit=50 (max 500), offset=0.
func parseListOpts(r *http.Request) domain.ListOpts {
	q := r.URL.Query()

	limit := 50
	if v := q.Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			limit = n
		}
	}
	if limit > 500 {
		limit = 500
	}

	offset := 0
	if v := q.Get("offset"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n >= 0 {
			offset = n
		}
	}

	return domain.ListOpts{
		Limit:  limit,
		Offset: offset,
	}
}

// pathParam extracts a named path parameter from the request using Go 1.22+
// built-in routing (http.Request.PathValue).
func pathParam(r *http.Request, name string) string {
	return r.PathValue(name)
}

func callerID(r *http.Request) string {
	return strings.TrimSpace(r.Header.Get(UserHeader))
}

// decodeJSON decodes a bounded request body into v.
func decodeJSON(w http.ResponseWriter, r *http.Request, v any) bool {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<20))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return false
	}
	return true
}

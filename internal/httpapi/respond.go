package httpapi

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"bilancio/internal/auth"
	"bilancio/internal/core"
	"bilancio/internal/log"
)

// maxBodyBytes bounds JSON request bodies.
const maxBodyBytes = 1 << 20

type errorResponse struct {
	Error    string `json:"error"`
	Category string `json:"category,omitempty"`
	Year     int    `json:"year,omitempty"`
	Month    int    `json:"month,omitempty"`
}

func respondJSON(w http.ResponseWriter, r *http.Request, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if v == nil {
		return
	}
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.ErrorContext(r.Context(), "Failed to encode response",
			log.FieldPath, r.URL.Path,
			log.FieldError, err)
	}
}

func respondError(w http.ResponseWriter, r *http.Request, status int, message string) {
	respondJSON(w, r, status, errorResponse{Error: message})
}

// respondServiceError maps the ledger error taxonomy onto status codes.
// Validation 422, duplicate category 409, not found 404, credentials 401,
// everything else 500 with the detail kept out of the response body.
func respondServiceError(w http.ResponseWriter, r *http.Request, err error) {
	if dup, ok := core.IsDuplicateCategory(err); ok {
		respondJSON(w, r, http.StatusConflict, errorResponse{
			Error:    dup.Error(),
			Category: dup.Category,
			Year:     dup.Year,
			Month:    dup.Month,
		})
		return
	}

	switch {
	case errors.Is(err, core.ErrValidation):
		respondError(w, r, http.StatusUnprocessableEntity, err.Error())
	case errors.Is(err, core.ErrNotFound):
		respondError(w, r, http.StatusNotFound, "not found")
	case errors.Is(err, auth.ErrInvalidCredentials):
		respondError(w, r, http.StatusUnauthorized, "invalid credentials")
	case errors.Is(err, auth.ErrInvalidToken):
		respondError(w, r, http.StatusUnauthorized, "invalid or expired token")
	case errors.Is(err, core.ErrReconciliation):
		slog.ErrorContext(r.Context(), "Reconciliation failed",
			log.FieldPath, r.URL.Path,
			log.FieldError, err)
		respondError(w, r, http.StatusInternalServerError, "could not reconcile budget, please retry")
	default:
		slog.ErrorContext(r.Context(), "Request failed",
			log.FieldMethod, r.Method,
			log.FieldPath, r.URL.Path,
			log.FieldError, err)
		respondError(w, r, http.StatusInternalServerError, "internal server error")
	}
}

// decodeJSON reads the request body into dst. It writes a 400 response
// and returns false when the body is missing or malformed.
func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		respondError(w, r, http.StatusBadRequest, "invalid JSON body")
		return false
	}
	return true
}

// parseID reads the {id} path segment. Non-numeric ids respond 404 so
// probing /incomes/abc and /incomes/99999 look the same.
func parseID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(r.PathValue("id"), 10, 64)
	if err != nil || id <= 0 {
		respondError(w, r, http.StatusNotFound, "not found")
		return 0, false
	}
	return id, true
}

// parseYearMonth extracts year and month from query parameters.
// Returns current year/month as defaults if not provided or invalid.
func parseYearMonth(r *http.Request) (year, month int) {
	now := time.Now()
	year = now.Year()
	month = int(now.Month())

	if v := strings.TrimSpace(r.URL.Query().Get("year")); v != "" {
		if y, err := strconv.Atoi(v); err == nil {
			year = y
		}
	}
	if v := strings.TrimSpace(r.URL.Query().Get("month")); v != "" {
		if m, err := strconv.Atoi(v); err == nil {
			month = m
		}
	}

	return year, month
}

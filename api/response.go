package api

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/smartcare/billing/apperrors"
)

const maxPageLimit = 100

type ErrorResponse struct {
	Error string `json:"error"`
	Kind  string `json:"kind,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		http.Error(w, "Failed to encode response", http.StatusInternalServerError)
		return
	}
}

// writeError maps the error taxonomy onto HTTP statuses. Unknown errors
// surface as 500 without leaking internals.
func writeError(w http.ResponseWriter, err error) {
	kind := apperrors.KindOf(err)
	status := http.StatusInternalServerError
	message := err.Error()

	switch kind {
	case apperrors.KindValidation:
		status = http.StatusBadRequest
	case apperrors.KindForbidden:
		status = http.StatusForbidden
	case apperrors.KindNotFound:
		status = http.StatusNotFound
	case apperrors.KindConflict:
		status = http.StatusConflict
	case apperrors.KindGateway:
		status = http.StatusBadGateway
	case apperrors.KindConfiguration:
		status = http.StatusInternalServerError
	default:
		message = "Internal server error"
	}

	resp := ErrorResponse{Error: message}
	if kind != apperrors.KindUnknown {
		resp.Kind = kind.String()
	}
	writeJSON(w, status, resp)
}

// requestUserID reads the authenticated user injected by the API gateway.
func requestUserID(r *http.Request) (int64, bool) {
	raw := r.Header.Get("X-User-ID")
	if raw == "" {
		return 0, false
	}
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id <= 0 {
		return 0, false
	}
	return id, true
}

func writeUnauthorized(w http.ResponseWriter) {
	writeJSON(w, http.StatusUnauthorized, ErrorResponse{Error: "Missing or invalid user identity"})
}

func parsePagination(r *http.Request) (limit, offset int) {
	limit = 20
	if raw := r.URL.Query().Get("limit"); raw != "" {
		if l, err := strconv.Atoi(raw); err == nil {
			limit = l
		}
	}
	if raw := r.URL.Query().Get("offset"); raw != "" {
		if o, err := strconv.Atoi(raw); err == nil && o > 0 {
			offset = o
		}
	}
	return clampLimit(limit), offset
}

func clampLimit(limit int) int {
	if limit <= 0 {
		return 20
	}
	if limit > maxPageLimit {
		return maxPageLimit
	}
	return limit
}

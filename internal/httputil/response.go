package httputil

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/fast-fab/Seller-service/internal/apperr"
)

// WriteJSON writes v as JSON with the given HTTP status code.
func WriteJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v) //nolint:errcheck
}

// WriteError writes a JSON error response with the given status and message.
func WriteError(w http.ResponseWriter, status int, message string) {
	WriteJSON(w, status, map[string]string{"error": message})
}

// WriteDomainError maps an apperr kind to its status code. Anything else is
// reported as a 500 without leaking the underlying message.
func WriteDomainError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	var kind error
	switch {
	case errors.Is(err, apperr.ErrNotFound):
		status, kind = http.StatusNotFound, apperr.ErrNotFound
	case errors.Is(err, apperr.ErrConflict):
		status, kind = http.StatusConflict, apperr.ErrConflict
	case errors.Is(err, apperr.ErrInvalid):
		status, kind = http.StatusBadRequest, apperr.ErrInvalid
	case errors.Is(err, apperr.ErrForbidden):
		status, kind = http.StatusForbidden, apperr.ErrForbidden
	default:
		WriteError(w, status, "internal server error")
		return
	}

	msg := kind.Error()
	var appErr *apperr.Error
	if errors.As(err, &appErr) {
		msg = appErr.Message
	}
	WriteError(w, status, msg)
}

package api

import (
	"encoding/json"
	"net/http"

	"hermes/pkg/errors"
)

func writeJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, err error) {
	writeJSON(w, statusFor(err), map[string]string{"error": err.Error()})
}

// statusFor maps domain error kinds to HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, errors.ErrInvalidInput):
		return http.StatusBadRequest
	case errors.Is(err, errors.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, errors.ErrTokenExpired):
		return http.StatusUnauthorized
	case errors.Is(err, errors.ErrTimeout), errors.Is(err, errors.ErrTurnTimeout):
		return http.StatusGatewayTimeout
	case errors.Is(err, errors.ErrStorage):
		return http.StatusInternalServerError
	default:
		return http.StatusInternalServerError
	}
}

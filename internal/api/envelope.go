package api

import (
	"encoding/json"
	"net/http"

	"github.com/tinywideclouds/go-push-relay/pkg/dispatch"
)

type errorEnvelope struct {
	Success bool   `json:"success"`
	Error   string `json:"error"`
	Details any    `json:"details,omitempty"`
}

// StatusFor maps an error kind to its HTTP status.
func StatusFor(kind dispatch.Kind) int {
	switch kind {
	case dispatch.KindInvalidInput, dispatch.KindInvalidPayload:
		return http.StatusBadRequest
	case dispatch.KindUnauthorized, dispatch.KindAuthFailed:
		return http.StatusUnauthorized
	case dispatch.KindDeviceNotFound:
		return http.StatusNotFound
	case dispatch.KindRateLimited:
		return http.StatusTooManyRequests
	default:
		return http.StatusInternalServerError
	}
}

func WriteJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

// WriteEnvelopeError writes {success:false, error, details}. details is
// omitted when nil.
func WriteEnvelopeError(w http.ResponseWriter, status int, message string, details any) {
	WriteJSON(w, status, errorEnvelope{Success: false, Error: message, Details: details})
}

package api

import (
	"encoding/json"
	"net/http"
	"strings"

	"github.com/nerrad567/sqlitetool/internal/store"
)

// Error is the body of transport-level failures: bad JSON, missing or
// rejected tokens, forbidden operations. Engine failures are returned
// as envelopes instead.
type Error struct {
	Status  int    `json:"status"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

const (
	ErrCodeBadRequest   = "bad_request"
	ErrCodeUnauthorized = "unauthorised"
	ErrCodeForbidden    = "forbidden"
	ErrCodeInternal     = "internal_error"
	ErrCodeUnavailable  = "unavailable"
)

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if body == nil {
		return
	}
	// The client may already be gone; nothing useful to do on failure.
	_ = json.NewEncoder(w).Encode(body)
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, Error{Status: status, Code: code, Message: message})
}

func writeBadRequest(w http.ResponseWriter, msg string) {
	writeError(w, http.StatusBadRequest, ErrCodeBadRequest, msg)
}

func writeUnauthorized(w http.ResponseWriter, msg string) {
	writeError(w, http.StatusUnauthorized, ErrCodeUnauthorized, msg)
}

func writeForbidden(w http.ResponseWriter, msg string) {
	writeError(w, http.StatusForbidden, ErrCodeForbidden, msg)
}

func writeInternalError(w http.ResponseWriter, msg string) {
	writeError(w, http.StatusInternalServerError, ErrCodeInternal, msg)
}

// writeEnvelope writes an engine result with a status derived from it.
func writeEnvelope(w http.ResponseWriter, env store.Envelope) {
	writeJSON(w, statusFor(env), env)
}

// statusFor maps an Envelope to an HTTP status code.
func statusFor(env store.Envelope) int {
	if env.Failure == nil {
		if env.Kind == store.EnvelopeInsertedID {
			return http.StatusCreated
		}
		return http.StatusOK
	}

	switch env.Failure.Kind {
	case store.KindValidation:
		return http.StatusBadRequest
	case store.KindIdentifier:
		if strings.Contains(env.Failure.Message, "already exists") {
			return http.StatusConflict
		}
		return http.StatusNotFound
	case store.KindStore:
		if strings.HasPrefix(env.Failure.Message, "constraint violation") {
			return http.StatusConflict
		}
		return http.StatusInternalServerError
	default:
		return http.StatusInternalServerError
	}
}

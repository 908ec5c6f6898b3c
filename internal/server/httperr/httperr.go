// Package httperr writes the JSON error envelope shared by every API
// response that is not a success.
package httperr

import (
	"encoding/json"
	"net/http"

	"github.com/fulmenhq/gofulmen/errors"
	chimw "github.com/go-chi/chi/v5/middleware"
)

// Error codes.
const (
	CodeBadRequest         = "BAD_REQUEST"
	CodeNotFound           = "NOT_FOUND"
	CodeMethodNotAllowed   = "METHOD_NOT_ALLOWED"
	CodeInternal           = "INTERNAL_ERROR"
	CodeServiceUnavailable = "SERVICE_UNAVAILABLE"
)

// Response is the wire shape of an error envelope.
type Response struct {
	Error Body `json:"error"`
}

// Body describes one error.
type Body struct {
	Code      string         `json:"code"`
	Message   string         `json:"message"`
	RequestID string         `json:"request_id,omitempty"`
	Details   map[string]any `json:"details,omitempty"`
}

// Envelope builds the gofulmen envelope for an error raised while serving r.
// The request id set by chi's RequestID middleware becomes the correlation
// id. Flat details are attached as validated context; details holding
// nested values are attached verbatim.
func Envelope(r *http.Request, code, message string, details map[string]any) *errors.ErrorEnvelope {
	env := errors.NewErrorEnvelope(code, message)
	if r != nil {
		env = env.WithCorrelationID(chimw.GetReqID(r.Context())).WithPath(r.URL.Path)
	}
	if len(details) > 0 {
		var err error
		if env, err = env.WithContext(details); err != nil {
			env = env.WithDetails(details)
		}
	}
	return env
}

// WriteEnvelope sends env with status.
func WriteEnvelope(w http.ResponseWriter, env *errors.ErrorEnvelope, status int) {
	body := Body{
		Code:      env.Code,
		Message:   env.Message,
		RequestID: env.CorrelationID,
		Details:   env.Details,
	}
	if body.Details == nil && len(env.Context) > 0 {
		body.Details = env.Context
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(Response{Error: body})
}

// Write sends an error envelope with status.
func Write(w http.ResponseWriter, r *http.Request, status int, code, message string, details map[string]any) {
	WriteEnvelope(w, Envelope(r, code, message, details), status)
}

// NotFound writes a 404.
func NotFound(w http.ResponseWriter, r *http.Request, message string) {
	Write(w, r, http.StatusNotFound, CodeNotFound, message, nil)
}

// BadRequest writes a 400.
func BadRequest(w http.ResponseWriter, r *http.Request, message string) {
	Write(w, r, http.StatusBadRequest, CodeBadRequest, message, nil)
}

// Internal writes a 500. The message is generic; the caller logs err.
func Internal(w http.ResponseWriter, r *http.Request) {
	Write(w, r, http.StatusInternalServerError, CodeInternal, "internal server error", nil)
}

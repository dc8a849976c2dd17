package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/correctnow/correctnow/internal/correct"
	"github.com/correctnow/correctnow/internal/history"
	"github.com/correctnow/correctnow/internal/observe"
	"github.com/correctnow/correctnow/internal/resilience"
)

// Error codes returned in the "code" field of error bodies.
const (
	CodeInvalidBody   = "INVALID_BODY"
	CodeEmptyText     = "EMPTY_TEXT"
	CodeTextTooLong   = "TEXT_TOO_LONG"
	CodeBatchTooLarge = "BATCH_TOO_LARGE"
	CodeUnavailable   = "UNAVAILABLE"
	CodeTimeout       = "TIMEOUT"
	CodeUpstream      = "CORRECTION_FAILED"
	CodeInternal      = "INTERNAL"
)

// errorBody is the JSON shape of every error response.
type errorBody struct {
	Code  string `json:"code"`
	Error string `json:"error"`
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, errorBody{Code: code, Error: message})
}

// decodeBody reads a JSON body of at most limit bytes into target.
// Unknown fields are rejected.
func decodeBody(w http.ResponseWriter, r *http.Request, limit int64, target any) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, limit))
	dec.DisallowUnknownFields()
	if err := dec.Decode(target); err != nil {
		var tooBig *http.MaxBytesError
		if errors.As(err, &tooBig) {
			return fmt.Errorf("body exceeds %d bytes", tooBig.Limit)
		}
		return fmt.Errorf("invalid JSON body: %w", err)
	}
	return nil
}

// classify maps a correction error to an HTTP status and error code.
func classify(err error) (int, string) {
	switch {
	case errors.Is(err, correct.ErrEmptyText):
		return http.StatusBadRequest, CodeEmptyText
	case errors.Is(err, correct.ErrTextTooLong):
		return http.StatusRequestEntityTooLarge, CodeTextTooLong
	case errors.Is(err, history.ErrInvalidEntry):
		return http.StatusBadRequest, CodeInvalidBody
	case errors.Is(err, resilience.ErrCircuitOpen), errors.Is(err, resilience.ErrAllFailed):
		return http.StatusServiceUnavailable, CodeUnavailable
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout, CodeTimeout
	default:
		return http.StatusBadGateway, CodeUpstream
	}
}

// fail writes err as a classified error response and logs server-side
// failures.
func fail(w http.ResponseWriter, r *http.Request, err error) {
	status, code := classify(err)
	if status >= http.StatusInternalServerError {
		observe.Logger(r.Context()).Warn("api: request failed", "path", r.URL.Path, "code", code, "err", err)
	}
	writeError(w, status, code, err.Error())
}

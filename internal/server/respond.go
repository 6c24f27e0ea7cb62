package server

import (
	"encoding/json"
	"io"
	"net/http"

	"github.com/jmgilman/go/errors"
	slogcontext "github.com/veqryn/slog-context"

	"ocm.software/open-component-model/pluginhub/internal/failure"
)

type errorBody struct {
	RequestID string                `json:"requestId"`
	Error     *errors.ErrorResponse `json:"error"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := statusOf(err)
	logger := slogcontext.FromCtx(r.Context())
	if status >= http.StatusInternalServerError {
		logger.ErrorContext(r.Context(), "request failed", "error", err.Error())
	} else {
		logger.DebugContext(r.Context(), "request rejected", "status", status, "error", err.Error())
	}
	writeJSON(w, status, errorBody{RequestID: requestID(w), Error: errors.ToJSON(err)})
}

func statusOf(err error) int {
	switch failure.Code(err) {
	case errors.CodeNotFound:
		return http.StatusNotFound
	case errors.CodeAlreadyExists, errors.CodeConflict:
		return http.StatusConflict
	case errors.CodeInvalidInput:
		return http.StatusBadRequest
	case errors.CodeTimeout:
		return http.StatusGatewayTimeout
	case errors.CodeNetwork:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// readJSON decodes the request body into dst, rejecting unknown fields.
func readJSON(r *http.Request, dst any) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		if errors.Is(err, io.EOF) {
			return failure.InvalidInput("request body is empty")
		}
		return failure.InvalidInput("malformed request body: %v", err)
	}
	return nil
}

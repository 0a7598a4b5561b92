package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/Gurpartap/promptgraph/agent"
	"github.com/Gurpartap/promptgraph/agentreact"
	"github.com/Gurpartap/promptgraph/internal/eventstream"
	"github.com/Gurpartap/promptgraph/plan"
	"github.com/Gurpartap/promptgraph/workflow"
)

const maxRequestBodyBytes = 1 << 20

const (
	errorCodeInvalidRequest = "invalid_request"
	errorCodeTooLarge       = "request_too_large"
	errorCodeNotFound       = "not_found"
	errorCodeConflict       = "conflict"
	errorCodeTimeout        = "timeout"
	errorCodeRuntime        = "runtime_error"
)

var (
	errInvalidRequest  = errors.New("invalid request")
	errRequestTooLarge = errors.New("request body too large")
	errStreamNotFound  = errors.New("stream not found")
)

type apiError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

type apiErrorResponse struct {
	Error apiError `json:"error"`
}

func writeMappedError(w http.ResponseWriter, err error) {
	status, code := mapRuntimeError(err)
	writeError(w, status, code, err.Error())
}

func writeInvalidRequest(w http.ResponseWriter, message string) {
	writeMappedError(w, invalidRequestError(message))
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, apiErrorResponse{
		Error: apiError{
			Code:    code,
			Message: message,
		},
	})
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func decodeJSONBody(w http.ResponseWriter, r *http.Request, dst any) error {
	if r.Body == nil {
		return invalidRequestError("request body is required")
	}

	decoder := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxRequestBodyBytes))
	decoder.DisallowUnknownFields()

	if err := decoder.Decode(dst); err != nil {
		var maxBytesErr *http.MaxBytesError
		if errors.As(err, &maxBytesErr) {
			return fmt.Errorf("%w: request body exceeds %d bytes", errRequestTooLarge, maxBytesErr.Limit)
		}
		if errors.Is(err, io.EOF) {
			return invalidRequestError("request body is required")
		}
		return invalidRequestError(fmt.Sprintf("invalid JSON body: %v", err))
	}

	if err := decoder.Decode(&struct{}{}); !errors.Is(err, io.EOF) {
		return invalidRequestError("request body must contain exactly one JSON object")
	}
	return nil
}

func mapRuntimeError(err error) (int, string) {
	switch {
	case errors.Is(err, errRequestTooLarge):
		return http.StatusRequestEntityTooLarge, errorCodeTooLarge
	case errors.Is(err, errInvalidRequest):
		return http.StatusBadRequest, errorCodeInvalidRequest
	case errors.Is(err, agent.ErrSessionNotFound), errors.Is(err, errStreamNotFound):
		return http.StatusNotFound, errorCodeNotFound
	case errors.Is(err, eventstream.ErrCursorInvalid), errors.Is(err, eventstream.ErrCursorExpired):
		return http.StatusConflict, errorCodeConflict
	case errors.Is(err, agent.ErrInvalidSessionID),
		errors.Is(err, agent.ErrSessionConfigInvalid),
		errors.Is(err, agent.ErrContextNil),
		errors.Is(err, agentreact.ErrEmptyUserMessage),
		errors.Is(err, workflow.ErrEmptyRequest),
		errors.Is(err, plan.ErrNoSteps),
		errors.Is(err, plan.ErrMissingTool),
		errors.Is(err, plan.ErrUnknownTool),
		errors.Is(err, plan.ErrDuplicateSaveAs),
		errors.Is(err, plan.ErrInvalidOnError),
		errors.Is(err, plan.ErrUnknownVar),
		errors.Is(err, plan.ErrForwardReference),
		errors.Is(err, plan.ErrInvalidPointer),
		errors.Is(err, eventstream.ErrStreamIDRequired):
		return http.StatusBadRequest, errorCodeInvalidRequest
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusRequestTimeout, errorCodeTimeout
	default:
		return http.StatusInternalServerError, errorCodeRuntime
	}
}

func invalidRequestError(message string) error {
	return fmt.Errorf("%w: %s", errInvalidRequest, message)
}

// Package httpapi exposes the runtime over JSON HTTP endpoints and NDJSON
// event streams.
package httpapi

import (
	"net/http"

	"github.com/Gurpartap/promptgraph/internal/runtimewire"
)

type handlers struct {
	runtime *runtimewire.Runtime
}

func NewRouter(runtime *runtimewire.Runtime) http.Handler {
	h := &handlers{runtime: runtime}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /v1/executables", h.handleExecutablesList)
	mux.HandleFunc("POST /v1/tasks/run", h.handleTasksRun)
	mux.HandleFunc("POST /v1/workflows/solve", h.handleWorkflowSolve)
	mux.HandleFunc("GET /v1/runs/{run_id}/events", h.handleRunEvents)
	mux.HandleFunc("POST /v1/sessions", h.handleSessionCreate)
	mux.HandleFunc("GET /v1/sessions", h.handleSessionList)
	mux.HandleFunc("GET /v1/sessions/{session_id}", h.handleSessionGet)
	mux.HandleFunc("DELETE /v1/sessions/{session_id}", h.handleSessionDelete)
	mux.HandleFunc("POST /v1/sessions/{session_id}/messages", h.handleSessionMessage)
	mux.HandleFunc("GET /v1/sessions/{session_id}/events", h.handleSessionEvents)
	return mux
}

func (h *handlers) ensureRuntime(w http.ResponseWriter) bool {
	if h.runtime == nil {
		writeError(w, http.StatusServiceUnavailable, errorCodeRuntime, "runtime is not configured")
		return false
	}
	return true
}

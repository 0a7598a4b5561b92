package httpapi

import (
	"encoding/json"
	"net/http"
	"strings"

	"github.com/Gurpartap/promptgraph/executable"
	"github.com/Gurpartap/promptgraph/plan"
	"github.com/Gurpartap/promptgraph/workflow"
)

type executablesResponse struct {
	Executables []executable.Info `json:"executables"`
}

func (h *handlers) handleExecutablesList(w http.ResponseWriter, _ *http.Request) {
	if !h.ensureRuntime(w) {
		return
	}
	writeJSON(w, http.StatusOK, executablesResponse{Executables: h.runtime.Registry.Infos()})
}

// handleTasksRun executes a plan document. Step failures are reported per
// step with a 200; only plans that cannot run are rejected.
func (h *handlers) handleTasksRun(w http.ResponseWriter, r *http.Request) {
	if !h.ensureRuntime(w) {
		return
	}

	var raw json.RawMessage
	if err := decodeJSONBody(w, r, &raw); err != nil {
		writeMappedError(w, err)
		return
	}
	p, err := plan.Parse(raw)
	if err != nil {
		writeInvalidRequest(w, err.Error())
		return
	}

	result, err := h.runtime.RunPlan(r.Context(), p)
	if err != nil {
		writeMappedError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

type solveRequest struct {
	Request string `json:"request"`
}

type solveResponse struct {
	RunID     string              `json:"run_id"`
	Answer    string              `json:"answer"`
	RawAnswer string              `json:"raw_answer,omitempty"`
	Rounds    int                 `json:"rounds"`
	Stop      workflow.StopReason `json:"stop"`
	Steps     []workflow.Record   `json:"steps"`
	Errors    []roundErrorView    `json:"errors,omitempty"`
	ElapsedMs int64               `json:"elapsed_ms"`
}

type roundErrorView struct {
	Round   int                `json:"round"`
	Kind    workflow.ErrorKind `json:"kind"`
	Solver  string             `json:"solver,omitempty"`
	Message string             `json:"message"`
}

func (h *handlers) handleWorkflowSolve(w http.ResponseWriter, r *http.Request) {
	if !h.ensureRuntime(w) {
		return
	}

	var request solveRequest
	if err := decodeJSONBody(w, r, &request); err != nil {
		writeMappedError(w, err)
		return
	}
	if strings.TrimSpace(request.Request) == "" {
		writeInvalidRequest(w, "request is required")
		return
	}

	result, err := h.runtime.Solve(r.Context(), request.Request)
	if err != nil {
		writeMappedError(w, err)
		return
	}

	response := solveResponse{
		RunID:     result.RunID,
		Answer:    result.Answer,
		RawAnswer: result.RawAnswer,
		Rounds:    result.Rounds,
		Stop:      result.Stop,
		Steps:     result.State.Records(),
		ElapsedMs: result.Elapsed.Milliseconds(),
	}
	for _, roundErr := range result.Errors {
		response.Errors = append(response.Errors, roundErrorView{
			Round:   roundErr.Round,
			Kind:    roundErr.Kind,
			Solver:  roundErr.Solver,
			Message: roundErr.Err.Error(),
		})
	}
	writeJSON(w, http.StatusOK, response)
}

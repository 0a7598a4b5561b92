package httpapi

import (
	"fmt"
	"net/http"
	"strings"

	"github.com/Gurpartap/promptgraph/agent"
)

type createSessionRequest struct {
	Name   string                        `json:"name"`
	Config *agent.SessionConfigOverrides `json:"config"`
}

type sessionListResponse struct {
	Sessions []agent.SessionInfo `json:"sessions"`
}

type messageRequest struct {
	Message string `json:"message"`
}

type messageResponse struct {
	SessionID  agent.SessionID `json:"session_id"`
	Answer     string          `json:"answer"`
	Incomplete bool            `json:"incomplete,omitempty"`
	ToolCalls  int             `json:"tool_calls"`
	Session    agent.Session   `json:"session"`
}

func (h *handlers) handleSessionCreate(w http.ResponseWriter, r *http.Request) {
	if !h.ensureRuntime(w) {
		return
	}

	var request createSessionRequest
	if err := decodeJSONBody(w, r, &request); err != nil {
		writeMappedError(w, err)
		return
	}

	session, err := h.runtime.Sessions.Create(r.Context(), request.Name, request.Config)
	if err != nil {
		writeMappedError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, session)
}

func (h *handlers) handleSessionList(w http.ResponseWriter, r *http.Request) {
	if !h.ensureRuntime(w) {
		return
	}

	infos, err := h.runtime.Sessions.List(r.Context())
	if err != nil {
		writeMappedError(w, err)
		return
	}
	if infos == nil {
		infos = []agent.SessionInfo{}
	}
	writeJSON(w, http.StatusOK, sessionListResponse{Sessions: infos})
}

func (h *handlers) handleSessionGet(w http.ResponseWriter, r *http.Request) {
	if !h.ensureRuntime(w) {
		return
	}

	id, err := pathSessionID(r)
	if err != nil {
		writeMappedError(w, err)
		return
	}
	session, found, err := h.runtime.Sessions.Load(r.Context(), id)
	if err != nil {
		writeMappedError(w, err)
		return
	}
	if !found {
		writeMappedError(w, fmt.Errorf("%w: %q", agent.ErrSessionNotFound, id))
		return
	}
	writeJSON(w, http.StatusOK, session)
}

func (h *handlers) handleSessionDelete(w http.ResponseWriter, r *http.Request) {
	if !h.ensureRuntime(w) {
		return
	}

	id, err := pathSessionID(r)
	if err != nil {
		writeMappedError(w, err)
		return
	}
	deleted, err := h.runtime.Sessions.Delete(r.Context(), id)
	if err != nil {
		writeMappedError(w, err)
		return
	}
	if !deleted {
		writeMappedError(w, fmt.Errorf("%w: %q", agent.ErrSessionNotFound, id))
		return
	}
	h.runtime.StreamBroker.Forget(string(id))
	w.WriteHeader(http.StatusNoContent)
}

func (h *handlers) handleSessionMessage(w http.ResponseWriter, r *http.Request) {
	if !h.ensureRuntime(w) {
		return
	}

	id, err := pathSessionID(r)
	if err != nil {
		writeMappedError(w, err)
		return
	}
	var request messageRequest
	if err := decodeJSONBody(w, r, &request); err != nil {
		writeMappedError(w, err)
		return
	}
	if strings.TrimSpace(request.Message) == "" {
		writeInvalidRequest(w, "message is required")
		return
	}

	reply, err := h.runtime.Sessions.Send(r.Context(), id, request.Message)
	if err != nil {
		writeMappedError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, messageResponse{
		SessionID:  reply.Session.ID,
		Answer:     reply.Answer,
		Incomplete: reply.Incomplete,
		ToolCalls:  reply.ToolCalls,
		Session:    reply.Session,
	})
}

func pathSessionID(r *http.Request) (agent.SessionID, error) {
	raw := strings.TrimSpace(r.PathValue("session_id"))
	if raw == "" {
		return "", fmt.Errorf("%w: session_id is required", agent.ErrInvalidSessionID)
	}
	return agent.SessionID(raw), nil
}

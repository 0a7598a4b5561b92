package httpapi

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/Gurpartap/promptgraph/agent"
	"github.com/Gurpartap/promptgraph/internal/eventstream"
)

const streamPollInterval = 25 * time.Millisecond

func (h *handlers) handleSessionEvents(w http.ResponseWriter, r *http.Request) {
	if !h.ensureRuntime(w) {
		return
	}

	id, err := pathSessionID(r)
	if err != nil {
		writeMappedError(w, err)
		return
	}
	_, found, err := h.runtime.Sessions.Load(r.Context(), id)
	if err != nil {
		writeMappedError(w, err)
		return
	}
	if !found {
		writeMappedError(w, fmt.Errorf("%w: %q", agent.ErrSessionNotFound, id))
		return
	}
	h.streamEvents(w, r, string(id))
}

// handleRunEvents replays the events of a workflow run or plan.
func (h *handlers) handleRunEvents(w http.ResponseWriter, r *http.Request) {
	if !h.ensureRuntime(w) {
		return
	}

	runID := strings.TrimSpace(r.PathValue("run_id"))
	if runID == "" {
		writeMappedError(w, eventstream.ErrStreamIDRequired)
		return
	}
	if !h.runtime.StreamBroker.Has(runID) {
		writeMappedError(w, fmt.Errorf("%w: %q", errStreamNotFound, runID))
		return
	}
	h.streamEvents(w, r, runID)
}

// streamEvents writes buffered events after ?cursor= and then follows the
// stream until the client goes away.
func (h *handlers) streamEvents(w http.ResponseWriter, r *http.Request, streamID string) {
	cursor, err := parseCursor(r)
	if err != nil {
		writeMappedError(w, err)
		return
	}

	buffered, err := h.runtime.StreamBroker.EventsAfter(streamID, cursor)
	if err != nil {
		writeMappedError(w, err)
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, errorCodeRuntime, "streaming is unsupported by response writer")
		return
	}

	w.Header().Set("Content-Type", "application/x-ndjson")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()
	encoder := json.NewEncoder(w)

	for _, streamEvent := range buffered {
		if err := writeNDJSONEvent(encoder, flusher, streamEvent); err != nil {
			return
		}
		cursor = streamEvent.ID
	}

	ticker := time.NewTicker(streamPollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-r.Context().Done():
			return
		case <-ticker.C:
			next, err := h.runtime.StreamBroker.EventsAfter(streamID, cursor)
			if err != nil {
				return
			}
			for _, streamEvent := range next {
				if err := writeNDJSONEvent(encoder, flusher, streamEvent); err != nil {
					return
				}
				cursor = streamEvent.ID
			}
		}
	}
}

func parseCursor(r *http.Request) (int64, error) {
	raw := r.URL.Query().Get("cursor")
	if raw == "" {
		return 0, nil
	}

	cursor, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || cursor < 0 {
		return 0, fmt.Errorf("%w: cursor must be a non-negative integer", eventstream.ErrCursorInvalid)
	}
	return cursor, nil
}

func writeNDJSONEvent(encoder *json.Encoder, flusher http.Flusher, streamEvent eventstream.StreamEvent) error {
	if err := encoder.Encode(streamEvent); err != nil {
		return err
	}
	flusher.Flush()
	return nil
}

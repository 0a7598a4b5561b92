package app

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/Gurpartap/promptgraph/internal/config"
)

func TestRequestLoggingMiddleware_LogsRequestAndSessionID(t *testing.T) {
	t.Parallel()

	var logBuffer bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&logBuffer, nil))

	handler := requestLoggingMiddleware(logger)(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusCreated)
		_, _ = w.Write([]byte("ok"))
	}))

	request := httptest.NewRequest(http.MethodPost, "/v1/sessions/session-000001/messages", nil)
	recorder := httptest.NewRecorder()
	handler.ServeHTTP(recorder, request)

	if recorder.Code != http.StatusCreated {
		t.Fatalf("status mismatch: got=%d want=%d", recorder.Code, http.StatusCreated)
	}

	logLine := logBuffer.String()
	assertLogContains(t, logLine, "msg=\"http request\"")
	assertLogContains(t, logLine, "method=POST")
	assertLogContains(t, logLine, "path=/v1/sessions/session-000001/messages")
	assertLogContains(t, logLine, "status=201")
	assertLogContains(t, logLine, "bytes=2")
	assertLogContains(t, logLine, "session_id=session-000001")
	assertLogContains(t, logLine, "duration_ms=")
}

func TestResourceIDFromPath(t *testing.T) {
	t.Parallel()

	testCases := []struct {
		path    string
		wantKey string
		wantID  string
	}{
		{path: "/v1/sessions", wantKey: "", wantID: ""},
		{path: "/v1/sessions/abc", wantKey: "session_id", wantID: "abc"},
		{path: "/v1/runs/run-000002/events", wantKey: "run_id", wantID: "run-000002"},
		{path: "/v1/tasks/run", wantKey: "", wantID: ""},
		{path: "/healthz", wantKey: "", wantID: ""},
	}
	for _, tc := range testCases {
		key, id := resourceIDFromPath(tc.path)
		if key != tc.wantKey || id != tc.wantID {
			t.Fatalf("resourceIDFromPath(%q) = (%q, %q), want (%q, %q)", tc.path, key, id, tc.wantKey, tc.wantID)
		}
	}
}

func TestApp_HealthAndReadiness(t *testing.T) {
	t.Parallel()

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	application, err := New(context.Background(), config.Default(), logger)
	if err != nil {
		t.Fatalf("new app: %v", err)
	}
	t.Cleanup(func() { _ = application.runtime.Close() })

	get := func(path string) (int, string) {
		recorder := httptest.NewRecorder()
		application.Handler().ServeHTTP(recorder, httptest.NewRequest(http.MethodGet, path, nil))
		return recorder.Code, recorder.Body.String()
	}

	if status, body := get("/healthz"); status != http.StatusOK || body != "ok" {
		t.Fatalf("healthz mismatch: status=%d body=%q", status, body)
	}
	if status, body := get("/readyz"); status != http.StatusServiceUnavailable || !strings.Contains(body, `"not ready"`) {
		t.Fatalf("readyz before start should be unavailable, got %d %s", status, body)
	}
	application.ready.Store(true)
	status, body := get("/readyz")
	if status != http.StatusOK {
		t.Fatalf("readyz status mismatch: %d", status)
	}
	var report readiness
	if err := json.Unmarshal([]byte(body), &report); err != nil {
		t.Fatalf("decode readiness: %v", err)
	}
	if report.Status != "ready" || report.ModelMode != config.ModelModeMock || report.Executables != application.runtime.Registry.Len() {
		t.Fatalf("unexpected readiness: %+v", report)
	}
	if status, body := get("/v1/executables"); status != http.StatusOK || !strings.Contains(body, "test_echo") {
		t.Fatalf("api route mismatch: status=%d body=%s", status, body)
	}
}

func TestApp_RunServesUntilContextDone(t *testing.T) {
	t.Parallel()

	cfg := config.Default()
	cfg.HTTPAddr = "127.0.0.1:0"
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	application, err := New(context.Background(), cfg, logger)
	if err != nil {
		t.Fatalf("new app: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	runErr := make(chan error, 1)
	go func() {
		runErr <- application.Run(ctx)
	}()

	deadline := time.Now().Add(2 * time.Second)
	for application.Addr() == nil {
		if time.Now().After(deadline) {
			t.Fatalf("server did not start listening")
		}
		time.Sleep(5 * time.Millisecond)
	}
	response, err := http.Get("http://" + application.Addr().String() + "/healthz")
	if err != nil {
		t.Fatalf("get healthz: %v", err)
	}
	_ = response.Body.Close()
	if response.StatusCode != http.StatusOK {
		t.Fatalf("healthz status mismatch: %d", response.StatusCode)
	}

	cancel()
	select {
	case err := <-runErr:
		if err != nil {
			t.Fatalf("run: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("run did not return after cancel")
	}
	if application.ready.Load() {
		t.Fatalf("app should not be ready after shutdown")
	}
}

func TestNew_Rejects(t *testing.T) {
	t.Parallel()

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	cfg := config.Default()
	cfg.HTTPAddr = ""
	if _, err := New(context.Background(), cfg, logger); err == nil {
		t.Fatalf("expected error for empty HTTPAddr")
	}
	if _, err := New(context.Background(), config.Default(), nil); err == nil {
		t.Fatalf("expected error for nil logger")
	}
}

func assertLogContains(t *testing.T, line, want string) {
	t.Helper()
	if !strings.Contains(line, want) {
		t.Fatalf("log line missing %q: %s", want, line)
	}
}

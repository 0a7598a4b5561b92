package ctxlog

import (
	"bytes"
	"context"
	"log/slog"
	"strings"
	"testing"
)

func TestFromContext_FallsBackToDefault(t *testing.T) {
	t.Parallel()

	if got := FromContext(context.Background()); got != slog.Default() {
		t.Fatalf("expected default logger, got %v", got)
	}
}

func TestWith_AddsAttributes(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	ctx := WithLogger(context.Background(), slog.New(slog.NewTextHandler(&buf, nil)))
	ctx = With(ctx, "session_id", "s-1")

	FromContext(ctx).Info("hello")
	if line := buf.String(); !strings.Contains(line, "session_id=s-1") {
		t.Fatalf("log line missing attribute: %s", line)
	}
}

package config

import (
	"log/slog"
	"strings"
	"testing"
	"time"
)

func TestParseLogLevel(t *testing.T) {
	t.Parallel()

	testCases := []struct {
		name  string
		input string
		want  slog.Level
		ok    bool
	}{
		{name: "debug", input: "debug", want: slog.LevelDebug, ok: true},
		{name: "info", input: "info", want: slog.LevelInfo, ok: true},
		{name: "warning", input: "warning", want: slog.LevelWarn, ok: true},
		{name: "error", input: "error", want: slog.LevelError, ok: true},
		{name: "uppercase", input: "DEBUG", want: slog.LevelDebug, ok: true},
		{name: "invalid", input: "trace", ok: false},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			level, err := parseLogLevel(tc.input)
			if tc.ok {
				if err != nil {
					t.Fatalf("parseLogLevel(%q) error: %v", tc.input, err)
				}
				if level != tc.want {
					t.Fatalf("parseLogLevel(%q) mismatch: got=%s want=%s", tc.input, level, tc.want)
				}
				return
			}
			if err == nil {
				t.Fatalf("parseLogLevel(%q) expected error", tc.input)
			}
		})
	}
}

func TestParseLogFormat(t *testing.T) {
	t.Parallel()

	if format, err := parseLogFormat("JSON"); err != nil || format != LogFormatJSON {
		t.Fatalf("parseLogFormat(JSON) = %q, %v", format, err)
	}
	if _, err := parseLogFormat("pretty"); err == nil {
		t.Fatalf("parseLogFormat(pretty) expected error")
	}
}

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg != Default() {
		t.Fatalf("defaults mismatch: got=%+v want=%+v", cfg, Default())
	}
}

func TestLoad_ReadsEnvironment(t *testing.T) {
	t.Setenv("PROMPTGRAPH_HTTP_ADDR", "0.0.0.0:9090")
	t.Setenv("PROMPTGRAPH_MODEL_MODE", "OpenAI")
	t.Setenv("PROMPTGRAPH_OPENAI_API_KEY", "sk-test")
	t.Setenv("PROMPTGRAPH_SESSION_DIR", "/tmp/sessions")
	t.Setenv("PROMPTGRAPH_MAX_PARALLEL", "8")
	t.Setenv("PROMPTGRAPH_RETRY_DELAY", "250ms")
	t.Setenv("PROMPTGRAPH_LOG_LEVEL", "debug")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.HTTPAddr != "0.0.0.0:9090" {
		t.Fatalf("http addr mismatch: %q", cfg.HTTPAddr)
	}
	if cfg.ModelMode != ModelModeOpenAI || cfg.OpenAIAPIKey != "sk-test" {
		t.Fatalf("model settings mismatch: %+v", cfg)
	}
	if cfg.SessionDir != "/tmp/sessions" || cfg.MaxParallel != 8 {
		t.Fatalf("runtime settings mismatch: %+v", cfg)
	}
	if cfg.RetryDelay != 250*time.Millisecond || cfg.LogLevel != slog.LevelDebug {
		t.Fatalf("retry/log settings mismatch: %+v", cfg)
	}
}

func TestLoad_Rejects(t *testing.T) {
	testCases := []struct {
		name    string
		env     map[string]string
		wantErr string
	}{
		{
			name:    "openai without key",
			env:     map[string]string{"PROMPTGRAPH_MODEL_MODE": "openai"},
			wantErr: "PROMPTGRAPH_OPENAI_API_KEY",
		},
		{
			name:    "unknown mode",
			env:     map[string]string{"PROMPTGRAPH_MODEL_MODE": "local"},
			wantErr: "unsupported PROMPTGRAPH_MODEL_MODE",
		},
		{
			name:    "bad integer",
			env:     map[string]string{"PROMPTGRAPH_MAX_ROUNDS": "many"},
			wantErr: "parse PROMPTGRAPH_MAX_ROUNDS",
		},
		{
			name:    "zero limit",
			env:     map[string]string{"PROMPTGRAPH_MAX_TOOL_CALLS": "0"},
			wantErr: "PROMPTGRAPH_MAX_TOOL_CALLS must be > 0",
		},
		{
			name:    "bad duration",
			env:     map[string]string{"PROMPTGRAPH_SHUTDOWN_TIMEOUT": "soon"},
			wantErr: "parse PROMPTGRAPH_SHUTDOWN_TIMEOUT",
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			for key, value := range tc.env {
				t.Setenv(key, value)
			}
			_, err := Load()
			if err == nil {
				t.Fatalf("expected error containing %q", tc.wantErr)
			}
			if !strings.Contains(err.Error(), tc.wantErr) {
				t.Fatalf("error mismatch: got=%v want substring %q", err, tc.wantErr)
			}
		})
	}
}

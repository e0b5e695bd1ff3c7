package logging

import (
	"bytes"
	"log/slog"
	"strings"
	"testing"
)

func TestNew_JSONFormat(t *testing.T) {
	t.Parallel()
	var buf bytes.Buffer
	logger := New(Config{Level: "info", Format: "json", Output: &buf})

	logger.Info("agent started", "data_dir", "/tmp/spyglass")

	out := buf.String()
	if !strings.Contains(out, `"msg":"agent started"`) {
		t.Errorf("expected JSON message field, got: %s", out)
	}
	if !strings.Contains(out, `"data_dir":"/tmp/spyglass"`) {
		t.Errorf("expected JSON attribute, got: %s", out)
	}
}

func TestNew_TextFormat(t *testing.T) {
	t.Parallel()
	var buf bytes.Buffer
	logger := New(Config{Level: "info", Format: "text", Output: &buf})

	logger.Info("config loaded")

	if !strings.Contains(buf.String(), "msg=\"config loaded\"") && !strings.Contains(buf.String(), "msg=config") {
		t.Errorf("expected text format output, got: %s", buf.String())
	}
}

func TestNew_AutoFallsBackToJSON(t *testing.T) {
	t.Parallel()
	var buf bytes.Buffer
	logger := New(Config{Level: "info", Format: "auto", Output: &buf})

	logger.Info("hello")

	// A bytes.Buffer is not a terminal, so auto selects JSON.
	if !strings.Contains(buf.String(), `"msg":"hello"`) {
		t.Errorf("expected JSON output for non-terminal writer, got: %s", buf.String())
	}
}

func TestNew_LevelFiltering(t *testing.T) {
	t.Parallel()
	var buf bytes.Buffer
	logger := New(Config{Level: "warn", Format: "json", Output: &buf})

	logger.Info("dropped")
	logger.Warn("kept")

	out := buf.String()
	if strings.Contains(out, "dropped") {
		t.Errorf("expected info record to be filtered, got: %s", out)
	}
	if !strings.Contains(out, "kept") {
		t.Errorf("expected warn record to pass, got: %s", out)
	}
}

func TestParseLevel(t *testing.T) {
	t.Parallel()
	tests := []struct {
		in   string
		want slog.Level
	}{
		{"debug", slog.LevelDebug},
		{"info", slog.LevelInfo},
		{"warn", slog.LevelWarn},
		{"error", slog.LevelError},
		{"bogus", slog.LevelInfo},
	}
	for _, tt := range tests {
		if got := parseLevel(tt.in); got != tt.want {
			t.Errorf("parseLevel(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}

func TestWithHelpers(t *testing.T) {
	t.Parallel()
	var buf bytes.Buffer
	logger := New(Config{Level: "info", Format: "json", Output: &buf})

	logger.WithModule("config").WithPlugin("sqlclient").Info("seeded")

	out := buf.String()
	if !strings.Contains(out, `"module":"config"`) {
		t.Errorf("expected module attribute, got: %s", out)
	}
	if !strings.Contains(out, `"plugin_id":"sqlclient"`) {
		t.Errorf("expected plugin attribute, got: %s", out)
	}
}

func TestNewNop(t *testing.T) {
	t.Parallel()
	logger := NewNop()
	// Must not panic and must swallow output.
	logger.Info("ignored")
	logger.WithTrace("t-1").Error("ignored")
}

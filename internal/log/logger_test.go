package log

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"strings"
	"sync"
	"testing"
)

func TestSetup(t *testing.T) {
	// Reset logger for testing
	logger = nil
	once = *new(sync.Once)

	var buf bytes.Buffer
	Setup("DEBUG", "json", &buf)
	if logger == nil {
		t.Fatal("Logger should not be nil")
	}

	Get().Debug("visible at debug")
	if !strings.Contains(buf.String(), "visible at debug") {
		t.Errorf("expected debug line in output, got %q", buf.String())
	}
}

func TestSetupTextFormat(t *testing.T) {
	logger = nil
	once = *new(sync.Once)

	var buf bytes.Buffer
	Setup("info", "text", &buf)
	Get().Info("hello", "k", "v")

	out := buf.String()
	if !strings.Contains(out, "msg=hello") || !strings.Contains(out, "k=v") {
		t.Errorf("expected text handler output, got %q", out)
	}
}

func TestParseLevel(t *testing.T) {
	tests := []struct {
		in   string
		want slog.Level
	}{
		{"debug", slog.LevelDebug},
		{"WARN", slog.LevelWarn},
		{" error ", slog.LevelError},
		{"info", slog.LevelInfo},
		{"bogus", slog.LevelInfo},
		{"", slog.LevelInfo},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			if got := ParseLevel(tt.in); got != tt.want {
				t.Errorf("ParseLevel(%q) = %v, want %v", tt.in, got, tt.want)
			}
		})
	}
}

func TestContextHelpers(t *testing.T) {
	var buf bytes.Buffer
	h := slog.NewJSONHandler(&buf, nil)
	l := slog.New(h)

	// Inject this logger as the global logger for the test
	logger = l

	l2 := WithComponent("test-comp")
	l2.Info("hello")

	var out map[string]any
	if err := json.Unmarshal(buf.Bytes(), &out); err != nil {
		t.Fatalf("Failed to decode JSON: %v", err)
	}

	if out["component"] != "test-comp" {
		t.Errorf("Expected component 'test-comp', got %v", out["component"])
	}
	if out["msg"] != "hello" {
		t.Errorf("Expected msg 'hello', got %v", out["msg"])
	}
}

func TestWithSession(t *testing.T) {
	var buf bytes.Buffer
	h := slog.NewJSONHandler(&buf, nil)
	logger = slog.New(h)

	l2 := WithSession(float64(7))
	l2.Info("session msg")

	var out map[string]any
	if err := json.Unmarshal(buf.Bytes(), &out); err != nil {
		t.Fatalf("Failed to decode JSON: %v", err)
	}

	if out["session_id"] != float64(7) {
		t.Errorf("Expected session_id 7, got %v", out["session_id"])
	}
}

package observability

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"strings"
	"testing"

	"github.com/valter-silva-au/tmsync/pkg/models"
)

func TestParseLevel(t *testing.T) {
	cases := map[string]slog.Level{
		"debug": slog.LevelDebug, "INFO": slog.LevelInfo, "warn": slog.LevelWarn,
		"warning": slog.LevelWarn, "error": slog.LevelError, "": slog.LevelInfo, "loud": slog.LevelInfo,
	}
	for in, want := range cases {
		if got := ParseLevel(in); got != want {
			t.Errorf("ParseLevel(%q) = %v, want %v", in, got, want)
		}
	}
}

func TestNewLogger_JSON(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogger(models.LogConfig{Level: "warn", Format: "json"}, &buf)

	logger.Info("hidden")
	logger.Warn("shown", "task_id", "7")

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != 1 {
		t.Fatalf("got %d lines, want 1: %q", len(lines), buf.String())
	}
	var rec map[string]any
	if err := json.Unmarshal([]byte(lines[0]), &rec); err != nil {
		t.Fatalf("not JSON: %v", err)
	}
	if rec["msg"] != "shown" || rec["task_id"] != "7" || rec["app"] != "tmsync" {
		t.Errorf("record = %v", rec)
	}
}

func TestNewLogger_Text(t *testing.T) {
	var buf bytes.Buffer
	NewLogger(models.LogConfig{Level: "debug", Format: "text"}, &buf).Debug("hello")
	if !strings.Contains(buf.String(), "msg=hello") {
		t.Errorf("output = %q", buf.String())
	}
}

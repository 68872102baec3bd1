package logger

import (
	"bytes"
	"encoding/json"
	"path/filepath"
	"strings"
	"testing"
)

func TestInit_JSONFormatAndLevel(t *testing.T) {
	if err := Init(Config{Level: "warn", Format: "json"}); err != nil {
		t.Fatalf("Init: %v", err)
	}
	var buf bytes.Buffer
	SetOutput(&buf)

	Info("hidden %d", 1)
	Warn("visible %s", "entry")

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != 1 {
		t.Fatalf("got %d lines, want 1: %q", len(lines), buf.String())
	}
	var entry map[string]interface{}
	if err := json.Unmarshal([]byte(lines[0]), &entry); err != nil {
		t.Fatalf("line is not JSON: %v", err)
	}
	if entry["msg"] != "visible entry" {
		t.Errorf("msg = %v, want %q", entry["msg"], "visible entry")
	}
	if entry["level"] != "warning" {
		t.Errorf("level = %v, want warning", entry["level"])
	}
}

func TestInit_UnknownLevelFallsBackToInfo(t *testing.T) {
	if err := Init(Config{Level: "chatty", Format: "text"}); err != nil {
		t.Fatalf("Init: %v", err)
	}
	var buf bytes.Buffer
	SetOutput(&buf)

	Debug("dropped")
	Info("kept")
	if strings.Contains(buf.String(), "dropped") {
		t.Error("debug entry should be filtered at info level")
	}
	if !strings.Contains(buf.String(), "kept") {
		t.Error("info entry missing")
	}
}

func TestInit_FileOutput(t *testing.T) {
	path := filepath.Join(t.TempDir(), "logs", "pulsewatch.log")
	if err := Init(Config{Level: "info", Format: "json", File: path, MaxSizeMB: 1}); err != nil {
		t.Fatalf("Init with file: %v", err)
	}
	WithField("symbol", "BTC").Info("tick")
}

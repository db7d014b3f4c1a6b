package logger

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestNewLogger_JSONToConsole(t *testing.T) {
	var buf bytes.Buffer
	log, err := NewLogger(LoggerConfig{Level: "info", Output: &buf})
	if err != nil {
		t.Fatalf("NewLogger: %v", err)
	}

	WithFileOperation(log, "pump-7.jpg", "compress").Info("done")

	var entry map[string]any
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("log line is not JSON: %v (%q)", err, buf.String())
	}
	if entry["message"] != "done" || entry["file"] != "pump-7.jpg" || entry["operation"] != "compress" {
		t.Fatalf("unexpected entry: %v", entry)
	}
	if _, ok := entry["timestamp"]; !ok {
		t.Fatal("missing timestamp field")
	}
}

func TestNewLogger_LevelFilter(t *testing.T) {
	var buf bytes.Buffer
	log, err := NewLogger(LoggerConfig{Level: "warn", Output: &buf})
	if err != nil {
		t.Fatalf("NewLogger: %v", err)
	}
	WithOperation(log, "probe").Info("hidden")
	if buf.Len() != 0 {
		t.Fatalf("info written at warn level: %q", buf.String())
	}
}

func TestNewLogger_File(t *testing.T) {
	path := filepath.Join(t.TempDir(), "logs", "press.log")
	log, err := NewLogger(LoggerConfig{Level: "debug", FilePath: path, MaxSize: 1})
	if err != nil {
		t.Fatalf("NewLogger: %v", err)
	}
	WithFileOperation(log, "tank.png", "write").Debug("written")

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read log: %v", err)
	}
	if !strings.Contains(string(data), `"file":"tank.png"`) {
		t.Fatalf("log file missing entry: %s", data)
	}
}

func TestNewLogger_InvalidLevel(t *testing.T) {
	if _, err := NewLogger(LoggerConfig{Level: "chatty"}); err == nil {
		t.Fatal("expected error for invalid level")
	}
}

func TestWithImage_Fields(t *testing.T) {
	var buf bytes.Buffer
	log, err := NewLogger(LoggerConfig{Level: "info", Output: &buf})
	if err != nil {
		t.Fatalf("NewLogger: %v", err)
	}

	WithImage(log, "compress_batch", 2, 4096).Warn("kept original")

	var entry map[string]any
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("log line is not JSON: %v (%q)", err, buf.String())
	}
	// encoding/json decodes numbers as float64.
	if entry["operation"] != "compress_batch" || entry["index"] != float64(2) || entry["size"] != float64(4096) {
		t.Fatalf("unexpected entry: %v", entry)
	}
	if entry["level"] != "warning" {
		t.Fatalf("level = %v, want warning", entry["level"])
	}
}

func TestNewLogger_TextFormat(t *testing.T) {
	var buf bytes.Buffer
	log, err := NewLogger(LoggerConfig{Level: "info", Format: "text", Output: &buf})
	if err != nil {
		t.Fatalf("NewLogger: %v", err)
	}
	WithOperation(log, "api_compress").Info("ready")

	line := buf.String()
	if !strings.Contains(line, "operation=api_compress") || !strings.Contains(line, `msg=ready`) {
		t.Fatalf("unexpected text line: %q", line)
	}
	if json.Valid(buf.Bytes()) {
		t.Fatalf("text format produced JSON: %q", line)
	}
}

func TestNewLogger_InvalidFormat(t *testing.T) {
	if _, err := NewLogger(LoggerConfig{Level: "info", Format: "xml"}); err == nil {
		t.Fatal("expected error for invalid format")
	}
}

package logging

import (
	"bytes"
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

func decodeLines(t *testing.T, buf *bytes.Buffer) []map[string]interface{} {
	t.Helper()

	var out []map[string]interface{}
	for _, line := range strings.Split(strings.TrimSpace(buf.String()), "\n") {
		if line == "" {
			continue
		}
		var entry map[string]interface{}
		if err := json.Unmarshal([]byte(line), &entry); err != nil {
			t.Fatalf("Failed to decode log line %q: %v", line, err)
		}
		out = append(out, entry)
	}
	return out
}

func TestNewLogger(t *testing.T) {
	tests := []struct {
		name    string
		config  Config
		wantErr bool
	}{
		{
			name:   "JSON format to stdout",
			config: Config{Level: "info", Format: "json", Output: "stdout"},
		},
		{
			name:   "Console format to stderr",
			config: Config{Level: "debug", Format: "console", Output: "stderr"},
		},
		{
			name:   "Invalid log level defaults to info",
			config: Config{Level: "invalid", Format: "json", Output: "stdout"},
		},
		{
			name:    "Unwritable file path",
			config:  Config{Level: "info", Format: "json", Output: "/nonexistent-dir/out.log"},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			logger, err := NewLogger(tt.config)
			if (err != nil) != tt.wantErr {
				t.Errorf("NewLogger() error = %v, wantErr %v", err, tt.wantErr)
				return
			}
			if !tt.wantErr && logger == nil {
				t.Error("Expected non-nil logger")
			}
		})
	}
}

func TestLoggerLevels(t *testing.T) {
	var buf bytes.Buffer
	logger := NewWithWriter(&buf, zerolog.InfoLevel)

	logger.Debug("hidden")
	logger.Info("shown")
	logger.Warnf("warn %d", 1)
	logger.ErrorWithErr("failed", errors.New("boom"))

	lines := decodeLines(t, &buf)
	if len(lines) != 3 {
		t.Fatalf("Expected 3 log lines, got %d", len(lines))
	}
	if lines[0]["message"] != "shown" {
		t.Errorf("Expected first message 'shown', got %v", lines[0]["message"])
	}
	if lines[2]["error"] != "boom" {
		t.Errorf("Expected error field 'boom', got %v", lines[2]["error"])
	}
}

func TestLoggerWithFields(t *testing.T) {
	var buf bytes.Buffer
	logger := NewWithWriter(&buf, zerolog.DebugLevel)

	logger.WithJobID("job-456").
		WithTimelineID("tl-1").
		WithComponent("queue").
		WithFields(map[string]interface{}{"attempt": 2}).
		Info("dispatched")

	lines := decodeLines(t, &buf)
	if len(lines) != 1 {
		t.Fatalf("Expected 1 log line, got %d", len(lines))
	}
	entry := lines[0]
	if entry["job_id"] != "job-456" || entry["timeline_id"] != "tl-1" || entry["component"] != "queue" {
		t.Errorf("Missing contextual fields: %v", entry)
	}
	if entry["attempt"] != float64(2) {
		t.Errorf("Expected attempt=2, got %v", entry["attempt"])
	}
}

func TestLogJobEvent(t *testing.T) {
	var buf bytes.Buffer
	logger := NewWithWriter(&buf, zerolog.InfoLevel)

	logger.LogJobEvent("job-123", "started", "processing", map[string]interface{}{
		"preset": "tiktok",
	})

	lines := decodeLines(t, &buf)
	if len(lines) != 1 {
		t.Fatalf("Expected 1 log line, got %d", len(lines))
	}
	if lines[0]["event"] != "started" || lines[0]["status"] != "processing" || lines[0]["preset"] != "tiktok" {
		t.Errorf("Unexpected job event: %v", lines[0])
	}
}

func TestLogCommand(t *testing.T) {
	var buf bytes.Buffer
	logger := NewWithWriter(&buf, zerolog.DebugLevel)

	logger.LogCommand("job-1", "ffmpeg", []string{"-y", "-i", "in.mp4"})

	lines := decodeLines(t, &buf)
	args, ok := lines[0]["args"].([]interface{})
	if !ok || len(args) != 3 {
		t.Errorf("Expected 3 args, got %v", lines[0]["args"])
	}
}

func TestLogOperations(t *testing.T) {
	logger := Nop()

	// Should not panic
	logger.LogHTTPRequest("GET", "/api/v1/exports", "192.168.1.1", 200, 100*time.Millisecond)
	logger.LogRenderProgress("job-123", 45.5, 30.0, 1.2)
	logger.LogStorageOperation("upload", "exports", "out.mp4", 1048576, 2*time.Second, nil)
}

func BenchmarkLogWithFields(b *testing.B) {
	logger := Nop()

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		logger.WithFields(map[string]interface{}{
			"key1": "value1",
			"key2": 123,
		}).Info("benchmark message")
	}
}

package logging

import (
	"bytes"
	"encoding/json"
	"errors"
	"log/slog"
	"testing"
)

func TestLogger(t *testing.T) {
	logger := Logger()
	if logger == nil {
		t.Error("Logger() returned nil")
	}
}

func TestSetLogger(t *testing.T) {
	original := Logger()
	defer SetLogger(original)

	var buf bytes.Buffer
	handler := slog.NewJSONHandler(&buf, nil)
	newLogger := slog.New(handler)

	SetLogger(newLogger)

	if Logger() != newLogger {
		t.Error("SetLogger did not update the default logger")
	}

	Logger().Info("test message")
	if buf.Len() == 0 {
		t.Error("Expected log output in buffer")
	}
}

func TestAttributeHelpers(t *testing.T) {
	tests := []struct {
		name    string
		attr    slog.Attr
		wantKey string
		wantVal interface{}
	}{
		{"Target", Target("web-1.example.com"), "target", "web-1.example.com"},
		{"Dest", Dest("/srv/app"), "dest", "/srv/app"},
		{"Path", Path("/local/path"), "path", "/local/path"},
		{"Operation", Operation("upload"), "op", "upload"},
		{"JobID", JobID("job-123"), "job_id", "job-123"},
		{"Protocol", Protocol("rsync"), "protocol", "rsync"},
		{"Attempt", Attempt(2), "attempt", 2},
		{"DurationMs", DurationMs(150), "duration_ms", int64(150)},
		{"Size", Size(1024), "size_bytes", int64(1024)},
		{"Status", Status(200), "status", 200},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.attr.Key != tt.wantKey {
				t.Errorf("got key %q, want %q", tt.attr.Key, tt.wantKey)
			}
			got := tt.attr.Value.Any()
			switch want := tt.wantVal.(type) {
			case int64:
				if gotInt, ok := got.(int64); !ok || gotInt != want {
					t.Errorf("got value %v, want %v", got, want)
				}
			case int:
				if gotInt, ok := got.(int64); !ok || gotInt != int64(want) {
					t.Errorf("got value %v, want %v", got, want)
				}
			case string:
				if gotStr, ok := got.(string); !ok || gotStr != want {
					t.Errorf("got value %v, want %v", got, want)
				}
			}
		})
	}
}

func TestErrAttribute(t *testing.T) {
	t.Run("nil error", func(t *testing.T) {
		attr := Err(nil)
		if attr.Key != "" {
			t.Errorf("expected empty key for nil error, got %q", attr.Key)
		}
	})

	t.Run("non-nil error", func(t *testing.T) {
		err := errors.New("test error")
		attr := Err(err)
		if attr.Key != "error" {
			t.Errorf("got key %q, want %q", attr.Key, "error")
		}
	})
}

func TestWithContext(t *testing.T) {
	logger := WithContext(nil)
	if logger == nil {
		t.Error("WithContext returned nil")
	}
}

func TestLoggerOutputFormat(t *testing.T) {
	var buf bytes.Buffer
	handler := slog.NewJSONHandler(&buf, nil)
	logger := slog.New(handler)

	logger.Info("test operation",
		Target("web-1"),
		Dest("/srv/app"),
		Status(200),
	)

	var logEntry map[string]interface{}
	if err := json.Unmarshal(buf.Bytes(), &logEntry); err != nil {
		t.Fatalf("Failed to parse log output as JSON: %v", err)
	}

	if logEntry["msg"] != "test operation" {
		t.Errorf("got msg %q, want %q", logEntry["msg"], "test operation")
	}
	if logEntry["target"] != "web-1" {
		t.Errorf("got target %q, want %q", logEntry["target"], "web-1")
	}
	if logEntry["dest"] != "/srv/app" {
		t.Errorf("got dest %q, want %q", logEntry["dest"], "/srv/app")
	}
	if status, ok := logEntry["status"].(float64); !ok || status != 200 {
		t.Errorf("got status %v, want 200", logEntry["status"])
	}
}

package logging

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"
)

func TestNewJSONLoggerWritesStructuredRecord(t *testing.T) {
	buf := &bytes.Buffer{}
	logger, err := New(Options{Level: "debug", Format: "json", Output: buf})
	if err != nil {
		t.Fatalf("new logger: %v", err)
	}
	logger.Debug("tap counted", "source", "com.example.game", "count", 3)

	var record map[string]any
	if err := json.Unmarshal(buf.Bytes(), &record); err != nil {
		t.Fatalf("decode record %q: %v", buf.String(), err)
	}
	if record["msg"] != "tap counted" || record["source"] != "com.example.game" {
		t.Fatalf("unexpected record: %+v", record)
	}
	if ts, _ := record["time"].(string); !strings.HasSuffix(ts, "Z") {
		t.Fatalf("expected UTC timestamp, got %v", record["time"])
	}
}

func TestNewRespectsLevel(t *testing.T) {
	buf := &bytes.Buffer{}
	logger, err := New(Options{Level: "warn", Format: "text", Output: buf})
	if err != nil {
		t.Fatalf("new logger: %v", err)
	}
	logger.Info("hidden")
	if buf.Len() != 0 {
		t.Fatalf("info should be filtered at warn level: %q", buf.String())
	}
	logger.Warn("shown")
	if !strings.Contains(buf.String(), "shown") {
		t.Fatalf("warn should be written: %q", buf.String())
	}
}

func TestNewRejectsUnknownOptions(t *testing.T) {
	if _, err := New(Options{Level: "loud"}); err == nil {
		t.Fatalf("expected level error")
	}
	if _, err := New(Options{Format: "xml"}); err == nil {
		t.Fatalf("expected format error")
	}
}

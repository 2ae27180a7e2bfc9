package logger

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"
)

func TestLoggerWritesStructuredEntry(t *testing.T) {
	var buf bytes.Buffer
	l := New(INFO, &buf).WithField("request_id", "abc")

	l.Info("lookup finished", map[string]any{"ip": "1.2.3.4"})

	var entry map[string]any
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("log line is not JSON: %v (%q)", err, buf.String())
	}
	if entry["message"] != "lookup finished" {
		t.Errorf("message = %v, want %q", entry["message"], "lookup finished")
	}
	if entry["level"] != "info" {
		t.Errorf("level = %v, want info", entry["level"])
	}
	if entry["request_id"] != "abc" || entry["ip"] != "1.2.3.4" {
		t.Errorf("fields missing from entry: %v", entry)
	}
}

func TestLoggerRespectsLevel(t *testing.T) {
	var buf bytes.Buffer
	l := New(WARN, &buf)

	l.Info("dropped")
	l.Warn("kept")

	out := buf.String()
	if strings.Contains(out, "dropped") {
		t.Errorf("info entry emitted below WARN level: %q", out)
	}
	if !strings.Contains(out, "kept") {
		t.Errorf("warn entry missing: %q", out)
	}
}

func TestParseLevel(t *testing.T) {
	tests := map[string]Level{
		"debug":   DEBUG,
		"info":    INFO,
		"warn":    WARN,
		"error":   ERROR,
		"fatal":   FATAL,
		"verbose": INFO,
	}
	for in, want := range tests {
		if got := ParseLevel(in); got != want {
			t.Errorf("ParseLevel(%q) = %v, want %v", in, got, want)
		}
	}
}

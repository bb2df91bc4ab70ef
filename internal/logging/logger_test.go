package logging

import (
	"bytes"
	"encoding/json"
	"errors"
	"testing"
)

func captureLogger(level string) (*Logger, *bytes.Buffer) {
	l := New(&Config{Level: level, Component: "test", JSONFormat: true})
	var buf bytes.Buffer
	l.output = &buf
	return l, &buf
}

func lastEntry(t *testing.T, buf *bytes.Buffer) Entry {
	t.Helper()
	var entry Entry
	if err := json.Unmarshal(bytes.TrimSpace(buf.Bytes()), &entry); err != nil {
		t.Fatalf("log line is not valid JSON: %v", err)
	}
	return entry
}

func TestLogArgsAreKeyValueFields(t *testing.T) {
	l, buf := captureLogger("DEBUG")

	l.Info("trade placed", "symbol", "R_100", "stake", 10.0)

	entry := lastEntry(t, buf)
	if entry.Message != "trade placed" {
		t.Errorf("message altered: %q", entry.Message)
	}
	if entry.Fields["symbol"] != "R_100" {
		t.Errorf("symbol field lost: %v", entry.Fields)
	}
	if entry.Fields["stake"] != 10.0 {
		t.Errorf("stake field lost: %v", entry.Fields)
	}
}

func TestLogMessageNeverFormatted(t *testing.T) {
	l, buf := captureLogger("DEBUG")

	// messages carry percent signs verbatim, args never interpolate
	l.Warn("win rate below 50%", "rate", 42.5)

	entry := lastEntry(t, buf)
	if entry.Message != "win rate below 50%" {
		t.Errorf("message was formatted: %q", entry.Message)
	}
	if entry.Fields["rate"] != 42.5 {
		t.Errorf("rate field lost: %v", entry.Fields)
	}
}

func TestLogErrorValuesFlattened(t *testing.T) {
	l, buf := captureLogger("DEBUG")

	l.Error("request failed", "error", errors.New("boom"))

	entry := lastEntry(t, buf)
	if entry.Fields["error"] != "boom" {
		t.Errorf("error value not flattened to its message: %v", entry.Fields)
	}
}

func TestLogLevelFilter(t *testing.T) {
	l, buf := captureLogger("WARN")

	l.Info("below threshold")
	if buf.Len() != 0 {
		t.Errorf("info line emitted despite WARN level: %s", buf.String())
	}

	l.Warn("at threshold")
	if buf.Len() == 0 {
		t.Error("warn line suppressed at WARN level")
	}
}

package logging

import "testing"

func TestBufferNewestFirst(t *testing.T) {
	b := NewBuffer(10)
	b.Append("user-1", "first", INFO, "")
	b.Append("user-1", "second", WARN, "R_100")

	entries := b.Entries("user-1")
	if len(entries) != 2 {
		t.Fatalf("expected 2 entries, got %d", len(entries))
	}
	if entries[0].Message != "second" || entries[1].Message != "first" {
		t.Errorf("entries not newest-first: %q, %q", entries[0].Message, entries[1].Message)
	}
	if entries[0].Level != "WARN" || entries[0].Symbol != "R_100" {
		t.Errorf("entry metadata lost: %+v", entries[0])
	}
}

func TestBufferEvictsOldest(t *testing.T) {
	b := NewBuffer(3)
	for _, msg := range []string{"a", "b", "c", "d"} {
		b.Append("user-1", msg, INFO, "")
	}

	entries := b.Entries("user-1")
	if len(entries) != 3 {
		t.Fatalf("expected the buffer capped at 3, got %d", len(entries))
	}
	if entries[0].Message != "d" || entries[2].Message != "b" {
		t.Errorf("wrong entries survived eviction: %+v", entries)
	}
}

func TestBufferIsolatesUsers(t *testing.T) {
	b := NewBuffer(10)
	b.Append("user-1", "mine", INFO, "")

	if entries := b.Entries("user-2"); len(entries) != 0 {
		t.Errorf("lines leaked across users: %+v", entries)
	}
}

func TestBufferClear(t *testing.T) {
	b := NewBuffer(10)
	b.Append("user-1", "line", INFO, "")
	b.Clear("user-1")

	if entries := b.Entries("user-1"); len(entries) != 0 {
		t.Errorf("clear left %d entries behind", len(entries))
	}
}

func TestLoggerMirrorsIntoBuffer(t *testing.T) {
	b := NewBuffer(10)
	logger := New(&Config{Level: "INFO", Output: "stderr"}).
		WithBuffer(b).
		WithUser("user-1").
		WithSymbol("R_100")

	logger.Info("cycle completed")
	logger.Debug("below the level floor")

	entries := b.Entries("user-1")
	if len(entries) != 1 {
		t.Fatalf("expected 1 buffered line, got %d", len(entries))
	}
	if entries[0].Message != "cycle completed" || entries[0].Symbol != "R_100" {
		t.Errorf("buffered line mangled: %+v", entries[0])
	}
}

package orchestrator

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestDebugLogger_Trace(t *testing.T) {
	path := filepath.Join(t.TempDir(), "logs", "debug.log")
	l, err := NewDebugLogger(path)
	if err != nil {
		t.Fatalf("NewDebugLogger failed: %v", err)
	}
	l.Trace("0123456789abcdef", "round %d: %s", 1, "planned")
	if err := l.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	if len(lines) != 2 {
		t.Fatalf("got %d lines, want 2:\n%s", len(lines), data)
	}
	if !strings.HasSuffix(lines[1], "run=01234567 round 1: planned") {
		t.Errorf("trace line = %q", lines[1])
	}
}

func TestDebugLogger_NoOp(t *testing.T) {
	var nilLogger *DebugLogger
	nilLogger.Trace("run", "ignored")
	if err := nilLogger.Close(); err != nil {
		t.Errorf("Close on nil = %v", err)
	}

	l, err := NewDebugLogger("")
	if err != nil {
		t.Fatalf("NewDebugLogger(\"\") failed: %v", err)
	}
	l.Trace("run", "ignored")
	if err := l.Close(); err != nil {
		t.Errorf("Close on no-op = %v", err)
	}
}

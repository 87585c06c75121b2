package orchestrator

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// DebugLogger appends a timestamped trace of orchestrator decisions to a
// file, one line per decision, keyed by run ID. The zero value and a nil
// pointer discard everything.
type DebugLogger struct {
	mu sync.Mutex
	w  io.WriteCloser
}

// NewDebugLogger opens path for appending, creating parent directories.
// An empty path yields a no-op logger.
func NewDebugLogger(path string) (*DebugLogger, error) {
	if path == "" {
		return &DebugLogger{}, nil
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("create debug log directory: %w", err)
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return nil, fmt.Errorf("open debug log: %w", err)
	}
	fmt.Fprintf(f, "=== aime trace opened %s ===\n", time.Now().Format(time.RFC3339))
	return &DebugLogger{w: f}, nil
}

// NopLogger returns a logger that discards everything.
func NopLogger() *DebugLogger {
	return &DebugLogger{}
}

// Trace writes one line for runID.
func (l *DebugLogger) Trace(runID, format string, args ...interface{}) {
	if l == nil || l.w == nil {
		return
	}
	if len(runID) > 8 {
		runID = runID[:8]
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	fmt.Fprintf(l.w, "%s run=%s %s\n", time.Now().Format("15:04:05.000"), runID, fmt.Sprintf(format, args...))
	if f, ok := l.w.(*os.File); ok {
		f.Sync()
	}
}

// Close closes the underlying file. Safe on nil and no-op loggers.
func (l *DebugLogger) Close() error {
	if l == nil || l.w == nil {
		return nil
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.w.Close()
}

package orchestrator

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/sirupsen/logrus"

	"github.com/kelvinyan1/aime-reproduction/internal/logging"
)

// ErrStopRequested is the cancellation cause when a stop signal file appears.
var ErrStopRequested = errors.New("stop requested")

// Signal file names recognized in the signals directory.
const (
	signalStop = "stop"
	signalKill = "kill"
)

// stopPollInterval is used when the platform watcher is unavailable.
const stopPollInterval = 500 * time.Millisecond

// StopWatcher watches a signals directory and fires once a "stop" or "kill"
// file is created there.
type StopWatcher struct {
	dir     string
	watcher *fsnotify.Watcher
	log     *logrus.Entry

	once      sync.Once
	closeOnce sync.Once
	fired     chan struct{}
	done      chan struct{}
	mu        sync.Mutex
	reason    error
}

// NewStopWatcher creates the signals directory if needed and starts
// watching it. A signal file that already exists fires immediately.
func NewStopWatcher(dir string) (*StopWatcher, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("create signals directory: %w", err)
	}

	sw := &StopWatcher{
		dir:   dir,
		log:   logging.For("stop-watcher"),
		fired: make(chan struct{}),
		done:  make(chan struct{}),
	}
	if sw.checkFiles() {
		return sw, nil
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		sw.log.WithError(err).Warn("file watcher unavailable, polling for signals")
		go sw.poll()
		return sw, nil
	}
	if err := watcher.Add(dir); err != nil {
		watcher.Close()
		sw.log.WithError(err).Warn("cannot watch signals directory, polling for signals")
		go sw.poll()
		return sw, nil
	}
	sw.watcher = watcher
	go sw.watch()

	// A file created between the first check and Add is only visible on disk.
	sw.checkFiles()
	return sw, nil
}

// Done is closed when a signal fires.
func (sw *StopWatcher) Done() <-chan struct{} {
	return sw.fired
}

// Reason returns the cancellation cause, or nil before a signal fires.
func (sw *StopWatcher) Reason() error {
	sw.mu.Lock()
	defer sw.mu.Unlock()
	return sw.reason
}

// Dir returns the signals directory.
func (sw *StopWatcher) Dir() string {
	return sw.dir
}

// Close stops watching.
func (sw *StopWatcher) Close() {
	sw.closeOnce.Do(func() {
		close(sw.done)
		if sw.watcher != nil {
			sw.watcher.Close()
		}
	})
}

// RequestStop writes a stop signal file into dir.
func RequestStop(dir string) error {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return err
	}
	path := filepath.Join(dir, signalStop)
	return os.WriteFile(path, []byte(time.Now().Format(time.RFC3339)), 0644)
}

// ClearSignals removes signal files left by a previous run.
func ClearSignals(dir string) {
	os.Remove(filepath.Join(dir, signalStop))
	os.Remove(filepath.Join(dir, signalKill))
}

func (sw *StopWatcher) watch() {
	for {
		select {
		case <-sw.done:
			return
		case event, ok := <-sw.watcher.Events:
			if !ok {
				return
			}
			if event.Op&(fsnotify.Create|fsnotify.Write) == 0 {
				continue
			}
			if base := filepath.Base(event.Name); base == signalStop || base == signalKill {
				sw.fire(base)
			}
		case err, ok := <-sw.watcher.Errors:
			if !ok {
				return
			}
			sw.log.WithError(err).Debug("watcher error")
		}
	}
}

func (sw *StopWatcher) poll() {
	ticker := time.NewTicker(stopPollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-sw.done:
			return
		case <-ticker.C:
			if sw.checkFiles() {
				return
			}
		}
	}
}

func (sw *StopWatcher) checkFiles() bool {
	for _, name := range []string{signalStop, signalKill} {
		if _, err := os.Stat(filepath.Join(sw.dir, name)); err == nil {
			sw.fire(name)
			return true
		}
	}
	return false
}

func (sw *StopWatcher) fire(signal string) {
	sw.once.Do(func() {
		sw.mu.Lock()
		sw.reason = fmt.Errorf("%w (%s signal)", ErrStopRequested, signal)
		sw.mu.Unlock()
		sw.log.WithField("signal", signal).Warn("stop signal received")
		close(sw.fired)
	})
}

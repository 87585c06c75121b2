// Package state provides persisters for progress store snapshots.
// A snapshot can be kept in a JSON file, an SQLite database or Redis.
package state

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/kelvinyan1/aime-reproduction/internal/logging"
	"github.com/kelvinyan1/aime-reproduction/internal/progress"
)

// DefaultFilePath is the state file used when none is configured.
const DefaultFilePath = "aime_state.json"

// BackupSuffix is appended to the state path for the previous snapshot.
const BackupSuffix = ".bak"

// FileStore keeps the latest snapshot in a JSON file. Each save moves the
// previous file to a backup first, so a torn write leaves one good copy.
type FileStore struct {
	path string
	log  *logrus.Entry
	mu   sync.Mutex
}

// NewFileStore returns a file persister for path.
func NewFileStore(path string) *FileStore {
	if path == "" {
		path = DefaultFilePath
	}
	return &FileStore{path: path, log: logging.For("state")}
}

// Path returns the state file path.
func (f *FileStore) Path() string { return f.path }

// BackupPath returns the backup file path.
func (f *FileStore) BackupPath() string { return f.path + BackupSuffix }

// Save writes snap to a temporary file, keeps the old state file as a
// backup and renames the new file into place.
func (f *FileStore) Save(_ context.Context, snap progress.Snapshot) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	data, err := json.MarshalIndent(snap, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal snapshot: %w", err)
	}

	if dir := filepath.Dir(f.path); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("create state directory: %w", err)
		}
	}

	tmp := f.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0644); err != nil {
		return fmt.Errorf("write state: %w", err)
	}
	if _, err := os.Stat(f.path); err == nil {
		if err := os.Rename(f.path, f.BackupPath()); err != nil {
			f.log.WithError(err).Warn("could not back up state file")
		}
	}
	if err := os.Rename(tmp, f.path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("replace state: %w", err)
	}
	return nil
}

// Load reads the state file. When it is unreadable the backup is tried.
// It returns progress.ErrNoSnapshot when neither file exists.
func (f *FileStore) Load(_ context.Context) (progress.Snapshot, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	snap, err := readSnapshot(f.path)
	if err == nil {
		return snap, nil
	}

	backup, berr := readSnapshot(f.BackupPath())
	switch {
	case berr == nil:
		f.log.WithError(err).Warn("state file unreadable, using backup")
		return backup, nil
	case errors.Is(err, progress.ErrNoSnapshot) && errors.Is(berr, progress.ErrNoSnapshot):
		return progress.Snapshot{}, progress.ErrNoSnapshot
	case errors.Is(err, progress.ErrNoSnapshot):
		return progress.Snapshot{}, berr
	default:
		return progress.Snapshot{}, err
	}
}

// Close is a no-op.
func (f *FileStore) Close() error { return nil }

func readSnapshot(path string) (progress.Snapshot, error) {
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return progress.Snapshot{}, progress.ErrNoSnapshot
	}
	if err != nil {
		return progress.Snapshot{}, fmt.Errorf("read %s: %w", path, err)
	}

	var snap progress.Snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return progress.Snapshot{}, fmt.Errorf("parse %s: %w", path, err)
	}
	if err := snap.Validate(); err != nil {
		return progress.Snapshot{}, fmt.Errorf("%s: %w", path, err)
	}
	return snap, nil
}

package state

import (
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/kelvinyan1/aime-reproduction/internal/progress"
)

// Backend names accepted by Open.
const (
	BackendFile   = "file"
	BackendSQLite = "sqlite"
	BackendRedis  = "redis"
)

// Backend is a persister that holds a resource until closed.
type Backend interface {
	io.Closer
	progress.Persister
}

// Config selects and configures a backend.
type Config struct {
	// Backend is one of file, sqlite or redis.
	Backend string
	// Path is the state file or database path.
	Path string
	// Keep bounds the snapshots kept by the sqlite backend.
	Keep  int
	Redis RedisConfig
}

// Open creates the backend named by cfg.Backend. The sqlite backend is
// migrated before it is returned.
func Open(ctx context.Context, cfg Config) (Backend, error) {
	switch strings.ToLower(cfg.Backend) {
	case BackendFile, "":
		return NewFileStore(cfg.Path), nil
	case BackendSQLite:
		path := cfg.Path
		if path == "" || strings.HasSuffix(path, ".json") {
			path = DefaultDBPath()
		}
		db, err := OpenDB(path)
		if err != nil {
			return nil, err
		}
		if err := db.Migrate(); err != nil {
			db.Close()
			return nil, fmt.Errorf("migrate %s: %w", path, err)
		}
		if cfg.Keep > 0 {
			db.SetKeep(cfg.Keep)
		}
		return db, nil
	case BackendRedis:
		return NewRedisStore(ctx, cfg.Redis)
	default:
		return nil, fmt.Errorf("unknown state backend %q", cfg.Backend)
	}
}

// Compile-time verification that every backend satisfies the interface.
var (
	_ Backend = (*FileStore)(nil)
	_ Backend = (*DB)(nil)
	_ Backend = (*RedisStore)(nil)
)

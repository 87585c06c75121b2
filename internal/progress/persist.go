package progress

import (
	"context"
	"errors"
)

// ErrNoSnapshot is returned by a Persister when nothing has been saved yet.
var ErrNoSnapshot = errors.New("no snapshot")

// Persister saves and loads store snapshots.
type Persister interface {
	Save(ctx context.Context, snap Snapshot) error
	Load(ctx context.Context) (Snapshot, error)
}

// Open creates a store and restores it from p. A missing, unreadable or
// corrupt snapshot leaves the store empty; it never fails startup.
func Open(ctx context.Context, p Persister, opts ...Option) *Store {
	s := New(opts...)
	if p == nil {
		return s
	}

	snap, err := p.Load(ctx)
	switch {
	case errors.Is(err, ErrNoSnapshot):
		s.log.Debug("no saved state, starting empty")
		return s
	case err != nil:
		s.log.WithError(err).Warn("could not load saved state, starting empty")
		return s
	}

	if err := s.Restore(snap); err != nil {
		s.log.WithError(err).Warn("saved state is corrupt, starting empty")
		return s
	}
	s.log.WithField("tasks", len(snap.Tasks)).Info("restored saved state")
	return s
}

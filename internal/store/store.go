// Package store defines where the stream's state and config records live.
// Backends: store/file (default, local JSON files) and store/redis.
package store

import (
	"context"
	"errors"

	"github.com/MrSnakeDoc/relay/internal/domain"
)

// ErrNotFound is returned when a record is absent or unreadable. Callers treat
// both the same way: fall back to defaults.
var ErrNotFound = errors.New("record not found")

// StateStore persists the single StreamState record.
type StateStore interface {
	LoadState(ctx context.Context) (domain.StreamState, error)
	SaveState(ctx context.Context, st domain.StreamState) error
}

// ConfigStore persists the last accepted StreamConfig.
type ConfigStore interface {
	LoadConfig(ctx context.Context) (domain.StreamConfig, error)
	SaveConfig(ctx context.Context, cfg domain.StreamConfig) error
}

// Store is a full backend.
type Store interface {
	StateStore
	ConfigStore
	// Ping reports whether the backend is reachable.
	Ping(ctx context.Context) error
	// Name identifies the backend in logs and /readyz.
	Name() string
}

// LoadStateOrInitial reads the state record, substituting the initial state
// when none is stored.
func LoadStateOrInitial(ctx context.Context, s StateStore) (domain.StreamState, error) {
	st, err := s.LoadState(ctx)
	if errors.Is(err, ErrNotFound) {
		return domain.InitialState(), nil
	}
	if err != nil {
		return domain.InitialState(), err
	}
	return st, nil
}

package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/MrSnakeDoc/relay/internal/domain"
)

// Sealer encrypts short secrets for storage at rest.
type Sealer interface {
	Seal(plain string) (string, error)
	Open(sealed string) (string, error)
}

// ErrNoSealer is returned when a config carrying a stream key is saved
// without an encryption key configured.
var ErrNoSealer = errors.New("stream key cannot be persisted without RELAY_ENCRYPTION_KEY")

type sealed struct {
	Store
	sealer Sealer
}

// WithSealedKeys wraps s so stream keys are sealed on save and opened on load.
// A nil sealer refuses to persist keys but still loads key-less configs.
func WithSealedKeys(s Store, sealer Sealer) Store {
	return &sealed{Store: s, sealer: sealer}
}

func (s *sealed) SaveConfig(ctx context.Context, cfg domain.StreamConfig) error {
	out := cfg
	out.SealedStreamKey = ""
	if cfg.StreamKey != "" {
		if s.sealer == nil {
			return ErrNoSealer
		}
		enc, err := s.sealer.Seal(cfg.StreamKey)
		if err != nil {
			return fmt.Errorf("seal stream key: %w", err)
		}
		out.SealedStreamKey = enc
	}
	out.StreamKey = ""
	return s.Store.SaveConfig(ctx, out)
}

func (s *sealed) LoadConfig(ctx context.Context) (domain.StreamConfig, error) {
	cfg, err := s.Store.LoadConfig(ctx)
	if err != nil {
		return cfg, err
	}
	if cfg.SealedStreamKey == "" {
		return cfg, nil
	}
	if s.sealer == nil {
		return cfg, fmt.Errorf("stored config has a sealed stream key but no encryption key is configured")
	}
	plain, err := s.sealer.Open(cfg.SealedStreamKey)
	if err != nil {
		return cfg, fmt.Errorf("open stream key: %w", err)
	}
	cfg.StreamKey = plain
	cfg.SealedStreamKey = ""
	return cfg, nil
}

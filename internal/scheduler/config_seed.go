package scheduler

import (
	"context"
	"errors"
	"fmt"

	"github.com/MrSnakeDoc/relay/internal/domain"
	"github.com/MrSnakeDoc/relay/internal/logger"
	"github.com/MrSnakeDoc/relay/internal/store"
)

// SeedSource yields the stream configuration to install on first boot.
type SeedSource interface {
	Load() (domain.StreamConfig, error)
}

// ConfigSeeder copies the seed file into the config store on startup when
// no configuration has been stored yet.
type ConfigSeeder struct {
	source SeedSource
	store  store.ConfigStore
	logger logger.Logger
}

// NewConfigSeeder creates a new seeder.
func NewConfigSeeder(
	source SeedSource,
	st store.ConfigStore,
	log logger.Logger,
) *ConfigSeeder {
	return &ConfigSeeder{
		source: source,
		store:  st,
		logger: log,
	}
}

// Sync stores the seed config unless one already exists. It reports whether
// the seed was written.
func (cs *ConfigSeeder) Sync(ctx context.Context) (bool, error) {
	_, err := cs.store.LoadConfig(ctx)
	if err == nil {
		cs.logger.Info("stream config already stored, seed file ignored")
		return false, nil
	}
	if !errors.Is(err, store.ErrNotFound) {
		return false, fmt.Errorf("failed to read stored config: %w", err)
	}

	cfg, err := cs.source.Load()
	if err != nil {
		return false, err
	}
	if err := cfg.Validate(); err != nil {
		return false, fmt.Errorf("seed file: %w", err)
	}
	err = cs.store.SaveConfig(ctx, cfg)
	if errors.Is(err, store.ErrNoSealer) {
		cs.logger.Warn("seed file stream_key dropped: RELAY_ENCRYPTION_KEY is not set, RELAY_STREAM_KEY will be used")
		cfg.StreamKey = ""
		err = cs.store.SaveConfig(ctx, cfg)
	}
	if err != nil {
		return false, fmt.Errorf("failed to store seed config: %w", err)
	}

	cs.logger.Info("stream config seeded from file",
		logger.Strings("entries", cfg.Entries()),
		logger.Bool("schedule", cfg.Schedule.Enabled))
	return true, nil
}

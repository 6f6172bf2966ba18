package supervisor

import (
	"context"
	"errors"

	"github.com/MrSnakeDoc/relay/internal/domain"
	"github.com/MrSnakeDoc/relay/internal/logger"
	"github.com/MrSnakeDoc/relay/internal/store"
)

// Config returns the stored stream configuration, or the installation
// defaults when none has been saved yet.
func (s *Supervisor) Config(ctx context.Context) (domain.StreamConfig, error) {
	cfg, _, err := s.loadConfig(ctx)
	return cfg, err
}

// ReplaceConfig validates and stores cfg. It is refused while a stream is
// active. An empty stream key keeps the stored one.
func (s *Supervisor) ReplaceConfig(ctx context.Context, cfg domain.StreamConfig) (domain.StreamConfig, error) {
	const op = "replace_config"
	if err := s.lockRequest(ctx, op); err != nil {
		return cfg, err
	}
	defer s.unlock()

	if s.phase.Active() {
		return cfg, s.conflict(op)
	}

	cfg.Normalize()
	if cfg.StreamKey == "" {
		stored, _, err := s.loadConfig(ctx)
		if err != nil {
			return cfg, err
		}
		cfg.StreamKey = stored.StreamKey
	}
	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	if err := s.saveConfig(ctx, op, cfg); err != nil {
		return cfg, err
	}

	s.cfg = cfg
	s.publish()
	s.log.Info("stream config replaced",
		logger.Strings("entries", cfg.Entries()),
		logger.Bool("loop", cfg.Loop),
		logger.Bool("schedule", cfg.Schedule.Enabled))
	return cfg, nil
}

func (s *Supervisor) saveConfig(ctx context.Context, op string, cfg domain.StreamConfig) error {
	err := s.deps.Store.SaveConfig(ctx, cfg)
	switch {
	case err == nil:
		return nil
	case errors.Is(err, store.ErrNoSealer):
		return &domain.Error{Kind: domain.KindInvalidConfig, Op: op, Message: err.Error(), Err: err}
	default:
		return &domain.Error{Kind: domain.KindPersistence, Op: op, Message: "failed to save stream config", Err: err}
	}
}

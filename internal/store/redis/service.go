// Package redis stores stream records as JSON values in Redis, for deployments
// where the controller's disk is ephemeral.
package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/MrSnakeDoc/relay/internal/domain"
	"github.com/MrSnakeDoc/relay/internal/logger"
	"github.com/MrSnakeDoc/relay/internal/store"
	"github.com/redis/go-redis/v9"
)

// Client is the subset of *redis.Client used here.
type Client interface {
	Get(ctx context.Context, key string) *redis.StringCmd
	Set(ctx context.Context, key string, value interface{}, expiration time.Duration) *redis.StatusCmd
	Ping(ctx context.Context) *redis.StatusCmd
}

// Store keeps both records without expiry; SET replaces a value atomically.
type Store struct {
	client Client
	log    logger.Logger
}

var _ store.Store = (*Store)(nil)

func NewStore(client Client, log logger.Logger) *Store {
	return &Store{client: client, log: log}
}

func (s *Store) Name() string { return "redis" }

func (s *Store) Ping(ctx context.Context) error { return s.client.Ping(ctx).Err() }

func (s *Store) LoadState(ctx context.Context) (domain.StreamState, error) {
	var st domain.StreamState
	err := s.get(ctx, StateKey(), &st)
	return st, err
}

func (s *Store) SaveState(ctx context.Context, st domain.StreamState) error {
	return s.set(ctx, StateKey(), st)
}

func (s *Store) LoadConfig(ctx context.Context) (domain.StreamConfig, error) {
	var cfg domain.StreamConfig
	err := s.get(ctx, ConfigKey(), &cfg)
	return cfg, err
}

func (s *Store) SaveConfig(ctx context.Context, cfg domain.StreamConfig) error {
	return s.set(ctx, ConfigKey(), cfg)
}

func (s *Store) get(ctx context.Context, key string, v any) error {
	data, err := s.client.Get(ctx, key).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return store.ErrNotFound
		}
		return fmt.Errorf("failed to get %s: %w", key, err)
	}
	if err := json.Unmarshal(data, v); err != nil {
		s.log.Warn("discarding unreadable record",
			logger.String("key", key),
			logger.Error(err))
		return store.ErrNotFound
	}
	return nil
}

func (s *Store) set(ctx context.Context, key string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("failed to marshal %s: %w", key, err)
	}
	if err := s.client.Set(ctx, key, data, 0).Err(); err != nil {
		return fmt.Errorf("failed to save %s: %w", key, err)
	}
	return nil
}

package store

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/MrSnakeDoc/relay/internal/domain"
)

// Memory keeps records in process memory, round-tripping them through JSON
// so it behaves like the durable backends. Used when persistence is
// disabled and in tests.
type Memory struct {
	mu     sync.Mutex
	state  []byte
	config []byte
	saves  int
	// FailSaves makes every SaveState fail with this error when non-nil.
	FailSaves error
}

func NewMemory() *Memory { return &Memory{} }

func (m *Memory) Name() string { return "memory" }

func (m *Memory) Ping(context.Context) error { return nil }

func (m *Memory) LoadState(context.Context) (domain.StreamState, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var st domain.StreamState
	if m.state == nil {
		return st, ErrNotFound
	}
	if err := json.Unmarshal(m.state, &st); err != nil {
		return domain.StreamState{}, ErrNotFound
	}
	return st, nil
}

func (m *Memory) SaveState(_ context.Context, st domain.StreamState) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.FailSaves != nil {
		return m.FailSaves
	}
	data, err := json.Marshal(st)
	if err != nil {
		return err
	}
	m.state = data
	m.saves++
	return nil
}

func (m *Memory) LoadConfig(context.Context) (domain.StreamConfig, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var cfg domain.StreamConfig
	if m.config == nil {
		return cfg, ErrNotFound
	}
	if err := json.Unmarshal(m.config, &cfg); err != nil {
		return domain.StreamConfig{}, ErrNotFound
	}
	return cfg, nil
}

func (m *Memory) SaveConfig(_ context.Context, cfg domain.StreamConfig) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	data, err := json.Marshal(cfg)
	if err != nil {
		return err
	}
	m.config = data
	return nil
}

// StateSaves counts successful SaveState calls.
func (m *Memory) StateSaves() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.saves
}

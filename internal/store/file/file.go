// Package file persists stream records as JSON files in a data directory.
package file

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"

	"github.com/google/renameio/v2"

	"github.com/MrSnakeDoc/relay/internal/domain"
	"github.com/MrSnakeDoc/relay/internal/logger"
	"github.com/MrSnakeDoc/relay/internal/store"
	"github.com/MrSnakeDoc/relay/internal/utils"
)

const (
	StateFile  = "stream_state.json"
	ConfigFile = "stream_config.json"
)

// Store keeps one file per record. Writes are atomic: readers see either the
// previous or the new content, never a torn file.
type Store struct {
	dir string
	log logger.Logger
	// serialises writers on the same file so temp names never race
	mu sync.Mutex
}

var _ store.Store = (*Store)(nil)

// New creates dir if needed.
func New(dir string, log logger.Logger) (*Store, error) {
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return nil, fmt.Errorf("create data dir %s: %w", dir, err)
	}
	return &Store{dir: dir, log: log}, nil
}

func (s *Store) Name() string { return "file" }

func (s *Store) Ping(context.Context) error {
	info, err := os.Stat(s.dir)
	if err != nil {
		return err
	}
	if !info.IsDir() {
		return fmt.Errorf("%s is not a directory", s.dir)
	}
	return nil
}

func (s *Store) LoadState(context.Context) (domain.StreamState, error) {
	var st domain.StreamState
	err := s.read(StateFile, &st)
	return st, err
}

func (s *Store) SaveState(_ context.Context, st domain.StreamState) error {
	return s.write(StateFile, st)
}

func (s *Store) LoadConfig(context.Context) (domain.StreamConfig, error) {
	var cfg domain.StreamConfig
	err := s.read(ConfigFile, &cfg)
	return cfg, err
}

func (s *Store) SaveConfig(_ context.Context, cfg domain.StreamConfig) error {
	return s.write(ConfigFile, cfg)
}

func (s *Store) path(name string) string { return filepath.Join(s.dir, name) }

// read maps a missing or corrupt file to store.ErrNotFound.
func (s *Store) read(name string, v any) error {
	data, err := os.ReadFile(s.path(name))
	if errors.Is(err, fs.ErrNotExist) {
		return store.ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("read %s: %w", name, err)
	}
	if err := json.Unmarshal(data, v); err != nil {
		s.log.Warn("discarding unreadable record",
			logger.String("file", s.path(name)),
			logger.Error(err))
		return store.ErrNotFound
	}
	return nil
}

func (s *Store) write(name string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal %s: %w", name, err)
	}
	data = append(data, '\n')

	s.mu.Lock()
	defer s.mu.Unlock()
	return WriteAtomic(s.path(name), data, 0o600)
}

// WriteAtomic replaces path with data through a fsynced temp file and a
// rename, then fsyncs the parent directory so the rename itself is durable.
// Readers see the old content or the new content, never a mix.
func WriteAtomic(path string, data []byte, perm os.FileMode) error {
	if err := renameio.WriteFile(path, data, perm); err != nil {
		return fmt.Errorf("replace %s: %w", filepath.Base(path), err)
	}
	if d, err := os.Open(filepath.Dir(path)); err == nil {
		defer utils.Close(d)
		_ = d.Sync()
	}
	return nil
}

package scheduler

import (
	"context"
	"errors"
	"testing"

	"github.com/MrSnakeDoc/relay/internal/domain"
	"github.com/MrSnakeDoc/relay/internal/logger"
	"github.com/MrSnakeDoc/relay/internal/store"
)

type staticSource struct {
	cfg domain.StreamConfig
	err error
}

func (s staticSource) Load() (domain.StreamConfig, error) {
	cfg := s.cfg
	cfg.Normalize()
	return cfg, s.err
}

func TestConfigSeeder(t *testing.T) {
	log := logger.New("error", false)
	valid := domain.StreamConfig{MediaKey: "intro.mp4", RTMPURL: "rtmp://ingest.example/live"}

	t.Run("seeds empty store", func(t *testing.T) {
		st := store.NewMemory()
		wrote, err := NewConfigSeeder(staticSource{cfg: valid}, st, log).Sync(context.Background())
		if err != nil || !wrote {
			t.Fatalf("Sync() = %v, %v", wrote, err)
		}
		got, err := st.LoadConfig(context.Background())
		if err != nil || got.MediaKey != "intro.mp4" {
			t.Errorf("stored = %+v, %v", got, err)
		}
	})

	t.Run("keeps existing config", func(t *testing.T) {
		st := store.NewMemory()
		existing := valid
		existing.MediaKey = "kept.mp4"
		_ = st.SaveConfig(context.Background(), existing)

		wrote, err := NewConfigSeeder(staticSource{cfg: valid}, st, log).Sync(context.Background())
		if err != nil || wrote {
			t.Fatalf("Sync() = %v, %v", wrote, err)
		}
		got, _ := st.LoadConfig(context.Background())
		if got.MediaKey != "kept.mp4" {
			t.Errorf("existing config overwritten: %+v", got)
		}
	})

	t.Run("drops stream key without encryption key", func(t *testing.T) {
		mem := store.NewMemory()
		st := store.WithSealedKeys(mem, nil)
		withKey := valid
		withKey.StreamKey = "from-seed"

		wrote, err := NewConfigSeeder(staticSource{cfg: withKey}, st, log).Sync(context.Background())
		if err != nil || !wrote {
			t.Fatalf("Sync() = %v, %v", wrote, err)
		}
		got, err := st.LoadConfig(context.Background())
		if err != nil {
			t.Fatalf("LoadConfig: %v", err)
		}
		if got.MediaKey != "intro.mp4" || got.StreamKey != "" || got.SealedStreamKey != "" {
			t.Errorf("stored = %+v, want seed without key", got)
		}
	})

	t.Run("rejects invalid seed", func(t *testing.T) {
		st := store.NewMemory()
		_, err := NewConfigSeeder(staticSource{cfg: domain.StreamConfig{MediaKey: "x.mp4"}}, st, log).Sync(context.Background())
		if !domain.IsKind(err, domain.KindInvalidConfig) {
			t.Fatalf("err = %v, want invalid config", err)
		}
		if _, err := st.LoadConfig(context.Background()); !errors.Is(err, store.ErrNotFound) {
			t.Errorf("invalid seed stored")
		}
	})
}

package file

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/MrSnakeDoc/relay/internal/domain"
	"github.com/MrSnakeDoc/relay/internal/logger"
	"github.com/MrSnakeDoc/relay/internal/store"
)

func newStore(t *testing.T) (*Store, string) {
	t.Helper()
	dir := filepath.Join(t.TempDir(), "data")
	s, err := New(dir, logger.New("error", false))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return s, dir
}

func TestStateRoundTrip(t *testing.T) {
	s, _ := newStore(t)
	ctx := context.Background()

	started := time.Date(2026, 5, 1, 10, 0, 0, 0, time.UTC)
	want := domain.StreamState{
		Status:          domain.StatusRunning,
		ProcessID:       domain.Ptr(4242),
		StartedAt:       &started,
		RetryCount:      2,
		CurrentMediaKey: "videos/a.mp4",
		Executable:      "/usr/bin/ffmpeg",
	}
	if err := s.SaveState(ctx, want); err != nil {
		t.Fatalf("SaveState: %v", err)
	}

	got, err := s.LoadState(ctx)
	if err != nil {
		t.Fatalf("LoadState: %v", err)
	}
	if got.Status != want.Status || *got.ProcessID != 4242 || got.RetryCount != 2 {
		t.Errorf("LoadState = %+v, want %+v", got, want)
	}
	if !got.StartedAt.Equal(started) {
		t.Errorf("StartedAt = %v, want %v", got.StartedAt, started)
	}
}

func TestLoadMissing(t *testing.T) {
	s, _ := newStore(t)
	if _, err := s.LoadState(context.Background()); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("LoadState err = %v, want ErrNotFound", err)
	}
	if _, err := s.LoadConfig(context.Background()); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("LoadConfig err = %v, want ErrNotFound", err)
	}
}

func TestLoadCorruptFallsBack(t *testing.T) {
	s, dir := newStore(t)
	if err := os.WriteFile(filepath.Join(dir, StateFile), []byte("{not json"), 0o600); err != nil {
		t.Fatal(err)
	}

	st, err := store.LoadStateOrInitial(context.Background(), s)
	if err != nil {
		t.Fatalf("LoadStateOrInitial: %v", err)
	}
	if st.Status != domain.StatusStopped {
		t.Errorf("Status = %q, want stopped", st.Status)
	}
}

func TestWriteAtomicLeavesNoTempFiles(t *testing.T) {
	s, dir := newStore(t)
	ctx := context.Background()
	for i := 0; i < 5; i++ {
		if err := s.SaveState(ctx, domain.StreamState{Status: domain.StatusStopped, RetryCount: i}); err != nil {
			t.Fatalf("SaveState: %v", err)
		}
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 1 || entries[0].Name() != StateFile {
		names := make([]string, 0, len(entries))
		for _, e := range entries {
			names = append(names, e.Name())
		}
		t.Fatalf("dir entries = %v, want only %s", names, StateFile)
	}

	info, err := os.Stat(filepath.Join(dir, StateFile))
	if err != nil {
		t.Fatal(err)
	}
	if perm := info.Mode().Perm(); perm != 0o600 {
		t.Errorf("perm = %o, want 600", perm)
	}

	got, _ := s.LoadState(ctx)
	if got.RetryCount != 4 {
		t.Errorf("RetryCount = %d, want last write (4)", got.RetryCount)
	}
}

func TestConfigRoundTrip(t *testing.T) {
	s, dir := newStore(t)
	ctx := context.Background()

	cfg := domain.StreamConfig{
		Playlist:         []string{"a.mp4", "b.mkv"},
		RTMPURL:          "rtmp://h/app",
		StreamKey:        "must-not-be-written",
		SealedStreamKey:  "opaque",
		LoopDelaySeconds: 7,
		Schedule:         domain.Schedule{Enabled: true, StartTime: "20:00", DurationHours: 1.5},
	}
	if err := s.SaveConfig(ctx, cfg); err != nil {
		t.Fatalf("SaveConfig: %v", err)
	}

	raw, err := os.ReadFile(filepath.Join(dir, ConfigFile))
	if err != nil {
		t.Fatal(err)
	}
	if strings.Contains(string(raw), "must-not-be-written") {
		t.Fatal("clear stream key written to disk")
	}

	got, err := s.LoadConfig(ctx)
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}
	if len(got.Playlist) != 2 || got.LoopDelaySeconds != 7 || got.Schedule.StartTime != "20:00" || got.SealedStreamKey != "opaque" {
		t.Errorf("LoadConfig = %+v", got)
	}
}

func TestWriteAtomicReplacesContent(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "record.json")

	for _, body := range []string{`{"v":1}`, `{"v":2}`} {
		if err := WriteAtomic(path, []byte(body), 0o600); err != nil {
			t.Fatalf("WriteAtomic(%s): %v", body, err)
		}
	}
	got, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if string(got) != `{"v":2}` {
		t.Errorf("content = %s", got)
	}

	if err := WriteAtomic(filepath.Join(dir, "missing", "record.json"), []byte("{}"), 0o600); err == nil {
		t.Error("WriteAtomic into a missing directory succeeded")
	}
}

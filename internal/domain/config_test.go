package domain

import (
	"strings"
	"testing"
	"time"
)

func validConfig() StreamConfig {
	return StreamConfig{
		MediaKey: "videos/a.mp4",
		RTMPURL:  "rtmp://a.rtmp.youtube.com/live2",
	}
}

func TestNormalizeDefaults(t *testing.T) {
	cfg := StreamConfig{
		Playlist: []string{" x.mp4 ", "", "y.mkv"},
		RTMPURL:  " rtmp://host/app ",
	}
	cfg.Normalize()

	if len(cfg.Playlist) != 2 || cfg.Playlist[0] != "x.mp4" || cfg.Playlist[1] != "y.mkv" {
		t.Fatalf("Playlist = %v, want [x.mp4 y.mkv]", cfg.Playlist)
	}
	if cfg.MediaKey != "x.mp4" {
		t.Errorf("MediaKey = %q, want first playlist entry", cfg.MediaKey)
	}
	if cfg.LoopDelaySeconds != DefaultLoopDelaySeconds {
		t.Errorf("LoopDelaySeconds = %d, want %d", cfg.LoopDelaySeconds, DefaultLoopDelaySeconds)
	}
	if cfg.OnTrackError != RetryTrack {
		t.Errorf("OnTrackError = %q, want retry", cfg.OnTrackError)
	}
	if cfg.RTMPURL != "rtmp://host/app" {
		t.Errorf("RTMPURL = %q", cfg.RTMPURL)
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*StreamConfig)
		wantErr string
	}{
		{name: "valid single media", mutate: func(*StreamConfig) {}},
		{
			name:   "valid playlist",
			mutate: func(c *StreamConfig) { c.MediaKey = ""; c.Playlist = []string{"a.mp4", "b.mp4"} },
		},
		{
			name:    "missing media",
			mutate:  func(c *StreamConfig) { c.MediaKey = "" },
			wantErr: "media_key or playlist is required",
		},
		{
			name:    "bad rtmp url",
			mutate:  func(c *StreamConfig) { c.RTMPURL = "http://example.com" },
			wantErr: "rtmp_url",
		},
		{
			name:    "loop delay too large",
			mutate:  func(c *StreamConfig) { c.LoopDelaySeconds = 301 },
			wantErr: "loop_delay_seconds must be at most 300",
		},
		{
			name:    "unknown track policy",
			mutate:  func(c *StreamConfig) { c.OnTrackError = "explode" },
			wantErr: "on_track_error must be one of",
		},
		{
			name: "schedule without start time",
			mutate: func(c *StreamConfig) {
				c.Schedule = Schedule{Enabled: true, DurationHours: 2}
			},
			wantErr: "schedule.start_time",
		},
		{
			name: "schedule malformed time",
			mutate: func(c *StreamConfig) {
				c.Schedule = Schedule{Enabled: true, StartTime: "25:99", DurationHours: 2}
			},
			wantErr: "must be HH:MM",
		},
		{
			name: "schedule too long",
			mutate: func(c *StreamConfig) {
				c.Schedule = Schedule{Enabled: true, StartTime: "20:00", DurationHours: 30}
			},
			wantErr: "duration_hours must be at most 24",
		},
		{
			name: "disabled schedule ignores fields",
			mutate: func(c *StreamConfig) {
				c.Schedule = Schedule{Enabled: false}
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig()
			tt.mutate(&cfg)
			cfg.Normalize()

			err := cfg.Validate()
			if tt.wantErr == "" {
				if err != nil {
					t.Fatalf("Validate() unexpected error: %v", err)
				}
				return
			}
			if err == nil {
				t.Fatalf("Validate() = nil, want error containing %q", tt.wantErr)
			}
			if !IsKind(err, KindInvalidConfig) {
				t.Errorf("KindOf(err) = %q, want %q", KindOf(err), KindInvalidConfig)
			}
			if !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("Validate() = %q, want it to contain %q", err.Error(), tt.wantErr)
			}
		})
	}
}

func TestEntryAtWraps(t *testing.T) {
	cfg := StreamConfig{Playlist: []string{"x", "y"}}
	if got := cfg.EntryAt(1); got != "y" {
		t.Errorf("EntryAt(1) = %q, want y", got)
	}
	if got := cfg.EntryAt(2); got != "x" {
		t.Errorf("EntryAt(2) = %q, want x", got)
	}

	single := StreamConfig{MediaKey: "m"}
	if got := single.EntryAt(0); got != "m" {
		t.Errorf("EntryAt(0) = %q, want m", got)
	}
	if got := single.LoopDelay(); got != 5*time.Second {
		t.Errorf("LoopDelay() = %v, want 5s", got)
	}
}

func TestRedacted(t *testing.T) {
	cfg := validConfig()
	cfg.StreamKey = "secret"
	cfg.SealedStreamKey = "sealed"

	r := cfg.Redacted()
	if r.StreamKey == "secret" || r.SealedStreamKey != "" {
		t.Errorf("Redacted() leaked key material: %+v", r)
	}
	if cfg.StreamKey != "secret" {
		t.Error("Redacted() mutated the receiver")
	}
}

package config

import (
	"os"
	"testing"
	"time"
)

func TestRequireEnv(t *testing.T) {
	tests := []struct {
		name      string
		key       string
		value     string
		shouldSet bool
		wantPanic bool
	}{
		{
			name:      "variable set",
			key:       "TEST_VAR",
			value:     "test_value",
			shouldSet: true,
			wantPanic: false,
		},
		{
			name:      "variable not set",
			key:       "TEST_VAR_MISSING",
			shouldSet: false,
			wantPanic: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.shouldSet {
				if err := os.Setenv(tt.key, tt.value); err != nil {
					t.Fatalf("failed to set env var: %v", err)
				}
				defer func() {
					if err := os.Unsetenv(tt.key); err != nil {
						t.Errorf("failed to unset env var: %v", err)
					}
				}()
			}

			if tt.wantPanic {
				defer func() {
					if r := recover(); r == nil {
						t.Errorf("requireEnv() should have panicked")
					}
				}()
			}

			result := requireEnv(tt.key)
			if !tt.wantPanic && result != tt.value {
				t.Errorf("requireEnv() = %v, want %v", result, tt.value)
			}
		})
	}
}

func TestMustDuration(t *testing.T) {
	tests := []struct {
		name     string
		key      string
		value    string
		def      time.Duration
		expected time.Duration
	}{
		{
			name:     "valid duration",
			key:      "TEST_DURATION",
			value:    "5s",
			def:      1 * time.Second,
			expected: 5 * time.Second,
		},
		{
			name:     "invalid duration uses default",
			key:      "TEST_DURATION_INVALID",
			value:    "invalid",
			def:      10 * time.Second,
			expected: 10 * time.Second,
		},
		{
			name:     "missing variable uses default",
			key:      "TEST_DURATION_MISSING",
			value:    "",
			def:      15 * time.Second,
			expected: 15 * time.Second,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.value != "" {
				if err := os.Setenv(tt.key, tt.value); err != nil {
					t.Fatalf("failed to set env var: %v", err)
				}
				defer func() {
					if err := os.Unsetenv(tt.key); err != nil {
						t.Errorf("failed to unset env var: %v", err)
					}
				}()
			}

			result := mustDuration(tt.key, tt.def)
			if result != tt.expected {
				t.Errorf("mustDuration() = %v, want %v", result, tt.expected)
			}
		})
	}
}

func TestMustBool(t *testing.T) {
	tests := []struct {
		name     string
		key      string
		value    string
		def      bool
		expected bool
	}{
		{
			name:     "true value",
			key:      "TEST_BOOL",
			value:    "true",
			def:      false,
			expected: true,
		},
		{
			name:     "false value",
			key:      "TEST_BOOL_FALSE",
			value:    "false",
			def:      true,
			expected: false,
		},
		{
			name:     "invalid value uses default",
			key:      "TEST_BOOL_INVALID",
			value:    "invalid",
			def:      true,
			expected: true,
		},
		{
			name:     "missing variable uses default",
			key:      "TEST_BOOL_MISSING",
			value:    "",
			def:      false,
			expected: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.value != "" {
				if err := os.Setenv(tt.key, tt.value); err != nil {
					t.Fatalf("failed to set env var: %v", err)
				}
				defer func() {
					if err := os.Unsetenv(tt.key); err != nil {
						t.Errorf("failed to unset env var: %v", err)
					}
				}()
			}

			result := mustBool(tt.key, tt.def)
			if result != tt.expected {
				t.Errorf("mustBool() = %v, want %v", result, tt.expected)
			}
		})
	}
}

func TestSplitAndTrim(t *testing.T) {
	tests := []struct {
		name     string
		in       string
		expected []string
	}{
		{name: "empty", in: "", expected: nil},
		{name: "single", in: "10.0.0.0/8", expected: []string{"10.0.0.0/8"}},
		{name: "spaces and quotes", in: ` "a", 'b' ,c,, `, expected: []string{"a", "b", "c"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := splitAndTrim(tt.in)
			if len(result) != len(tt.expected) {
				t.Fatalf("splitAndTrim() = %v, want %v", result, tt.expected)
			}
			for i := range result {
				if result[i] != tt.expected[i] {
					t.Errorf("splitAndTrim()[%d] = %v, want %v", i, result[i], tt.expected[i])
				}
			}
		})
	}
}

func setRequired(t *testing.T) {
	t.Helper()
	t.Setenv("RELAY_STREAM_KEY", "live-key")
	t.Setenv("STORAGE_BUCKET", "media")
	t.Setenv("STORAGE_ACCESS_KEY_ID", "AKIA")
	t.Setenv("STORAGE_SECRET_ACCESS_KEY", "secret")
}

func TestLoadDefaults(t *testing.T) {
	setRequired(t)

	cfg := Load()
	if cfg.StateBackend != "file" || cfg.DataDir != "/var/lib/relay" {
		t.Errorf("backend = %s dir = %s", cfg.StateBackend, cfg.DataDir)
	}
	if cfg.HealthInterval != 30*time.Second || cfg.StopTimeout != 10*time.Second || cfg.StopPoll != time.Second {
		t.Errorf("supervision timings = %v %v %v", cfg.HealthInterval, cfg.StopTimeout, cfg.StopPoll)
	}
	if cfg.OrphanStopTimeout != 5*time.Second {
		t.Errorf("OrphanStopTimeout = %v", cfg.OrphanStopTimeout)
	}
	if cfg.StorageProvider != "cloudflare" || cfg.StorageURLExpiry != 24*time.Hour {
		t.Errorf("storage = %s %v", cfg.StorageProvider, cfg.StorageURLExpiry)
	}
	if cfg.EncoderPath != "ffmpeg" || cfg.EncoderVideoBitrate != "3000k" {
		t.Errorf("encoder = %s %s", cfg.EncoderPath, cfg.EncoderVideoBitrate)
	}
	if len(cfg.CORSOrigins) != 1 || cfg.CORSOrigins[0] != "*" {
		t.Errorf("CORSOrigins = %v", cfg.CORSOrigins)
	}
	if cfg.MaxUploadMB != 4096 || cfg.UploadTimeout != 30*time.Minute {
		t.Errorf("upload limits = %d MiB %v", cfg.MaxUploadMB, cfg.UploadTimeout)
	}
}

func TestLoadPanics(t *testing.T) {
	tests := []struct {
		name string
		env  map[string]string
	}{
		{name: "redis backend without address", env: map[string]string{"RELAY_STATE_BACKEND": "redis"}},
		{name: "unknown backend", env: map[string]string{"RELAY_STATE_BACKEND": "sqlite"}},
		{name: "missing stream key", env: map[string]string{"RELAY_STREAM_KEY": ""}},
		{name: "non-positive upload cap", env: map[string]string{"RELAY_MAX_UPLOAD_MB": "-1"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			setRequired(t)
			for k, v := range tt.env {
				t.Setenv(k, v)
			}
			defer func() {
				if r := recover(); r == nil {
					t.Errorf("Load() should have panicked")
				}
			}()
			Load()
		})
	}
}

func TestRedacted(t *testing.T) {
	cfg := Config{StreamKey: "live-key", StorageSecretKey: "s3", APIToken: "tok", RTMPURL: "rtmp://x"}
	r := cfg.Redacted()
	if r.StreamKey == "live-key" || r.StorageSecretKey == "s3" || r.APIToken == "tok" {
		t.Errorf("secrets leaked: %+v", r)
	}
	if r.EncryptionKey != "" || r.RTMPURL != "rtmp://x" {
		t.Errorf("unexpected redaction: %+v", r)
	}
	if cfg.StreamKey != "live-key" {
		t.Error("Redacted mutated the receiver")
	}
}

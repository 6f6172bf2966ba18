package config

import (
	"fmt"
	"log"
	"os"
	"strconv"
	"strings"
	"time"
)

type Config struct {
	ListenPort      string        // ex: ":8080"
	ShutdownTimeout time.Duration // ex: 15s

	LogLevel  string // "debug" | "info" | "warn" | "error"
	PrettyLog bool   // true => zap dev (color), false => zap prod (JSON)

	// Persistence
	DataDir       string // directory holding stream_state.json and stream_config.json
	StateBackend  string // "file" | "redis"
	StreamFile    string // optional YAML seed for the stream config
	EncryptionKey string // key material for sealing a persisted stream key (optional)

	// Stream defaults
	RTMPURL   string // default ingest URL
	StreamKey string // destination secret, never persisted in clear

	// Encoder and supervision
	EncoderPath         string        // encoder executable (default: ffmpeg)
	EncoderVideoBitrate string        // transcode path bitrate (ex: 3000k)
	HealthInterval      time.Duration // liveness poll while running (default: 30s)
	StopTimeout         time.Duration // graceful stop ceiling before SIGKILL (default: 10s)
	StopPoll            time.Duration // liveness poll during graceful stop (default: 1s)
	OrphanStopTimeout   time.Duration // graceful stop ceiling for orphans at boot (default: 5s)
	ScheduleInterval    time.Duration // daily schedule evaluation interval (default: 60s)

	// Object storage
	StorageProvider  string        // cloudflare | aws | gcs | minio
	StorageBucket    string        // bucket name
	StorageAccessKey string        // access key id
	StorageSecretKey string        // secret access key
	StorageRegion    string        // ex: auto
	StorageEndpoint  string        // custom endpoint (required for cloudflare and minio)
	StorageURLExpiry time.Duration // presigned URL lifetime (default: 24h)
	MaxUploadMB      int           // largest accepted media upload, in MiB
	UploadTimeout    time.Duration // deadline for one media upload

	// Redis (only when StateBackend == "redis")
	RedisAddr           string        // ex: "localhost:6379"
	RedisUser           string        // optional
	RedisPassword       string        // optional
	RedisDB             int           // Redis DB number
	RedisDT             time.Duration // Redis dial timeout (ex: 5s)
	RedisRT             time.Duration // Redis read timeout (ex: 3s)
	RedisWT             time.Duration // Redis write timeout (ex: 3s)
	RedisMaxWait        time.Duration // max wait between retries (ex: 10s)
	RedisPingTimeout    time.Duration // timeout for each ping attempt (ex: 5s)
	RedisPoolSize       int           // Redis connection pool size
	RedisConnectTimeout time.Duration // Total time to retry connecting (ex: 30s)
	RedisRetryInterval  time.Duration // Initial wait between retries (ex: 2s, grows exponentially)
	RedisWarnThreshold  int           // warn after this many attempts

	// Access restrictions
	APIToken     string   // bearer token for control routes (empty = open)
	AllowedHosts []string // optional, restrict access to specific Host headers
	AllowedCIDRS []string // optional, restrict access to specific IP (e.g. "1.2.3.4, 5.6.7.8")
	TrustProxy   bool     // true => trust X-Forwarded-For headers (e.g. cloudflared)
	CORSOrigins  []string // allowed CORS origins
}

func Load() *Config {
	cfg := &Config{
		// Server settings
		ListenPort:      getenv("RELAY_LISTEN_PORT", ":8080"),
		ShutdownTimeout: mustDuration("RELAY_SHUTDOWN_TIMEOUT", 15*time.Second),

		// Logging
		LogLevel:  getenv("RELAY_LOG_LEVEL", "info"),
		PrettyLog: mustBool("RELAY_PRETTY_LOG", true),

		// Persistence
		DataDir:       getenv("RELAY_DATA_DIR", "/var/lib/relay"),
		StateBackend:  strings.ToLower(getenv("RELAY_STATE_BACKEND", "file")),
		StreamFile:    getenv("RELAY_STREAM_FILE", ""),
		EncryptionKey: getenv("RELAY_ENCRYPTION_KEY", ""),

		// Stream defaults
		RTMPURL:   getenv("RELAY_RTMP_URL", "rtmp://a.rtmp.youtube.com/live2"),
		StreamKey: requireEnv("RELAY_STREAM_KEY"),

		// Encoder and supervision
		EncoderPath:         getenv("RELAY_ENCODER_PATH", "ffmpeg"),
		EncoderVideoBitrate: getenv("RELAY_ENCODER_VIDEO_BITRATE", "3000k"),
		HealthInterval:      mustDuration("RELAY_HEALTH_INTERVAL", 30*time.Second),
		StopTimeout:         mustDuration("RELAY_STOP_TIMEOUT", 10*time.Second),
		StopPoll:            mustDuration("RELAY_STOP_POLL", time.Second),
		OrphanStopTimeout:   mustDuration("RELAY_ORPHAN_STOP_TIMEOUT", 5*time.Second),
		ScheduleInterval:    mustDuration("RELAY_SCHEDULE_INTERVAL", time.Minute),

		// Object storage
		StorageProvider:  strings.ToLower(getenv("STORAGE_PROVIDER", "cloudflare")),
		StorageBucket:    requireEnv("STORAGE_BUCKET"),
		StorageAccessKey: requireEnv("STORAGE_ACCESS_KEY_ID"),
		StorageSecretKey: requireEnv("STORAGE_SECRET_ACCESS_KEY"),
		StorageRegion:    getenv("STORAGE_REGION", "auto"),
		StorageEndpoint:  getenv("STORAGE_ENDPOINT", ""),
		StorageURLExpiry: mustDuration("STORAGE_URL_EXPIRY", 24*time.Hour),
		MaxUploadMB:      getenvInt("RELAY_MAX_UPLOAD_MB", 4096),
		UploadTimeout:    mustDuration("RELAY_UPLOAD_TIMEOUT", 30*time.Minute),

		// Redis settings
		RedisAddr:           getenv("RELAY_REDIS_ADDR", ""),
		RedisUser:           getenv("RELAY_REDIS_USERNAME", ""),
		RedisPassword:       getenv("RELAY_REDIS_PASSWORD", ""),
		RedisDB:             getenvInt("RELAY_REDIS_DB", 0),
		RedisDT:             mustDuration("REDIS_DIAL_TIMEOUT", 5*time.Second),
		RedisRT:             mustDuration("REDIS_READ_TIMEOUT", 3*time.Second),
		RedisWT:             mustDuration("REDIS_WRITE_TIMEOUT", 3*time.Second),
		RedisMaxWait:        mustDuration("REDIS_MAX_WAIT", 10*time.Second),
		RedisPingTimeout:    mustDuration("REDIS_PING_TIMEOUT", 5*time.Second),
		RedisPoolSize:       getenvInt("REDIS_POOL_SIZE", 10),
		RedisConnectTimeout: mustDuration("REDIS_CONNECT_TIMEOUT", 30*time.Second),
		RedisRetryInterval:  mustDuration("REDIS_RETRY_INTERVAL", 2*time.Second),
		RedisWarnThreshold:  getenvInt("REDIS_WARN_THRESHOLD", 3),

		// Access restrictions
		APIToken:     getenv("RELAY_API_TOKEN", ""),
		AllowedHosts: splitAndTrim(getenv("RELAY_ALLOWED_HOSTS", "")),
		AllowedCIDRS: parseAllowedIPs(getenv("RELAY_ALLOWED_CIDRS", "")),
		TrustProxy:   mustBool("RELAY_TRUST_PROXY", true),
		CORSOrigins:  splitAndTrim(getenv("RELAY_CORS_ORIGINS", "*")),
	}

	if cfg.MaxUploadMB <= 0 {
		panic(fmt.Sprintf("❌ FATAL: RELAY_MAX_UPLOAD_MB must be positive, got %d", cfg.MaxUploadMB))
	}

	switch cfg.StateBackend {
	case "file":
	case "redis":
		if cfg.RedisAddr == "" {
			panic("❌ FATAL: RELAY_REDIS_ADDR is required when RELAY_STATE_BACKEND=redis")
		}
	default:
		panic(fmt.Sprintf("❌ FATAL: Invalid RELAY_STATE_BACKEND %q (want file or redis)", cfg.StateBackend))
	}

	// Log config only in debug mode with redacted sensitive fields
	if cfg.LogLevel == "debug" {
		log.Printf("[DEBUG] cfg: %+v\n", cfg.Redacted())
	}

	return cfg
}

// Redacted returns a copy safe to log.
func (c Config) Redacted() Config {
	const hidden = "***REDACTED***"
	out := c
	for _, p := range []*string{&out.StreamKey, &out.EncryptionKey, &out.StorageSecretKey, &out.RedisPassword, &out.APIToken} {
		if *p != "" {
			*p = hidden
		}
	}
	if out.RedisUser != "" {
		out.RedisUser = hidden
	}
	return out
}

// helpers
func getenv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func requireEnv(key string) string {
	v := os.Getenv(key)
	if v == "" {
		panic(fmt.Sprintf("❌ FATAL: Required environment variable %s is not set", key))
	}
	return v
}

func getenvInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return def
}

func mustBool(key string, def bool) bool {
	if v := os.Getenv(key); v != "" {
		b, err := strconv.ParseBool(v)
		if err == nil {
			return b
		}
	}
	return def
}

func mustDuration(key string, def time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return def
}

func parseAllowedIPs(allowed string) []string {
	if allowed == "" {
		return nil
	}
	ips := make([]string, 0, 4)
	for _, ip := range splitAndTrim(allowed) {
		if ip != "" {
			ips = append(ips, ip)
		}
	}
	return ips
}

func splitAndTrim(s string) []string {
	if s == "" {
		return nil
	}
	raw := strings.Split(s, ",")
	parts := make([]string, 0, len(raw))
	for _, part := range raw {
		trimmed := strings.TrimSpace(part)
		// Remove surrounding quotes if present
		trimmed = strings.Trim(trimmed, `"'`)
		if trimmed != "" {
			parts = append(parts, trimmed)
		}
	}
	return parts
}

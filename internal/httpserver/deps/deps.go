package deps

import (
	"context"
	"io"
	"time"

	"github.com/MrSnakeDoc/relay/internal/domain"
	"github.com/MrSnakeDoc/relay/internal/logger"
	"github.com/MrSnakeDoc/relay/internal/storage"
	"github.com/MrSnakeDoc/relay/internal/supervisor"
)

// StreamController is the supervisor surface the API drives.
type StreamController interface {
	Status() supervisor.Snapshot
	RequestStart(ctx context.Context, override *domain.StreamConfig) (supervisor.Snapshot, error)
	RequestStop(ctx context.Context) (supervisor.Snapshot, error)
	Config(ctx context.Context) (domain.StreamConfig, error)
	ReplaceConfig(ctx context.Context, cfg domain.StreamConfig) (domain.StreamConfig, error)
}

// MediaStore lists and uploads streamable objects in the media bucket.
type MediaStore interface {
	List(ctx context.Context, prefix string) ([]storage.MediaFile, error)
	Upload(ctx context.Context, key string, body io.Reader, contentType string) (storage.MediaFile, error)
}

// Pinger reports whether the state backend is reachable.
type Pinger interface {
	Ping(ctx context.Context) error
	Name() string
}

type Deps struct {
	Logger          logger.Logger
	StartTime       time.Time
	Version         string
	Commit          string
	BuildDate       string
	GoVersion       string
	TimeNow         func() time.Time // for testing, defaults to time.Now
	AllowedHosts    []string         // Host headers allowed to access the server
	AllowedCIDRS    []string         // IPs allowed to access control and probe endpoints
	TrustProxy      bool             // true if running behind a trusted reverse proxy (e.g., cloudflared)
	APIToken        string           // bearer token for control routes (empty = open)
	CORSOrigins     []string         // allowed CORS origins
	Stream          StreamController // stream supervisor
	Media           MediaStore       // media bucket (nil = storage routes disabled)
	MaxUploadBytes  int64            // upload body cap
	UploadTimeout   time.Duration    // deadline for one upload
	Store           Pinger           // state backend
	Ready           func() bool      // true once boot reconciliation finished
	ScheduleTrigger chan struct{}    // re-evaluate the daily schedule (nil = schedule disabled)
}

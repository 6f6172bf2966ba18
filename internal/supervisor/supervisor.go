// Package supervisor owns the stream lifecycle: it launches the encoder,
// watches it, restarts it under backoff, advances playlists and stops it
// gracefully. Every transition is serialised and persisted before callers
// are answered.
package supervisor

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/MrSnakeDoc/relay/internal/backoff"
	"github.com/MrSnakeDoc/relay/internal/domain"
	"github.com/MrSnakeDoc/relay/internal/encoder"
	"github.com/MrSnakeDoc/relay/internal/logger"
	"github.com/MrSnakeDoc/relay/internal/metrics"
	"github.com/MrSnakeDoc/relay/internal/process"
	"github.com/MrSnakeDoc/relay/internal/store"
)

// Resolver turns a media key into a URL the encoder can read.
type Resolver interface {
	Resolve(ctx context.Context, key string) (string, error)
}

// Sleeper waits for d or until ctx ends.
type Sleeper interface {
	Sleep(ctx context.Context, d time.Duration) error
}

type timerSleeper struct{}

func (timerSleeper) Sleep(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Options are the supervisor's tunables.
type Options struct {
	Encoder          encoder.Options
	DefaultRTMPURL   string
	DefaultStreamKey string
	HealthInterval   time.Duration
	StopTimeout      time.Duration
	StopPoll         time.Duration
	// StableAfter is how long a child must stay up before its crash no
	// longer counts as consecutive with the previous ones.
	StableAfter time.Duration
	Backoff     backoff.Policy
}

func (o *Options) defaults() {
	if o.HealthInterval <= 0 {
		o.HealthInterval = 30 * time.Second
	}
	if o.StopTimeout <= 0 {
		o.StopTimeout = 10 * time.Second
	}
	if o.StopPoll <= 0 {
		o.StopPoll = time.Second
	}
	if o.StableAfter <= 0 {
		o.StableAfter = 10 * time.Minute
	}
	if len(o.Backoff.Delays) == 0 {
		o.Backoff = backoff.Default()
	}
}

// Dependencies are the collaborators the supervisor drives.
type Dependencies struct {
	Store    store.Store
	Resolver Resolver
	Launcher process.Launcher
	Sleeper  Sleeper
	Monitor  *encoder.Monitor
	Log      logger.Logger
	Now      func() time.Time
	// OnTransition, when set, runs synchronously on every phase change.
	OnTransition func(from, to domain.Phase)
}

// Snapshot is the externally visible status. It is a copy; mutating it has
// no effect on the supervisor.
type Snapshot struct {
	domain.StreamState
	Phase           domain.Phase            `json:"phase"`
	Connection      encoder.ConnectionState `json:"connection"`
	ConnectionError string                  `json:"connection_error,omitempty"`
	UptimeSeconds   int64                   `json:"uptime_seconds"`
	RTMPURL         string                  `json:"rtmp_url,omitempty"`
	PlaylistLength  int                     `json:"playlist_length,omitempty"`
	// ScheduledRun is the window date when the scheduler started this run.
	ScheduledRun string `json:"scheduled_run,omitempty"`
}

type Supervisor struct {
	deps Dependencies
	opts Options
	log  logger.Logger

	// sem is the transition lock. A channel so waiters can give up with
	// their context.
	sem chan struct{}

	// Guarded by sem.
	state        domain.StreamState
	phase        domain.Phase
	cfg          domain.StreamConfig
	proc         process.Process
	gen          uint64
	runCtx       context.Context
	cancelRun    context.CancelFunc
	scheduledRun string
	closed       bool

	viewMu sync.RWMutex
	view   Snapshot

	wg sync.WaitGroup
}

func New(deps Dependencies, opts Options) *Supervisor {
	opts.defaults()
	if deps.Sleeper == nil {
		deps.Sleeper = timerSleeper{}
	}
	if deps.Monitor == nil {
		deps.Monitor = encoder.NewMonitor()
	}
	if deps.Now == nil {
		deps.Now = time.Now
	}
	if deps.Log == nil {
		deps.Log = logger.Nop()
	}

	runCtx, cancel := context.WithCancel(context.Background())
	cancel()

	s := &Supervisor{
		deps:      deps,
		opts:      opts,
		log:       deps.Log,
		sem:       make(chan struct{}, 1),
		state:     domain.InitialState(),
		phase:     domain.PhaseStopped,
		runCtx:    runCtx,
		cancelRun: cancel,
	}
	s.publish()
	return s
}

// Restore seeds the supervisor with the reconciled record. It must run
// before any request is served. A retry that was pending when the previous
// controller died is never resumed, so the record is rewritten as given up.
func (s *Supervisor) Restore(st domain.StreamState) {
	s.sem <- struct{}{}
	defer s.unlock()

	ctx := context.Background()
	st.ProcessID = nil
	if st.Status == domain.StatusRunning {
		st.Status = domain.StatusStopped
	}
	abandoned := st.AbandonRetry()
	s.state = st
	if st.Status == domain.StatusError {
		s.phase = domain.PhaseError
	} else {
		s.phase = domain.PhaseStopped
	}
	if cfg, err := s.deps.Store.LoadConfig(ctx); err == nil {
		s.cfg = cfg
	}
	if abandoned {
		s.log.Warn("pending retry abandoned by controller restart",
			logger.Int("retry_count", st.RetryCount))
		_ = s.persist(ctx, "restore")
		return
	}
	s.publish()
}

func (s *Supervisor) lock(ctx context.Context) error {
	select {
	case s.sem <- struct{}{}:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *Supervisor) unlock() { <-s.sem }

func (s *Supervisor) lockRequest(ctx context.Context, op string) error {
	if err := s.lock(ctx); err != nil {
		return &domain.Error{Kind: domain.KindBusy, Op: op, Message: "another transition is in progress", Err: err}
	}
	return nil
}

// Status never blocks on a transition in progress.
func (s *Supervisor) Status() Snapshot {
	s.viewMu.RLock()
	v := s.view
	s.viewMu.RUnlock()

	v.StreamState = v.StreamState.Clone()
	v.Connection, v.ConnectionError = s.deps.Monitor.State()
	v.UptimeSeconds = v.StreamState.UptimeSeconds(s.deps.Now())
	return v
}

// publish refreshes the lock-free view. Caller holds sem.
func (s *Supervisor) publish() {
	v := Snapshot{
		StreamState:  s.state.Clone(),
		Phase:        s.phase,
		RTMPURL:      s.cfg.RTMPURL,
		ScheduledRun: s.scheduledRun,
	}
	if s.cfg.IsPlaylist() {
		v.PlaylistLength = len(s.cfg.Playlist)
	}
	s.viewMu.Lock()
	s.view = v
	s.viewMu.Unlock()
	metrics.SetStatus(s.state.Status)
}

func (s *Supervisor) setPhase(to domain.Phase) {
	from := s.phase
	if from == to {
		return
	}
	s.phase = to
	metrics.RecordTransition(from, to)
	s.log.Info("stream transition",
		logger.String("from", string(from)),
		logger.String("to", string(to)),
		logger.Int("retry_count", s.state.RetryCount))
	if s.deps.OnTransition != nil {
		s.deps.OnTransition(from, to)
	}
}

// persist saves the record, then publishes it. Caller holds sem.
func (s *Supervisor) persist(ctx context.Context, op string) error {
	if err := s.deps.Store.SaveState(ctx, s.state); err != nil {
		s.log.Error("failed to persist stream state", logger.String("op", op), logger.Error(err))
		s.publish()
		return &domain.Error{Kind: domain.KindPersistence, Op: op, Message: "failed to persist stream state", Err: err}
	}
	s.publish()
	return nil
}

func (s *Supervisor) conflict(op string) error {
	return &domain.Error{
		Kind:    domain.KindConflict,
		Op:      op,
		Message: fmt.Sprintf("stream is %s", s.phase),
		Current: s.state.Status,
	}
}

func (s *Supervisor) streamKey(cfg domain.StreamConfig) string {
	if cfg.StreamKey != "" {
		return cfg.StreamKey
	}
	return s.opts.DefaultStreamKey
}

// loadConfig returns the stored config, or the installation defaults.
func (s *Supervisor) loadConfig(ctx context.Context) (domain.StreamConfig, bool, error) {
	cfg, err := s.deps.Store.LoadConfig(ctx)
	if errors.Is(err, store.ErrNotFound) {
		d := domain.StreamConfig{RTMPURL: s.opts.DefaultRTMPURL}
		d.Normalize()
		return d, false, nil
	}
	if err != nil {
		return cfg, false, &domain.Error{Kind: domain.KindPersistence, Op: "load_config", Message: "failed to load stream config", Err: err}
	}
	return cfg, true, nil
}

func (s *Supervisor) background(fn func()) {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		fn()
	}()
}

package supervisor

import (
	"context"
	"fmt"
	"time"

	"github.com/MrSnakeDoc/relay/internal/domain"
	"github.com/MrSnakeDoc/relay/internal/logger"
	"github.com/MrSnakeDoc/relay/internal/metrics"
	"github.com/MrSnakeDoc/relay/internal/process"
)

// RequestStart starts streaming. A non-nil override is validated and stored
// as the new configuration first; otherwise the stored configuration is used.
// Starting while a stream is active is refused with KindConflict and leaves
// everything untouched.
func (s *Supervisor) RequestStart(ctx context.Context, override *domain.StreamConfig) (Snapshot, error) {
	return s.start(ctx, override, "")
}

// StartScheduled is RequestStart on behalf of the daily schedule for the
// window beginning on windowDate.
func (s *Supervisor) StartScheduled(ctx context.Context, windowDate string) (Snapshot, error) {
	return s.start(ctx, nil, windowDate)
}

func (s *Supervisor) start(ctx context.Context, override *domain.StreamConfig, windowDate string) (Snapshot, error) {
	const op = "start"
	if err := s.lockRequest(ctx, op); err != nil {
		return s.Status(), err
	}
	defer s.unlock()

	if s.closed {
		return s.Status(), &domain.Error{Kind: domain.KindBusy, Op: op, Message: "supervisor is shutting down"}
	}
	if s.phase.Active() {
		return s.Status(), s.conflict(op)
	}

	cfg, err := s.prepareConfig(ctx, op, override)
	if err != nil {
		return s.Status(), err
	}

	s.cfg = cfg
	s.cancelRun()
	s.gen++
	s.runCtx, s.cancelRun = context.WithCancel(context.Background())

	if err := s.launch(ctx, 0, 0); err != nil {
		s.cancelRun()
		return s.Status(), err
	}

	s.scheduledRun = windowDate
	if windowDate != "" {
		s.state.LastScheduledStart = windowDate
		if err := s.persist(ctx, op); err != nil {
			return s.Status(), err
		}
	}
	s.log.Info("stream started",
		logger.String("media_key", s.state.CurrentMediaKey),
		logger.Int("pid", *s.state.ProcessID),
		logger.Bool("scheduled", windowDate != ""))
	return s.Status(), nil
}

func (s *Supervisor) prepareConfig(ctx context.Context, op string, override *domain.StreamConfig) (domain.StreamConfig, error) {
	var cfg domain.StreamConfig
	if override != nil {
		stored, _, err := s.loadConfig(ctx)
		if err != nil {
			return cfg, err
		}
		cfg = *override
		cfg.Normalize()
		if cfg.StreamKey == "" {
			cfg.StreamKey = stored.StreamKey
		}
	} else {
		stored, found, err := s.loadConfig(ctx)
		if err != nil {
			return cfg, err
		}
		if !found {
			return cfg, &domain.Error{Kind: domain.KindInvalidConfig, Op: op, Message: "no stream configuration stored"}
		}
		cfg = stored
		cfg.Normalize()
	}

	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	if s.streamKey(cfg) == "" {
		return cfg, &domain.Error{Kind: domain.KindInvalidConfig, Op: op, Message: "no stream key configured"}
	}

	if override != nil {
		if err := s.saveConfig(ctx, op, cfg); err != nil {
			return cfg, err
		}
	}
	return cfg, nil
}

// launch resolves and spawns entry index of the active config. On failure
// the phase and record are left as they were. Caller holds sem.
func (s *Supervisor) launch(ctx context.Context, index, retryCount int) error {
	const op = "launch"
	key := s.cfg.EntryAt(index)
	prev := s.phase

	s.setPhase(domain.PhaseStarting)
	s.publish()

	url, err := s.deps.Resolver.Resolve(ctx, key)
	if err != nil {
		s.setPhase(prev)
		s.publish()
		s.log.Warn("media resolution failed", logger.String("media_key", key), logger.Error(err))
		return &domain.Error{Kind: domain.KindResolution, Op: op, Message: fmt.Sprintf("cannot resolve %q", key), Err: err}
	}

	spec := s.opts.Encoder.Command(url, key, s.cfg.RTMPURL, s.streamKey(s.cfg), s.deps.Monitor.Observe)
	s.deps.Monitor.Reset()

	proc, err := s.deps.Launcher.Spawn(ctx, spec)
	if err != nil {
		s.setPhase(prev)
		s.publish()
		s.log.Error("encoder spawn failed", logger.String("media_key", key), logger.Error(err))
		return &domain.Error{Kind: domain.KindSpawn, Op: op, Message: "cannot launch encoder", Err: err}
	}

	prevState := s.state
	now := s.deps.Now()
	s.state = domain.StreamState{
		Status:               domain.StatusRunning,
		ProcessID:            domain.Ptr(proc.PID()),
		StartedAt:            &now,
		LastHealthCheck:      &now,
		RetryCount:           retryCount,
		CurrentMediaKey:      key,
		PlaylistIndex:        index,
		Executable:           spec.Path,
		LastScheduledStart:   prevState.LastScheduledStart,
		ScheduleSuppressedOn: prevState.ScheduleSuppressedOn,
	}

	if err := s.persist(ctx, op); err != nil {
		// A child we cannot record must not outlive the request.
		_, _ = process.GracefulStop(context.Background(), proc, s.stopOptions())
		s.state = prevState
		s.setPhase(prev)
		s.publish()
		return err
	}

	s.proc = proc
	s.setPhase(domain.PhaseRunning)
	s.publish()

	gen, runCtx := s.gen, s.runCtx
	s.background(func() { s.watch(runCtx, gen, proc) })
	return nil
}

func (s *Supervisor) stopOptions() process.StopOptions {
	return process.StopOptions{Timeout: s.opts.StopTimeout, Poll: s.opts.StopPoll}
}

// RequestStop gracefully stops the active stream. With nothing active it
// returns KindNotRunning without touching the record. A manual stop inside
// today's schedule window suppresses that window's automatic start.
func (s *Supervisor) RequestStop(ctx context.Context) (Snapshot, error) {
	return s.stop(ctx, "operator", true)
}

// StopScheduled ends a run because its schedule window closed.
func (s *Supervisor) StopScheduled(ctx context.Context) (Snapshot, error) {
	return s.stop(ctx, "schedule", false)
}

func (s *Supervisor) stop(ctx context.Context, reason string, suppress bool) (Snapshot, error) {
	const op = "stop"
	if err := s.lockRequest(ctx, op); err != nil {
		return s.Status(), err
	}
	defer s.unlock()

	if !s.phase.Active() {
		return s.Status(), &domain.Error{
			Kind:    domain.KindNotRunning,
			Op:      op,
			Message: "nothing to stop",
			Current: s.state.Status,
		}
	}

	err := s.stopLocked(ctx, reason, suppress)
	return s.Status(), err
}

// stopLocked runs the graceful stop and records Stopped. Caller holds sem.
func (s *Supervisor) stopLocked(ctx context.Context, reason string, suppress bool) error {
	s.setPhase(domain.PhaseStopping)
	s.publish()

	s.gen++
	s.cancelRun()

	if proc := s.proc; proc != nil {
		s.proc = nil
		res, err := process.GracefulStop(context.Background(), proc, s.stopOptions())
		fields := []logger.Field{
			logger.String("reason", reason),
			logger.Int("pid", proc.PID()),
			logger.Bool("killed", res.Killed),
			logger.Duration("elapsed", res.Elapsed),
		}
		if err != nil {
			s.log.Error("encoder did not stop cleanly", append(fields, logger.Error(err))...)
		} else {
			s.log.Info("encoder stopped", fields...)
		}
		metrics.EncoderExits.WithLabelValues("stopped").Inc()
	}

	now := s.deps.Now()
	s.state.Status = domain.StatusStopped
	s.state.ProcessID = nil
	s.state.ExitCode = nil
	s.state.ExitedAt = &now
	s.state.RetryCount = 0
	s.state.WillRetry = false
	s.state.ErrorMessage = ""
	s.scheduledRun = ""

	if suppress {
		if date, ok := s.insideWindow(ctx, now); ok {
			s.state.ScheduleSuppressedOn = date
			s.log.Info("scheduled start suppressed for current window", logger.String("window", date))
		}
	}

	s.setPhase(domain.PhaseStopped)
	return s.persist(ctx, "stop")
}

func (s *Supervisor) insideWindow(ctx context.Context, now time.Time) (string, bool) {
	cfg, found, err := s.loadConfig(ctx)
	if err != nil || !found || !cfg.Schedule.Enabled {
		return "", false
	}
	start, _, inside, err := cfg.Schedule.Window(now)
	if err != nil || !inside {
		return "", false
	}
	return domain.WindowDate(start), true
}

// Shutdown stops any active stream as an operator stop would, without
// schedule suppression, and refuses further starts.
func (s *Supervisor) Shutdown(ctx context.Context) error {
	s.sem <- struct{}{}
	s.closed = true
	var err error
	if s.phase.Active() {
		err = s.stopLocked(ctx, "shutdown", false)
	}
	s.cancelRun()
	s.unlock()

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		s.log.Warn("supervisor shutdown timed out waiting for workers")
	}
	return err
}

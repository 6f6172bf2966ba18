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

// watch follows one child until it exits or its run is cancelled.
func (s *Supervisor) watch(ctx context.Context, gen uint64, proc process.Process) {
	ticker := time.NewTicker(s.opts.HealthInterval)
	defer ticker.Stop()

	for {
		select {
		case <-proc.Done():
			s.onExit(ctx, gen, proc)
			return
		case <-ticker.C:
			if !s.healthCheck(ctx, gen, proc) {
				return
			}
		case <-ctx.Done():
			return
		}
	}
}

// current reports whether proc is still the child this run owns.
func (s *Supervisor) current(gen uint64, proc process.Process) bool {
	return s.gen == gen && s.proc == proc && s.phase == domain.PhaseRunning
}

func (s *Supervisor) healthCheck(ctx context.Context, gen uint64, proc process.Process) bool {
	if err := s.lock(ctx); err != nil {
		return false
	}
	defer s.unlock()

	if !s.current(gen, proc) {
		return false
	}

	if !proc.Alive() {
		code, ok := process.Wait(proc, time.Second)
		if !ok {
			code = domain.UnknownExitCode
		}
		s.log.Warn("health check found encoder dead", logger.Int("pid", proc.PID()))
		s.exitLocked(code)
		return false
	}

	now := s.deps.Now()
	s.state.LastHealthCheck = &now
	if s.state.RetryCount > 0 && s.state.StartedAt != nil && now.Sub(*s.state.StartedAt) >= s.opts.StableAfter {
		s.log.Info("encoder stable, retry counter reset", logger.Int("previous_retry_count", s.state.RetryCount))
		s.state.RetryCount = 0
	}
	_ = s.persist(ctx, "health")
	return true
}

func (s *Supervisor) onExit(ctx context.Context, gen uint64, proc process.Process) {
	if err := s.lock(ctx); err != nil {
		return
	}
	defer s.unlock()

	if !s.current(gen, proc) {
		return
	}
	s.exitLocked(proc.ExitCode())
}

// exitLocked handles an exit nobody asked for. Caller holds sem.
func (s *Supervisor) exitLocked(code int) {
	ctx := context.Background()
	now := s.deps.Now()
	s.proc = nil

	s.state.ProcessID = nil
	s.state.ExitedAt = &now

	if code == 0 {
		metrics.EncoderExits.WithLabelValues("clean").Inc()
		s.advance(ctx)
		return
	}

	metrics.EncoderExits.WithLabelValues("crash").Inc()
	msg := fmt.Sprintf("encoder exited with code %d", code)
	if _, detail := s.deps.Monitor.State(); detail != "" {
		msg += ": " + detail
	}
	s.state.ExitCode = domain.Ptr(code)
	s.fail(ctx, domain.KindRuntimeCrash, msg, s.retryIndex())
}

// advance moves to the next entry after a clean end of media, or stops when
// nothing is left. Caller holds sem.
func (s *Supervisor) advance(ctx context.Context) {
	next, reason, ok := s.nextEntry()
	s.state.Status = domain.StatusStopped
	s.state.ExitCode = nil
	s.state.RetryCount = 0
	s.state.WillRetry = false
	s.state.ErrorMessage = ""

	if !ok {
		s.log.Info("media finished, stream complete", logger.String("media_key", s.state.CurrentMediaKey))
		s.scheduledRun = ""
		s.setPhase(domain.PhaseStopped)
		_ = s.persist(ctx, "complete")
		s.cancelRun()
		return
	}

	delay := s.cfg.LoopDelay()
	s.log.Info("media finished, advancing",
		logger.String("finished", s.state.CurrentMediaKey),
		logger.String("next", s.cfg.EntryAt(next)),
		logger.String("reason", reason),
		logger.Duration("delay", delay))

	s.state.CurrentMediaKey = s.cfg.EntryAt(next)
	s.state.PlaylistIndex = next
	s.setPhase(domain.PhaseStarting)
	_ = s.persist(ctx, "advance")
	s.relaunchAfter(delay, next, 0, reason)
}

// nextEntry picks the entry after the current one. Caller holds sem.
func (s *Supervisor) nextEntry() (int, string, bool) {
	n := len(s.cfg.Entries())
	idx := s.state.PlaylistIndex
	if idx+1 < n {
		return idx + 1, "next_track", true
	}
	if s.cfg.Loop && n > 0 {
		return 0, "loop", true
	}
	return 0, "", false
}

// retryIndex is the entry a crash retry should play.
func (s *Supervisor) retryIndex() int {
	idx := s.state.PlaylistIndex
	if s.cfg.IsPlaylist() && s.cfg.OnTrackError == domain.SkipTrack {
		if next, _, ok := s.nextEntry(); ok {
			return next
		}
	}
	return idx
}

// fail records a failed run and either schedules a retry under backoff or
// parks in terminal Error. Caller holds sem.
func (s *Supervisor) fail(ctx context.Context, kind domain.ErrorKind, msg string, retryIdx int) {
	s.state.Status = domain.StatusError
	s.state.ProcessID = nil
	s.state.RetryCount++
	rc := s.state.RetryCount
	willRetry := s.opts.Backoff.Allowed(rc)
	s.state.WillRetry = willRetry
	s.state.ErrorMessage = msg

	var delay time.Duration
	if willRetry {
		delay = s.opts.Backoff.Next(rc - 1)
	}

	exitCode := domain.UnknownExitCode
	if s.state.ExitCode != nil {
		exitCode = *s.state.ExitCode
	}
	s.log.Error("stream failure",
		logger.String("type", string(kind)),
		logger.Int("exit_code", exitCode),
		logger.Int("retry_count", rc),
		logger.Bool("will_retry", willRetry),
		logger.Duration("delay", delay),
		logger.String("media_key", s.state.CurrentMediaKey),
		logger.String("error", msg))

	s.setPhase(domain.PhaseCrashed)
	_ = s.persist(ctx, "crash")

	if !willRetry {
		s.log.Error("retry limit reached, manual start required", logger.Int("retry_count", rc))
		s.scheduledRun = ""
		s.setPhase(domain.PhaseError)
		s.publish()
		s.cancelRun()
		return
	}

	s.log.Warn("restart scheduled", logger.Int("attempt", rc), logger.Duration("delay", delay))
	s.setPhase(domain.PhaseBackoff)
	s.publish()
	s.relaunchAfter(delay, retryIdx, rc, "retry")
}

// relaunchAfter waits delay on the current run, then launches entry index.
// A stop cancels the run and with it the wait. Caller holds sem.
func (s *Supervisor) relaunchAfter(delay time.Duration, index, retryCount int, reason string) {
	gen, ctx := s.gen, s.runCtx
	s.background(func() {
		if err := s.deps.Sleeper.Sleep(ctx, delay); err != nil {
			return
		}
		if err := s.lock(ctx); err != nil {
			return
		}
		defer s.unlock()
		if s.gen != gen || ctx.Err() != nil {
			return
		}

		metrics.StreamRestarts.WithLabelValues(reason).Inc()
		if err := s.launch(ctx, index, retryCount); err != nil {
			s.giveUp(domain.KindOf(err), err.Error())
		}
	})
}

// giveUp parks in terminal Error after an automatic relaunch could not
// resolve or spawn. Those failures are never retried. Caller holds sem.
func (s *Supervisor) giveUp(kind domain.ErrorKind, msg string) {
	now := s.deps.Now()
	s.state.Status = domain.StatusError
	s.state.ProcessID = nil
	s.state.ExitCode = domain.Ptr(domain.UnknownExitCode)
	s.state.ExitedAt = &now
	s.state.WillRetry = false
	s.state.ErrorMessage = msg
	s.scheduledRun = ""

	s.log.Error("stream failure",
		logger.String("type", string(kind)),
		logger.Int("retry_count", s.state.RetryCount),
		logger.Bool("will_retry", false),
		logger.String("media_key", s.state.CurrentMediaKey),
		logger.String("error", msg))

	s.setPhase(domain.PhaseError)
	_ = s.persist(context.Background(), "relaunch")
	s.cancelRun()
}

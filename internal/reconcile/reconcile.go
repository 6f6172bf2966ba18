// Package reconcile brings the persisted stream record back in line with the
// host's process table when the controller boots.
package reconcile

import (
	"context"
	"fmt"
	"time"

	"github.com/MrSnakeDoc/relay/internal/domain"
	"github.com/MrSnakeDoc/relay/internal/logger"
	"github.com/MrSnakeDoc/relay/internal/metrics"
	"github.com/MrSnakeDoc/relay/internal/process"
	"github.com/MrSnakeDoc/relay/internal/store"
)

// Outcome names what reconciliation found.
type Outcome string

const (
	// Clean means no running process was recorded.
	Clean Outcome = "clean"
	// Dead means the recorded process was gone.
	Dead Outcome = "dead"
	// Reused means the PID now belongs to an unrelated process.
	Reused Outcome = "reused"
	// Unverifiable means the PID is alive but could not be inspected.
	Unverifiable Outcome = "unverifiable"
	// Stopped means our orphan was found and stopped.
	Stopped Outcome = "stopped"
)

// Options bound the orphan stop.
type Options struct {
	StopTimeout time.Duration
	Poll        time.Duration
}

// SignatureFunc derives the identity a recorded child should have.
type SignatureFunc func(st domain.StreamState) process.Signature

type Reconciler struct {
	store     store.StateStore
	table     process.PIDTable
	signature SignatureFunc
	opts      Options
	log       logger.Logger
	now       func() time.Time
}

func New(st store.StateStore, table process.PIDTable, signature SignatureFunc, opts Options, log logger.Logger) *Reconciler {
	if opts.StopTimeout <= 0 {
		opts.StopTimeout = 5 * time.Second
	}
	if opts.Poll <= 0 {
		opts.Poll = time.Second
	}
	return &Reconciler{
		store:     st,
		table:     table,
		signature: signature,
		opts:      opts,
		log:       log,
		now:       time.Now,
	}
}

// Run loads the record, resolves any orphan and persists the result. The
// returned state never claims a running process. Signals are only ever sent
// to a PID whose identity matches the recorded encoder.
func (r *Reconciler) Run(ctx context.Context) (domain.StreamState, Outcome, error) {
	st, err := store.LoadStateOrInitial(ctx, r.store)
	if err != nil {
		return st, Clean, fmt.Errorf("load stream state: %w", err)
	}

	outcome, changed := r.resolve(ctx, &st)
	metrics.OrphansReconciled.WithLabelValues(string(outcome)).Inc()

	if changed {
		if err := r.store.SaveState(ctx, st); err != nil {
			return st, outcome, fmt.Errorf("persist reconciled state: %w", err)
		}
	}
	return st, outcome, nil
}

func (r *Reconciler) resolve(ctx context.Context, st *domain.StreamState) (Outcome, bool) {
	if st.Status != domain.StatusRunning || st.ProcessID == nil {
		if st.Status == domain.StatusError && st.WillRetry {
			r.log.Warn("pending retry abandoned by controller restart",
				logger.Int("retry_count", st.RetryCount))
			st.AbandonRetry()
			return Clean, true
		}
		if st.Status == domain.StatusRunning || st.ProcessID != nil {
			r.log.Warn("inconsistent stream record, resetting to stopped",
				logger.String("status", string(st.Status)))
			r.markStopped(st)
			return Clean, true
		}
		return Clean, false
	}

	pid := *st.ProcessID
	log := r.log.With(logger.Int("pid", pid))

	if !r.table.IsAlive(pid) {
		log.Warn("recorded encoder exited while the controller was down")
		r.markDead(st)
		return Dead, true
	}

	sig := r.signature(*st)
	if st.StartedAt != nil {
		sig.StartedAt = *st.StartedAt
	}

	id, err := r.table.Identify(ctx, pid)
	if err != nil {
		if !r.table.IsAlive(pid) {
			log.Warn("recorded encoder exited during reconciliation")
			r.markDead(st)
			return Dead, true
		}
		log.Warn("cannot inspect recorded pid, leaving it untouched", logger.Error(err))
		r.markStopped(st)
		return Unverifiable, true
	}

	if !sig.Matches(id) {
		log.Warn("process-identifier reuse detected",
			logger.Strings("cmdline", id.Cmdline),
			logger.String("expected_executable", sig.Executable))
		r.markStopped(st)
		return Reused, true
	}

	log.Info("stopping orphaned encoder", logger.Duration("timeout", r.opts.StopTimeout))
	res, err := process.GracefulStop(ctx, process.ByPID(r.table, pid), process.StopOptions{
		Timeout: r.opts.StopTimeout,
		Poll:    r.opts.Poll,
	})
	if err != nil {
		log.Error("failed to stop orphaned encoder", logger.Error(err))
	} else {
		log.Info("orphaned encoder stopped",
			logger.Bool("killed", res.Killed),
			logger.Duration("elapsed", res.Elapsed))
	}
	r.markStopped(st)
	return Stopped, true
}

func (r *Reconciler) markStopped(st *domain.StreamState) {
	now := r.now()
	st.Status = domain.StatusStopped
	st.ProcessID = nil
	st.ExitCode = nil
	st.ExitedAt = &now
	st.WillRetry = false
}

func (r *Reconciler) markDead(st *domain.StreamState) {
	now := r.now()
	st.Status = domain.StatusError
	st.ProcessID = nil
	st.ExitCode = domain.Ptr(domain.UnknownExitCode)
	st.ExitedAt = &now
	st.WillRetry = false
	st.ErrorMessage = "encoder exited unexpectedly while the controller was not running"
}

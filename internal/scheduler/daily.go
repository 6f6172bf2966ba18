package scheduler

import (
	"context"
	"time"

	"github.com/MrSnakeDoc/relay/internal/domain"
	"github.com/MrSnakeDoc/relay/internal/logger"
	"github.com/MrSnakeDoc/relay/internal/supervisor"
)

// Controller is the part of the supervisor the daily schedule drives.
type Controller interface {
	Status() supervisor.Snapshot
	Config(ctx context.Context) (domain.StreamConfig, error)
	StartScheduled(ctx context.Context, windowDate string) (supervisor.Snapshot, error)
	StopScheduled(ctx context.Context) (supervisor.Snapshot, error)
}

// Action is what one evaluation decided.
type Action string

const (
	ActionNone       Action = "none"
	ActionStarted    Action = "started"
	ActionStopped    Action = "stopped"
	ActionSuppressed Action = "suppressed"
	ActionFailed     Action = "failed"
)

// DailyScheduler starts the stream once per daily window and stops a run it
// started when that window closes.
type DailyScheduler struct {
	ctl           Controller
	logger        logger.Logger
	interval      time.Duration
	now           func() time.Time
	stopCh        chan struct{}
	manualTrigger chan struct{}
}

// NewDailyScheduler creates a scheduler evaluating every interval. Sends on
// manualTrigger force an evaluation, e.g. after the config changed.
func NewDailyScheduler(
	ctl Controller,
	log logger.Logger,
	interval time.Duration,
	manualTrigger chan struct{},
) *DailyScheduler {
	if interval <= 0 {
		interval = time.Minute
	}
	return &DailyScheduler{
		ctl:           ctl,
		logger:        log,
		interval:      interval,
		now:           time.Now,
		stopCh:        make(chan struct{}),
		manualTrigger: manualTrigger,
	}
}

// Start evaluates immediately, then on every tick.
func (ds *DailyScheduler) Start(ctx context.Context) error {
	ds.Evaluate(ctx)

	ticker := time.NewTicker(ds.interval)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				ds.Evaluate(ctx)
			case <-ds.manualTrigger:
				ds.logger.Debug("schedule re-evaluation triggered")
				ds.Evaluate(ctx)
			case <-ds.stopCh:
				return
			case <-ctx.Done():
				return
			}
		}
	}()

	return nil
}

// Stop stops the scheduler loop.
func (ds *DailyScheduler) Stop() {
	close(ds.stopCh)
}

// Evaluate applies the schedule to the current state once.
func (ds *DailyScheduler) Evaluate(ctx context.Context) Action {
	cfg, err := ds.ctl.Config(ctx)
	if err != nil {
		ds.logger.Warn("schedule: cannot read stream config", logger.Error(err))
		return ActionFailed
	}

	snap := ds.ctl.Status()
	if !cfg.Schedule.Enabled {
		return ActionNone
	}

	start, end, inside, err := cfg.Schedule.Window(ds.now())
	if err != nil {
		ds.logger.Error("schedule: invalid window", logger.Error(err))
		return ActionFailed
	}
	date := domain.WindowDate(start)

	// A run this scheduler started for an earlier window, or for a window
	// that has closed, ends here.
	if snap.ScheduledRun != "" && snap.Phase.Active() && (!inside || snap.ScheduledRun != date) {
		ds.logger.Info("schedule window closed, stopping stream",
			logger.String("window", snap.ScheduledRun),
			logger.Time("window_end", end))
		if _, err := ds.ctl.StopScheduled(ctx); err != nil {
			ds.logger.Error("schedule: stop failed", logger.Error(err))
			return ActionFailed
		}
		return ActionStopped
	}

	if !inside || snap.Phase.Active() || snap.LastScheduledStart == date {
		return ActionNone
	}
	if snap.ScheduleSuppressedOn == date {
		ds.logger.Debug("schedule: window suppressed by manual stop", logger.String("window", date))
		return ActionSuppressed
	}

	ds.logger.Info("schedule window open, starting stream",
		logger.String("window", date),
		logger.Time("window_end", end))
	if _, err := ds.ctl.StartScheduled(ctx, date); err != nil {
		if domain.IsKind(err, domain.KindConflict) || domain.IsKind(err, domain.KindBusy) {
			ds.logger.Debug("schedule: start deferred", logger.Error(err))
			return ActionNone
		}
		ds.logger.Error("schedule: start failed", logger.String("window", date), logger.Error(err))
		return ActionFailed
	}
	return ActionStarted
}

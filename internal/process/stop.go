package process

import (
	"context"
	"time"
)

// Stoppable is the part of a process the stop protocol needs.
type Stoppable interface {
	Alive() bool
	Terminate() error
	Kill() error
}

// StopOptions bound the cooperative phase of a graceful stop.
type StopOptions struct {
	Timeout time.Duration
	Poll    time.Duration
}

// StopResult describes how a graceful stop ended.
type StopResult struct {
	// Killed is true when the forceful signal had to be sent.
	Killed bool
	// AlreadyExited is true when the target was dead before any signal.
	AlreadyExited bool
	Elapsed       time.Duration
}

// killGrace is how long to wait for a forcefully killed process to be reaped.
const killGrace = 2 * time.Second

// GracefulStop sends the cooperative terminate signal, polls liveness every
// opts.Poll until opts.Timeout, then escalates to the forceful kill. If ctx
// ends first, it escalates immediately. Targets exposing Done() are watched
// directly so an early exit is noticed without waiting for the next poll.
func GracefulStop(ctx context.Context, p Stoppable, opts StopOptions) (StopResult, error) {
	start := time.Now()
	if !p.Alive() {
		return StopResult{AlreadyExited: true}, nil
	}

	if err := p.Terminate(); err != nil && p.Alive() {
		return forceKill(p, start)
	}

	var done <-chan struct{}
	if d, ok := p.(interface{ Done() <-chan struct{} }); ok {
		done = d.Done()
	}

	poll := opts.Poll
	if poll <= 0 {
		poll = time.Second
	}
	deadline := time.NewTimer(opts.Timeout)
	defer deadline.Stop()
	ticker := time.NewTicker(poll)
	defer ticker.Stop()

	for {
		if !p.Alive() {
			return StopResult{Elapsed: time.Since(start)}, nil
		}
		select {
		case <-done:
			return StopResult{Elapsed: time.Since(start)}, nil
		case <-ticker.C:
		case <-deadline.C:
			return forceKill(p, start)
		case <-ctx.Done():
			return forceKill(p, start)
		}
	}
}

func forceKill(p Stoppable, start time.Time) (StopResult, error) {
	if err := p.Kill(); err != nil && p.Alive() {
		return StopResult{Killed: true, Elapsed: time.Since(start)}, err
	}

	var done <-chan struct{}
	if d, ok := p.(interface{ Done() <-chan struct{} }); ok {
		done = d.Done()
	}
	if done != nil {
		select {
		case <-done:
		case <-time.After(killGrace):
		}
	}
	return StopResult{Killed: true, Elapsed: time.Since(start)}, nil
}

// Wait blocks until p exits or timeout elapses and reports the exit code.
func Wait(p Process, timeout time.Duration) (int, bool) {
	t := time.NewTimer(timeout)
	defer t.Stop()
	select {
	case <-p.Done():
		return p.ExitCode(), true
	case <-t.C:
		return 0, false
	}
}

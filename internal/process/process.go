// Package process launches and tracks the encoder child process and
// implements the graceful stop protocol shared by deliberate stops,
// shutdown and orphan cleanup.
package process

import (
	"context"
	"fmt"
)

const (
	Stdout = "stdout"
	Stderr = "stderr"
)

// LineFunc receives each complete line the child writes.
type LineFunc func(stream, line string)

// CommandSpec is an executable plus its argument vector.
type CommandSpec struct {
	Path   string
	Args   []string
	Env    []string
	OnLine LineFunc
}

// Process is a handle to one launched child.
type Process interface {
	PID() int
	// Alive is a non-blocking liveness check.
	Alive() bool
	// Done is closed once the child has exited and been reaped.
	Done() <-chan struct{}
	// ExitCode is valid after Done is closed. A child killed by signal N
	// reports 128+N.
	ExitCode() int
	Terminate() error
	Kill() error
}

// Launcher starts children.
type Launcher interface {
	Spawn(ctx context.Context, spec CommandSpec) (Process, error)
}

// SpawnError reports a child that could not be started at all.
type SpawnError struct {
	Path string
	Err  error
}

func (e *SpawnError) Error() string {
	return fmt.Sprintf("failed to launch %s: %v", e.Path, e.Err)
}

func (e *SpawnError) Unwrap() error { return e.Err }

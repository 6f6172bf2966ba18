package process

import (
	"context"
	"errors"
	"os"
	"os/exec"
	"sync"
	"syscall"

	"github.com/MrSnakeDoc/relay/internal/logger"
	"golang.org/x/sys/unix"
)

// ExecLauncher starts real OS processes. Child output is logged line by line
// with the given prefixes and forwarded to CommandSpec.OnLine.
type ExecLauncher struct {
	Log          logger.Logger
	StdoutPrefix string
	StderrPrefix string
}

func NewExecLauncher(log logger.Logger, stdoutPrefix, stderrPrefix string) *ExecLauncher {
	return &ExecLauncher{Log: log, StdoutPrefix: stdoutPrefix, StderrPrefix: stderrPrefix}
}

func (l *ExecLauncher) Spawn(ctx context.Context, spec CommandSpec) (Process, error) {
	if err := ctx.Err(); err != nil {
		return nil, &SpawnError{Path: spec.Path, Err: err}
	}
	path, err := exec.LookPath(spec.Path)
	if err != nil {
		return nil, &SpawnError{Path: spec.Path, Err: err}
	}

	// Not CommandContext: the child outlives the request that started it.
	cmd := exec.Command(path, spec.Args...)
	if len(spec.Env) > 0 {
		cmd.Env = append(os.Environ(), spec.Env...)
	}
	// Own process group: a terminal Ctrl-C reaches the controller only, which
	// then runs the graceful stop itself.
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}

	stdout := newLineWriter(Stdout, l.forward(l.StdoutPrefix, Stdout, spec.OnLine))
	stderr := newLineWriter(Stderr, l.forward(l.StderrPrefix, Stderr, spec.OnLine))
	cmd.Stdout = stdout
	cmd.Stderr = stderr

	if err := cmd.Start(); err != nil {
		return nil, &SpawnError{Path: path, Err: err}
	}

	h := &Handle{
		cmd:  cmd,
		pid:  cmd.Process.Pid,
		done: make(chan struct{}),
	}
	go h.wait(stdout, stderr)
	return h, nil
}

func (l *ExecLauncher) forward(prefix, stream string, next LineFunc) LineFunc {
	return func(_ string, line string) {
		if l.Log != nil {
			l.Log.Info(prefix+" "+line, logger.String("source", "encoder"))
		}
		if next != nil {
			next(stream, line)
		}
	}
}

// Handle is a Process backed by exec.Cmd.
type Handle struct {
	cmd  *exec.Cmd
	pid  int
	done chan struct{}

	mu       sync.Mutex
	exitCode int
	waitErr  error
}

var _ Process = (*Handle)(nil)

func (h *Handle) wait(outputs ...*lineWriter) {
	err := h.cmd.Wait()
	for _, w := range outputs {
		w.Flush()
	}

	h.mu.Lock()
	h.exitCode = exitCodeOf(h.cmd.ProcessState, err)
	h.waitErr = err
	h.mu.Unlock()
	close(h.done)
}

func exitCodeOf(state *os.ProcessState, err error) int {
	if state == nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) && exitErr.ProcessState != nil {
			state = exitErr.ProcessState
		} else {
			return -1
		}
	}
	if ws, ok := state.Sys().(syscall.WaitStatus); ok && ws.Signaled() {
		return 128 + int(ws.Signal())
	}
	return state.ExitCode()
}

func (h *Handle) PID() int { return h.pid }

func (h *Handle) Done() <-chan struct{} { return h.done }

func (h *Handle) Alive() bool {
	select {
	case <-h.done:
		return false
	default:
		return true
	}
}

func (h *Handle) ExitCode() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.exitCode
}

// Terminate asks the child's process group to exit.
func (h *Handle) Terminate() error { return h.signal(unix.SIGTERM) }

// Kill forcibly ends the child's process group.
func (h *Handle) Kill() error { return h.signal(unix.SIGKILL) }

func (h *Handle) signal(sig unix.Signal) error {
	if !h.Alive() {
		return nil
	}
	err := unix.Kill(-h.pid, sig)
	if errors.Is(err, unix.ESRCH) {
		// Group already gone; fall back to the leader alone.
		err = unix.Kill(h.pid, sig)
	}
	if errors.Is(err, unix.ESRCH) {
		return nil
	}
	return err
}

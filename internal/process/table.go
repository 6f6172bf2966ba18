package process

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"slices"
	"time"

	gopsproc "github.com/shirou/gopsutil/v4/process"
	"golang.org/x/sys/unix"
)

// Identity is what the OS reports about a PID.
type Identity struct {
	Cmdline   []string
	CreatedAt time.Time
}

// Signature describes the encoder a stored PID is expected to be. A live PID
// that does not match is a reused identifier, not our child.
type Signature struct {
	Executable string
	// Markers must each appear as an argument.
	Markers []string
	// StartedAt is when the controller recorded the spawn. A process created
	// noticeably later cannot be the one we launched.
	StartedAt time.Time
	Tolerance time.Duration
}

// DefaultCreateTolerance absorbs the coarse create-time resolution of /proc.
const DefaultCreateTolerance = 2 * time.Second

// Matches reports whether id plausibly belongs to the recorded child.
func (s Signature) Matches(id Identity) bool {
	if len(id.Cmdline) == 0 || s.Executable == "" {
		return false
	}
	if filepath.Base(id.Cmdline[0]) != filepath.Base(s.Executable) {
		return false
	}
	for _, m := range s.Markers {
		if !slices.Contains(id.Cmdline[1:], m) {
			return false
		}
	}
	if !s.StartedAt.IsZero() && !id.CreatedAt.IsZero() {
		tol := s.Tolerance
		if tol <= 0 {
			tol = DefaultCreateTolerance
		}
		if id.CreatedAt.After(s.StartedAt.Add(tol)) {
			return false
		}
	}
	return true
}

// Table inspects and signals arbitrary PIDs on this host.
type Table struct{}

func NewTable() *Table { return &Table{} }

// IsAlive probes pid with signal 0. EPERM still means the PID exists.
// Zombies count as dead.
func (t *Table) IsAlive(pid int) bool {
	if pid <= 0 {
		return false
	}
	if err := unix.Kill(pid, 0); err != nil && !errors.Is(err, unix.EPERM) {
		return false
	}
	p, err := gopsproc.NewProcess(int32(pid))
	if err != nil {
		return false
	}
	if status, err := p.Status(); err == nil && slices.Contains(status, gopsproc.Zombie) {
		return false
	}
	return true
}

// Identify reads the command line and creation time of pid.
func (t *Table) Identify(ctx context.Context, pid int) (Identity, error) {
	p, err := gopsproc.NewProcessWithContext(ctx, int32(pid))
	if err != nil {
		return Identity{}, fmt.Errorf("inspect pid %d: %w", pid, err)
	}
	cmdline, err := p.CmdlineSliceWithContext(ctx)
	if err != nil {
		return Identity{}, fmt.Errorf("read cmdline of pid %d: %w", pid, err)
	}
	id := Identity{Cmdline: cmdline}
	if ms, err := p.CreateTimeWithContext(ctx); err == nil {
		id.CreatedAt = time.UnixMilli(ms)
	}
	return id, nil
}

func (t *Table) Terminate(pid int) error { return t.signal(pid, unix.SIGTERM) }

func (t *Table) Kill(pid int) error { return t.signal(pid, unix.SIGKILL) }

func (t *Table) signal(pid int, sig unix.Signal) error {
	if pid <= 0 {
		return fmt.Errorf("refusing to signal pid %d", pid)
	}
	err := unix.Kill(pid, sig)
	if errors.Is(err, unix.ESRCH) {
		return nil
	}
	return err
}

// PIDTable is the capability set the reconciler needs from a process table.
type PIDTable interface {
	IsAlive(pid int) bool
	Identify(ctx context.Context, pid int) (Identity, error)
	Terminate(pid int) error
	Kill(pid int) error
}

// ByPID adapts a PID in a table to Stoppable so GracefulStop can drive it.
func ByPID(t PIDTable, pid int) Stoppable { return pidTarget{t: t, pid: pid} }

type pidTarget struct {
	t   PIDTable
	pid int
}

func (p pidTarget) Alive() bool      { return p.t.IsAlive(p.pid) }
func (p pidTarget) Terminate() error { return p.t.Terminate(p.pid) }
func (p pidTarget) Kill() error      { return p.t.Kill(p.pid) }

package domain

import "time"

// Status is the persisted coarse status of the stream.
type Status string

const (
	StatusStopped Status = "stopped"
	StatusRunning Status = "running"
	StatusError   Status = "error"
)

// Phase is the supervisor's in-memory lifecycle position. It is finer than
// Status: several phases collapse onto the same persisted Status.
type Phase string

const (
	PhaseStopped  Phase = "stopped"
	PhaseStarting Phase = "starting"
	PhaseRunning  Phase = "running"
	PhaseStopping Phase = "stopping"
	PhaseCrashed  Phase = "crashed"
	PhaseBackoff  Phase = "backoff"
	PhaseError    Phase = "error"
)

// Active reports whether a phase owns, or is about to own, an encoder process.
// A start request against an active phase is a conflict.
func (p Phase) Active() bool {
	switch p {
	case PhaseStarting, PhaseRunning, PhaseStopping, PhaseCrashed, PhaseBackoff:
		return true
	default:
		return false
	}
}

// StreamState is the durable record of the stream. Exactly one exists; it is
// rewritten in full on every transition.
type StreamState struct {
	Status          Status     `json:"status"`
	ProcessID       *int       `json:"process_id,omitempty"`
	StartedAt       *time.Time `json:"started_at,omitempty"`
	ExitedAt        *time.Time `json:"exited_at,omitempty"`
	ExitCode        *int       `json:"exit_code,omitempty"`
	LastHealthCheck *time.Time `json:"last_health_check,omitempty"`
	RetryCount      int        `json:"retry_count"`
	WillRetry       bool       `json:"will_retry"`
	ErrorMessage    string     `json:"error_message,omitempty"`

	CurrentMediaKey string `json:"current_media_key,omitempty"`
	PlaylistIndex   int    `json:"playlist_index"`

	// Executable of the running encoder, kept so a restarted controller can
	// recognise its own orphan.
	Executable string `json:"executable,omitempty"`

	// Calendar dates (YYYY-MM-DD) driving the daily schedule.
	LastScheduledStart   string `json:"last_scheduled_start,omitempty"`
	ScheduleSuppressedOn string `json:"schedule_suppressed_on,omitempty"`
}

// InitialState is what a fresh installation, or an unreadable record, starts from.
func InitialState() StreamState {
	return StreamState{Status: StatusStopped}
}

// Clone returns a deep copy so snapshots never alias supervisor memory.
func (s StreamState) Clone() StreamState {
	out := s
	out.ProcessID = clonePtr(s.ProcessID)
	out.ExitCode = clonePtr(s.ExitCode)
	out.StartedAt = clonePtr(s.StartedAt)
	out.ExitedAt = clonePtr(s.ExitedAt)
	out.LastHealthCheck = clonePtr(s.LastHealthCheck)
	return out
}

// UptimeSeconds is the age of the current run, or zero when not running.
func (s StreamState) UptimeSeconds(now time.Time) int64 {
	if s.Status != StatusRunning || s.StartedAt == nil {
		return 0
	}
	d := now.Sub(*s.StartedAt)
	if d < 0 {
		return 0
	}
	return int64(d / time.Second)
}

// Consistent checks the record-level invariants: a process id exactly while
// running, and an exit code exactly when in error.
func (s StreamState) Consistent() bool {
	if (s.ProcessID != nil) != (s.Status == StatusRunning) {
		return false
	}
	if (s.ExitCode != nil) != (s.Status == StatusError) {
		return false
	}
	return s.RetryCount >= 0
}

// UnknownExitCode is recorded when the encoder's exit status was never observed.
const UnknownExitCode = -1

const abandonedRetryNote = "retry abandoned: controller restarted during backoff"

// AbandonRetry marks a pending automatic retry as given up. It reports
// whether anything changed.
func (s *StreamState) AbandonRetry() bool {
	if s.Status != StatusError || !s.WillRetry {
		return false
	}
	s.WillRetry = false
	if s.ExitCode == nil {
		s.ExitCode = Ptr(UnknownExitCode)
	}
	if s.ErrorMessage == "" {
		s.ErrorMessage = abandonedRetryNote
	} else {
		s.ErrorMessage += "; " + abandonedRetryNote
	}
	return true
}

func clonePtr[T any](p *T) *T {
	if p == nil {
		return nil
	}
	v := *p
	return &v
}

// Ptr is a small helper for optional fields.
func Ptr[T any](v T) *T { return &v }

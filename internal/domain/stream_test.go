package domain

import (
	"strings"
	"testing"
	"time"
)

func TestPhaseActive(t *testing.T) {
	active := map[Phase]bool{
		PhaseStopped:  false,
		PhaseStarting: true,
		PhaseRunning:  true,
		PhaseStopping: true,
		PhaseCrashed:  true,
		PhaseBackoff:  true,
		PhaseError:    false,
	}
	for p, want := range active {
		if got := p.Active(); got != want {
			t.Errorf("%s.Active() = %v, want %v", p, got, want)
		}
	}
}

func TestStreamStateConsistent(t *testing.T) {
	now := time.Now()
	tests := []struct {
		name  string
		state StreamState
		want  bool
	}{
		{"initial", InitialState(), true},
		{"running with pid", StreamState{Status: StatusRunning, ProcessID: Ptr(42), StartedAt: &now}, true},
		{"running without pid", StreamState{Status: StatusRunning}, false},
		{"stopped with pid", StreamState{Status: StatusStopped, ProcessID: Ptr(42)}, false},
		{"error with exit code", StreamState{Status: StatusError, ExitCode: Ptr(1), RetryCount: 1}, true},
		{"stopped with exit code", StreamState{Status: StatusStopped, ExitCode: Ptr(1)}, false},
		{"error without exit code", StreamState{Status: StatusError}, false},
		{"negative retries", StreamState{Status: StatusStopped, RetryCount: -1}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.state.Consistent(); got != tt.want {
				t.Errorf("Consistent() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestAbandonRetry(t *testing.T) {
	st := StreamState{Status: StatusError, ExitCode: Ptr(1), RetryCount: 2, WillRetry: true, ErrorMessage: "exit status 1"}
	if !st.AbandonRetry() {
		t.Fatal("AbandonRetry() = false on a pending retry")
	}
	if st.WillRetry || st.RetryCount != 2 || *st.ExitCode != 1 {
		t.Errorf("state = %+v", st)
	}
	if !strings.HasPrefix(st.ErrorMessage, "exit status 1; ") || !strings.Contains(st.ErrorMessage, "retry abandoned") {
		t.Errorf("message = %q", st.ErrorMessage)
	}
	if st.AbandonRetry() {
		t.Error("second AbandonRetry() reported a change")
	}

	bare := StreamState{Status: StatusError, WillRetry: true}
	bare.AbandonRetry()
	if bare.ExitCode == nil || *bare.ExitCode != UnknownExitCode || !bare.Consistent() {
		t.Errorf("bare = %+v", bare)
	}

	stopped := StreamState{Status: StatusStopped, WillRetry: true}
	if stopped.AbandonRetry() {
		t.Error("AbandonRetry() changed a stopped record")
	}
}

func TestCloneDoesNotAlias(t *testing.T) {
	orig := StreamState{Status: StatusRunning, ProcessID: Ptr(7)}
	c := orig.Clone()
	*c.ProcessID = 8
	if *orig.ProcessID != 7 {
		t.Fatal("Clone() shares ProcessID pointer")
	}
}

func TestUptimeSeconds(t *testing.T) {
	start := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	s := StreamState{Status: StatusRunning, ProcessID: Ptr(1), StartedAt: &start}
	if got := s.UptimeSeconds(start.Add(90 * time.Second)); got != 90 {
		t.Errorf("UptimeSeconds = %d, want 90", got)
	}
	s.Status = StatusStopped
	if got := s.UptimeSeconds(start.Add(time.Hour)); got != 0 {
		t.Errorf("UptimeSeconds on stopped = %d, want 0", got)
	}
}

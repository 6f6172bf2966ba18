package encoder

import (
	"regexp"
	"sync"
)

// ConnectionState is the encoder's link to the destination as inferred from
// its output.
type ConnectionState string

const (
	Unknown    ConnectionState = "unknown"
	Connecting ConnectionState = "connecting"
	Streaming  ConnectionState = "streaming"
	Failed     ConnectionState = "failed"
)

// HistorySize bounds the ring of retained output lines.
const HistorySize = 500

func compile(patterns ...string) []*regexp.Regexp {
	out := make([]*regexp.Regexp, len(patterns))
	for i, p := range patterns {
		out[i] = regexp.MustCompile(`(?i)` + p)
	}
	return out
}

var (
	failurePatterns = compile(
		`Connection\s+refused`,
		`Connection\s+timed\s+out`,
		`Network\s+is\s+unreachable`,
		`No\s+route\s+to\s+host`,
		`Host\s+not\s+found`,
		`403\s+Forbidden`,
		`401\s+Unauthorized`,
		`404\s+Not\s+Found`,
		`503\s+Service\s+Unavailable`,
		`Stream\s+key\s+invalid`,
		`Authentication\s+failed`,
		`Access\s+denied`,
		`Input/output\s+error`,
		`Broken\s+pipe`,
		`rtmp\s+error`,
		`rtmp.*failed`,
	)
	successPatterns = compile(
		`Connection\s+successful`,
		`Server\s+returned:\s+200\s+OK`,
		`rtmp://.*:\s*OK`,
		`frame=\s*\d+\s+fps=`,
		`size=\s*\d+\w*\s+time=`,
		`bitrate=\s*\d+\.?\d*kbits/s`,
		`rtmp\s+streaming`,
	)
	startingPatterns = compile(
		`ffmpeg\s+version`,
		`Input\s+#0`,
		`Output\s+#0`,
		`Press\s+\[q\]\s+to\s+stop`,
	)
	errorExtractors = compile(
		`Connection\s+(refused|timed\s+out)`,
		`(403|401|404|503)\s+\w+`,
		`Stream\s+key\s+invalid`,
		`Authentication\s+failed`,
		`Access\s+denied`,
		`Input/output\s+error`,
	)
)

// Classify maps one output line to a state, or "" when the line says
// nothing. Failure patterns win over success patterns.
func Classify(line string) ConnectionState {
	if line == "" {
		return ""
	}
	for _, re := range failurePatterns {
		if re.MatchString(line) {
			return Failed
		}
	}
	for _, re := range successPatterns {
		if re.MatchString(line) {
			return Streaming
		}
	}
	for _, re := range startingPatterns {
		if re.MatchString(line) {
			return Connecting
		}
	}
	return ""
}

// ErrorMessage extracts a short diagnostic from a failure line.
func ErrorMessage(line string) string {
	for _, re := range errorExtractors {
		if m := re.FindString(line); m != "" {
			return m
		}
	}
	if len(line) > 100 {
		return line[:100]
	}
	return line
}

// Monitor folds encoder output into a connection state. Once failed, it stays
// failed until Reset.
type Monitor struct {
	mu      sync.Mutex
	state   ConnectionState
	lastErr string
	ring    []string
	next    int
	full    bool
	onFail  func(msg string)
}

func NewMonitor() *Monitor {
	return &Monitor{state: Unknown, ring: make([]string, HistorySize)}
}

// OnFailure registers fn to run, outside the lock, the first time the state
// turns Failed after a Reset.
func (m *Monitor) OnFailure(fn func(msg string)) {
	m.mu.Lock()
	m.onFail = fn
	m.mu.Unlock()
}

// Observe is a process.LineFunc.
func (m *Monitor) Observe(_ string, line string) {
	m.mu.Lock()
	m.ring[m.next] = line
	m.next = (m.next + 1) % len(m.ring)
	if m.next == 0 {
		m.full = true
	}

	var notify func(string)
	var msg string
	switch Classify(line) {
	case Failed:
		if m.state != Failed {
			m.state = Failed
			m.lastErr = ErrorMessage(line)
			notify, msg = m.onFail, m.lastErr
		}
	case Streaming:
		if m.state != Failed {
			m.state = Streaming
		}
	case Connecting:
		if m.state == Unknown {
			m.state = Connecting
		}
	}
	m.mu.Unlock()

	if notify != nil {
		notify(msg)
	}
}

// State returns the current state and the extracted error message, if any.
func (m *Monitor) State() (ConnectionState, string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state, m.lastErr
}

// Lines returns retained output, oldest first.
func (m *Monitor) Lines() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.full {
		return append([]string(nil), m.ring[:m.next]...)
	}
	out := make([]string, 0, len(m.ring))
	out = append(out, m.ring[m.next:]...)
	return append(out, m.ring[:m.next]...)
}

// Reset clears state and history for a new child.
func (m *Monitor) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.state = Unknown
	m.lastErr = ""
	m.next = 0
	m.full = false
	for i := range m.ring {
		m.ring[i] = ""
	}
}

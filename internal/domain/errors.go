package domain

import (
	"errors"
	"fmt"
)

// ErrorKind classifies supervisor failures so transports can map them.
type ErrorKind string

const (
	KindResolution    ErrorKind = "resolution"
	KindSpawn         ErrorKind = "spawn"
	KindRuntimeCrash  ErrorKind = "runtime_crash"
	KindConflict      ErrorKind = "conflict"
	KindNotRunning    ErrorKind = "not_running"
	KindInvalidConfig ErrorKind = "invalid_config"
	KindPersistence   ErrorKind = "persistence"
	KindBusy          ErrorKind = "busy"
)

// Error is the typed failure returned by supervisor operations.
type Error struct {
	Kind    ErrorKind
	Op      string
	Message string
	// Current is the status observed when a request was refused.
	Current Status
	Err     error
}

func (e *Error) Error() string {
	msg := e.Message
	if msg == "" && e.Err != nil {
		msg = e.Err.Error()
	} else if e.Err != nil {
		msg = fmt.Sprintf("%s: %v", msg, e.Err)
	}
	if e.Op == "" {
		return fmt.Sprintf("%s: %s", e.Kind, msg)
	}
	return fmt.Sprintf("%s: %s: %s", e.Op, e.Kind, msg)
}

func (e *Error) Unwrap() error { return e.Err }

// NewError builds an *Error.
func NewError(kind ErrorKind, op, msg string, err error) *Error {
	return &Error{Kind: kind, Op: op, Message: msg, Err: err}
}

// KindOf extracts the kind of err, or "" when err is not an *Error.
func KindOf(err error) ErrorKind {
	var de *Error
	if errors.As(err, &de) {
		return de.Kind
	}
	return ""
}

// IsKind reports whether err carries kind.
func IsKind(err error, kind ErrorKind) bool { return KindOf(err) == kind }

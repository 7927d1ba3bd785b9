package domain

import (
	"errors"
	"fmt"
)

var (
	ErrNotFound      = errors.New("not found")
	ErrAlreadyExists = errors.New("already exists")
	ErrRateLimited   = errors.New("rate limited")
	ErrUnauthorized  = errors.New("unauthorized")
	ErrWSDisconnect  = errors.New("websocket disconnected")
	ErrContextDone   = errors.New("context cancelled")
	ErrLockHeld      = errors.New("lock already held")
)

// Kind classifies a failure by how the caller should react to it, not by
// its Go type. See Error.
type Kind int

const (
	// KindTransientExternal covers HTTP timeouts, connection resets, 5xx
	// responses, and an unreachable registry. Log and return absent/failure;
	// the caller applies its own fallback.
	KindTransientExternal Kind = iota
	// KindShapeError covers a JSON decode failure or a missing required key
	// in an external response. Treated as transient for retry purposes but
	// logged at WARN with the response body's first 200 bytes.
	KindShapeError
	// KindConfigError covers a missing registered bot, an invalid mode name,
	// or an invalid preference category. Surfaced to the caller as a typed
	// failure; never retried.
	KindConfigError
	// KindWorkerExit covers a child process that exited unexpectedly. The
	// descriptor moves to BotError with captured stderr; monitoring
	// continues.
	KindWorkerExit
	// KindDeadline covers a task past its deadline. Fatal to the task, not
	// to the orchestrator.
	KindDeadline
	// KindInternal covers an assertion or invariant violation.
	KindInternal
)

func (k Kind) String() string {
	switch k {
	case KindTransientExternal:
		return "transient_external"
	case KindShapeError:
		return "shape_error"
	case KindConfigError:
		return "config_error"
	case KindWorkerExit:
		return "worker_exit"
	case KindDeadline:
		return "deadline"
	case KindInternal:
		return "internal"
	default:
		return "unknown"
	}
}

// Error attaches a Kind to an underlying cause so call sites can branch on
// how to react without inspecting error strings.
type Error struct {
	Kind    Kind
	Op      string
	Err     error
}

func (e *Error) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%s: %s", e.Op, e.Kind)
	}
	return fmt.Sprintf("%s: %s: %v", e.Op, e.Kind, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// NewError builds a Kind-tagged error for op, wrapping err.
func NewError(kind Kind, op string, err error) *Error {
	return &Error{Kind: kind, Op: op, Err: err}
}

// KindOf extracts the Kind from err if it (or something it wraps) is a
// *Error, and reports whether one was found.
func KindOf(err error) (Kind, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind, true
	}
	return 0, false
}

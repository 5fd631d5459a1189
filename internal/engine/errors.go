package engine

import (
	"errors"
	"fmt"
)

// Kind classifies an engine failure. Every error returned from Execute or
// Load carries exactly one kind, so callers can branch without string
// matching.
type Kind int

const (
	// KindPluginNotFound: neither origin recognizes the plugin name.
	KindPluginNotFound Kind = iota + 1
	// KindActionNotFound: in-process plugin found, but no matching action.
	KindActionNotFound
	// KindExecutionFailed: an in-process action returned an error or panicked.
	KindExecutionFailed
	// KindSpawnFailed: the OS could not start the subprocess.
	KindSpawnFailed
	// KindNonZeroExit: the subprocess ran and exited nonzero.
	KindNonZeroExit
	// KindTimeout: the subprocess exceeded its deadline and was killed.
	KindTimeout
	// KindCanceled: the caller's context was canceled mid-invocation.
	KindCanceled
	// KindManifest: the external manifest exists but is malformed.
	KindManifest
)

func (k Kind) String() string {
	switch k {
	case KindPluginNotFound:
		return "plugin_not_found"
	case KindActionNotFound:
		return "action_not_found"
	case KindExecutionFailed:
		return "execution_failed"
	case KindSpawnFailed:
		return "spawn_failed"
	case KindNonZeroExit:
		return "nonzero_exit"
	case KindTimeout:
		return "timeout"
	case KindCanceled:
		return "canceled"
	case KindManifest:
		return "manifest"
	default:
		return "unknown"
	}
}

// Error is the single failure type flowing out of the engine.
type Error struct {
	Kind    Kind
	Plugin  string
	Action  string
	Message string
	Err     error // underlying cause, if any
}

func (e *Error) Error() string {
	if e.Plugin != "" {
		return fmt.Sprintf("%s: plugin %q: %s", e.Kind, e.Plugin, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.Err }

func newError(kind Kind, plugin, action, message string, err error) *Error {
	return &Error{Kind: kind, Plugin: plugin, Action: action, Message: message, Err: err}
}

// KindOf extracts the engine error kind, or 0 for foreign errors.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return 0
}

// MessageOf returns the engine error message, falling back to err.Error().
func MessageOf(err error) string {
	var e *Error
	if errors.As(err, &e) {
		return e.Message
	}
	if err != nil {
		return err.Error()
	}
	return ""
}

// Package errs defines the closed error taxonomy of the daemon (design doc
// §7). Every fallible core operation returns one of these kinds, wrapped
// with enough context to log and, where relevant, report back to a client.
package errs

import (
	"errors"
	"fmt"
)

// Kind is one entry of the taxonomy. Kinds are compared by value, never by
// the message they happen to carry.
type Kind int

const (
	_ Kind = iota

	// ConfigParse is raised while loading printers.conf/classes.conf/
	// subscriptions.conf; handling is log-and-skip-the-block, continue.
	ConfigParse
	// ResourceExhausted is raised when a configured cap (§5) is hit.
	ResourceExhausted
	// PolicyDenied is raised when an auth check fails.
	PolicyDenied
	// QuotaExceeded is raised on job admission when a quota would be crossed.
	QuotaExceeded
	// BadFileType is raised when no MIME filter path exists.
	BadFileType
	// FSUnsafe is raised by the filesystem helpers on symlink/hardlink/bad
	// permission conditions.
	FSUnsafe
	// ChildSpawnFailed is raised when fork/exec of a filter or backend fails.
	ChildSpawnFailed
	// ChildFilterFailed is raised when a filter child exits non-zero.
	ChildFilterFailed
	// ChildBackendFailed is raised when the backend child exits non-zero.
	ChildBackendFailed
	// SubscriptionLoop is raised when the conflict resolver's loop bound
	// (§4.4) is exceeded.
	SubscriptionLoop
	// CacheOverflow is raised (non-fatally) when an event ring overflows.
	CacheOverflow
	// PeerClosed is raised when a client or notifier pipe closes.
	PeerClosed
)

func (k Kind) String() string {
	switch k {
	case ConfigParse:
		return "config-parse"
	case ResourceExhausted:
		return "resource-exhausted"
	case PolicyDenied:
		return "policy-denied"
	case QuotaExceeded:
		return "quota-exceeded"
	case BadFileType:
		return "bad-filetype"
	case FSUnsafe:
		return "fs-unsafe"
	case ChildSpawnFailed:
		return "child-spawn-failed"
	case ChildFilterFailed:
		return "child-filter-failed"
	case ChildBackendFailed:
		return "child-backend-failed"
	case SubscriptionLoop:
		return "subscription-loop"
	case CacheOverflow:
		return "cache-overflow"
	case PeerClosed:
		return "peer-closed"
	default:
		return "unknown"
	}
}

// Error wraps a Kind with a message and an optional cause, and is the only
// error type this module's core packages return.
type Error struct {
	Kind    Kind
	Message string
	Cause   error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.Cause }

// New builds an *Error with no cause.
func New(kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

// Wrap builds an *Error around an existing cause.
func Wrap(kind Kind, message string, cause error) *Error {
	return &Error{Kind: kind, Message: message, Cause: cause}
}

// Is reports whether err carries the given Kind anywhere in its chain.
func Is(err error, kind Kind) bool {
	var e *Error
	for errors.As(err, &e) {
		if e.Kind == kind {
			return true
		}
		err = e.Cause
	}
	return false
}

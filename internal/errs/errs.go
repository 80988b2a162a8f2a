// Package errs defines the error taxonomy shared by the virtual filesystem,
// the command tool, and the sandbox. Every failure that crosses a component
// boundary is converted to an *Error carrying a Kind and a sanitized message.
// Messages never include host-absolute paths or raw OS error text — callers
// and the HTTP layer forward them verbatim.
package errs

import (
	"errors"
	"fmt"
)

// Kind classifies a failure. The set is closed; handlers switch on it.
type Kind string

const (
	// Path and filesystem failures.
	PathEscape    Kind = "path_escape"
	NotFound      Kind = "not_found"
	NotADirectory Kind = "not_a_directory"
	NotAFile      Kind = "not_a_file"
	IsADirectory  Kind = "is_a_directory"

	// AlreadyExists is reserved. MakeDirectory is idempotent on existing
	// directories, so nothing emits it today; a strict creation mode would.
	AlreadyExists Kind = "already_exists"

	// Command validation failures.
	UnsupportedCommand Kind = "unsupported_command"
	DisallowedArgument Kind = "disallowed_argument"
	DangerousPattern   Kind = "dangerous_pattern"
	RateLimitExceeded  Kind = "rate_limit_exceeded"

	// Execution failures.
	Timeout               Kind = "timeout"
	ResourceLimitExceeded Kind = "resource_limit_exceeded"
	Execution             Kind = "execution_error"
)

// Error is a classified, sanitized failure.
type Error struct {
	Kind    Kind
	Message string
}

func (e *Error) Error() string {
	return string(e.Kind) + ": " + e.Message
}

// New creates an *Error with a preformatted message.
func New(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// KindOf extracts the Kind from an error chain, or "" if the error
// does not carry one.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ""
}

// IsKind reports whether err carries the given kind.
func IsKind(err error, kind Kind) bool {
	return KindOf(err) == kind
}

// Security reports whether a kind represents a security-relevant rejection
// (an input that tried to do something forbidden) rather than an ordinary
// not-found or type-mismatch failure. Telemetry counts these separately.
func Security(kind Kind) bool {
	switch kind {
	case PathEscape, DangerousPattern, UnsupportedCommand, DisallowedArgument:
		return true
	}
	return false
}

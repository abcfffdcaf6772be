// Package nwerrors defines the engine's typed error kinds. The shape
// (a single wrapping struct keyed by a Kind enum, with fluent With* detail
// builders and an exit-code mapping) is adapted from the structured AppError
// pattern found in the retrieval pack's shared errors package, narrowed to
// the five kinds this engine's error-handling policy (§7) distinguishes.
package nwerrors

import "fmt"

// Kind enumerates the engine's error categories. Each maps to one of the
// CLI's exit codes.
type Kind string

const (
	// KindConfig covers malformed or missing configuration.
	KindConfig Kind = "config"
	// KindSourceUnavailable covers a recon or exfil adapter fetch failure.
	KindSourceUnavailable Kind = "source_unavailable"
	// KindBackendTransient covers a recoverable recon-store or file-context
	// backend failure (timeout, connection reset). Recovered locally by the
	// caller; never fatal on its own.
	KindBackendTransient Kind = "backend_transient"
	// KindMalformedEvent covers a single event failing Validate. Dropped
	// and logged by the correlator; never fatal.
	KindMalformedEvent Kind = "malformed_event"
	// KindEmissionFailure covers a failure writing the findings file or
	// dispatching the alert webhook.
	KindEmissionFailure Kind = "emission_failure"
)

// Error is the engine's wrapped error type. Op names the operation that
// failed; Err is the underlying cause, if any.
type Error struct {
	Kind    Kind
	Op      string
	Details string
	Err     error
}

// New builds an Error with no underlying cause.
func New(kind Kind, op, message string) *Error {
	return &Error{Kind: kind, Op: op, Err: fmt.Errorf("%s", message)}
}

// Wrap builds an Error around an existing cause.
func Wrap(kind Kind, op string, err error) *Error {
	return &Error{Kind: kind, Op: op, Err: err}
}

// Wrapf builds an Error around a formatted message, with no separate cause.
func Wrapf(kind Kind, op, format string, args ...any) *Error {
	return &Error{Kind: kind, Op: op, Err: fmt.Errorf(format, args...)}
}

// WithDetails attaches additional context, returned for chaining.
func (e *Error) WithDetails(details string) *Error {
	e.Details = details
	return e
}

func (e *Error) Error() string {
	if e.Details != "" {
		return fmt.Sprintf("%s: %s (%s)", e.Op, e.Err, e.Details)
	}
	return fmt.Sprintf("%s: %s", e.Op, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Transient reports whether the error represents a recoverable backend
// failure, satisfying the swarm package's feedback interface without that
// package importing nwerrors directly.
func (e *Error) Transient() bool {
	return e.Kind == KindBackendTransient
}

// ExitCode maps err to the CLI exit code contract of §6: 0 is reserved for
// a clean run with no findings and is never returned by this function,
// 1 is chosen by the caller when a high-severity finding exists, 2 covers
// configuration and source errors, 3 covers everything else.
func ExitCode(err error) int {
	if err == nil {
		return 0
	}
	var nwErr *Error
	if e, ok := err.(*Error); ok {
		nwErr = e
	} else {
		return 3
	}
	switch nwErr.Kind {
	case KindConfig, KindSourceUnavailable:
		return 2
	default:
		return 3
	}
}

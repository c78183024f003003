// Package errs defines the closed set of tagged error kinds the analysis core
// can fail with. Every exported operation that can fail returns either nil or
// an *Error carrying exactly one Kind, per spec §7.
package errs

import (
	"errors"
	"fmt"
)

// Kind is a closed tag identifying why an operation failed.
type Kind string

// The closed set of error kinds. No other Kind value is ever produced.
const (
	// InvalidInput marks a malformed or missing input: build directory missing,
	// compile DB unreadable, filter pattern malformed.
	InvalidInput Kind = "invalid_input"
	// ScannerTimeout marks an external scan that exceeded its timeout.
	ScannerTimeout Kind = "scanner_timeout"
	// ScannerFailure marks a scanner that returned nonzero with no usable output.
	ScannerFailure Kind = "scanner_failure"
	// ParseError marks a single scanner rule that failed to parse. Local: the
	// caller skips the rule and counts it; ingestion continues.
	ParseError Kind = "parse_error"
	// PathError marks a path that could not be canonicalized (e.g. invalid UTF-8).
	// Local: the caller drops the path and counts it.
	PathError Kind = "path_error"
	// BaselineIncompatible marks a snapshot whose format_version does not match
	// the current reader.
	BaselineIncompatible Kind = "baseline_incompatible"
	// AnalysisError marks an internal invariant violation that must not occur
	// in production (e.g. a topological sort over a graph still containing a
	// cycle after SCC contraction).
	AnalysisError Kind = "analysis_error"
	// CacheError marks a cache I/O failure. Non-fatal: the caller bypasses the
	// cache and recomputes.
	CacheError Kind = "cache_error"
	// ResourceLimit marks a graph that exceeds a configured hard ceiling.
	ResourceLimit Kind = "resource_limit"
)

// Error is the concrete error type surfaced by every core operation. It
// carries exactly one Kind, an optional wrapped cause, and a human-readable
// detail string.
type Error struct {
	Cause  error
	Kind   Kind
	Detail string
}

// New creates an Error of the given kind with a formatted detail message.
func New(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Detail: fmt.Sprintf(format, args...)}
}

// Wrap creates an Error of the given kind that wraps cause.
func Wrap(kind Kind, cause error, format string, args ...any) *Error {
	return &Error{Kind: kind, Cause: cause, Detail: fmt.Sprintf(format, args...)}
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Detail, e.Cause)
	}

	return fmt.Sprintf("%s: %s", e.Kind, e.Detail)
}

// Unwrap allows errors.Is/errors.As to reach the wrapped cause.
func (e *Error) Unwrap() error {
	return e.Cause
}

// Is reports whether target is (or wraps) an *Error with the same Kind, so
// errors.Is(err, errs.New(errs.ResourceLimit, "")) matches any error of that
// kind; the package-level [Is] makes the same check from a bare Kind.
func (e *Error) Is(target error) bool {
	var other *Error
	if errors.As(target, &other) {
		return e.Kind == other.Kind
	}

	return false
}

// Of reports the Kind of err if it is (or wraps) an *Error, and ok=true.
func Of(err error) (kind Kind, ok bool) {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind, true
	}

	return "", false
}

// Is reports whether err is an *Error of the given kind.
func Is(err error, kind Kind) bool {
	k, ok := Of(err)

	return ok && k == kind
}

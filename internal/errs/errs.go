// Package errs implements the error taxonomy of the object-resolution and
// caching substrate: a closed set of error kinds plus a context-carrying
// wrapper type, dispatched on Kind rather than on a sibling type per
// failure mode.
package errs

import (
	"errors"
	"fmt"
)

// Kind classifies an error without committing to a concrete Go type per
// kind. Dispatch on Kind, not on errors.As of a dozen sibling structs.
type Kind string

const (
	// KindAbsent means the source confirmed the object does not exist.
	// Feeds the negative cache.
	KindAbsent Kind = "absent"
	// KindTransient is a retryable I/O failure (timeout, reset, 5xx).
	KindTransient Kind = "transient"
	// KindUpstream is a non-retryable upstream failure (401, 403,
	// malformed response). The source is abandoned for this request,
	// other sources continue.
	KindUpstream Kind = "upstream"
	// KindParse means the debug-file parser rejected the bytes.
	KindParse Kind = "parse"
	// KindCacheIO is a local disk failure (full, permission denied).
	KindCacheIO Kind = "cache_io"
	// KindConfig is an invalid source or service configuration,
	// surfaced at startup only.
	KindConfig Kind = "config"
	// KindInternal covers cache corruption and invariant violations;
	// the only kind that fails a whole symbolication request.
	KindInternal Kind = "internal"
)

// Error is the module-wide error wrapper. Op names the failing operation
// ("download", "parse", "cache.get"); Source is the source config id when
// the error originates from a specific symbol source, empty otherwise.
type Error struct {
	Kind   Kind
	Op     string
	Source string
	Err    error
}

func (e *Error) Error() string {
	if e.Source != "" {
		return fmt.Sprintf("%s: %s[%s]: %v", e.Kind, e.Op, e.Source, e.Err)
	}
	return fmt.Sprintf("%s: %s: %v", e.Kind, e.Op, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// New builds an *Error with no underlying cause, for sentinel-style errors.
func New(kind Kind, op, msg string) *Error {
	return &Error{Kind: kind, Op: op, Err: errors.New(msg)}
}

// Wrap attaches a Kind and Op to an existing error. Returns nil if err is
// nil, so call sites can write `return errs.Wrap(...)` unconditionally.
func Wrap(kind Kind, op string, err error) *Error {
	if err == nil {
		return nil
	}
	return &Error{Kind: kind, Op: op, Err: err}
}

// WithSource attaches the originating source id, returning the receiver
// for chaining.
func (e *Error) WithSource(source string) *Error {
	e.Source = source
	return e
}

// Is reports whether err carries the given Kind.
func Is(err error, kind Kind) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind == kind
	}
	return false
}

// Retryable reports whether the error kind is one the download pipeline
// should retry (spec §7: only transport-level/transient errors).
func Retryable(err error) bool {
	return Is(err, KindTransient)
}

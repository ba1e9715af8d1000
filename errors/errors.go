// Package errors defines the closed set of error kinds that every fallible
// operation in this module returns.
package errors

import (
	"fmt"

	"github.com/hashicorp/go-multierror"
)

// CFBError is one of a fixed set of disjoint error kinds. It implements the
// `error` interface directly so it can be returned (and compared with
// errors.Is) without wrapping, and `DriverError` so callers can attach
// context with WithMessage/WrapError.
type CFBError string

const (
	// FileFormat indicates the signature didn't match or the version is
	// unsupported.
	FileFormat = CFBError("not a compound file, or an unsupported version")
	// Corrupted indicates an on-disk invariant was violated while parsing or
	// walking a structure: a bad SID, a chain cycle, a DIFAT count mismatch,
	// a cyclic sibling reference.
	Corrupted = CFBError("compound file structure is corrupted")
	// ItemNotFound indicates a named storage or stream doesn't exist.
	ItemNotFound = CFBError("no such storage or stream")
	// Duplicated indicates an insert collided with an existing entry under
	// the same parent.
	Duplicated = CFBError("an entry with that name already exists")
	// InvalidOperation indicates the operation is not legal in the engine's
	// current mode, e.g. Commit while ReadOnly, Shrink on a v4 file.
	InvalidOperation = CFBError("operation not valid in current state")
	// Disposed indicates the engine has already been closed.
	Disposed = CFBError("operation attempted on a closed compound file")
	// Generic covers I/O propagation and validation failures with no finer
	// taxonomy.
	Generic = CFBError("compound file operation failed")
)

func (e CFBError) Error() string {
	return string(e)
}

// Kind returns e itself, so a bare CFBError satisfies DriverError.
func (e CFBError) Kind() CFBError {
	return e
}

// WithMessage returns a DriverError that carries e as its underlying kind,
// with additional context appended to the message.
func (e CFBError) WithMessage(message string) DriverError {
	return wrappedError{
		message: fmt.Sprintf("%s: %s", string(e), message),
		kind:    e,
	}
}

// WrapError returns a DriverError that carries e as its underlying kind,
// wrapping the supplied error for Unwrap and message purposes.
func (e CFBError) WrapError(err error) DriverError {
	return wrappedError{
		message: fmt.Sprintf("%s: %s", string(e), err.Error()),
		kind:    e,
		wrapped: err,
	}
}

// Is reports whether target is the same CFBError kind, so that
// `errors.Is(err, cfberrors.Corrupted)` works through a wrappedError too.
func (e CFBError) Is(target error) bool {
	other, ok := target.(CFBError)
	return ok && other == e
}

// DriverError is an error carrying one of the CFBError kinds plus optional
// additional context. Every exported engine function that can fail returns
// either a CFBError directly or a DriverError produced by one of its
// constructors, with two exceptions: a stream read that runs past the end
// reports io.EOF, and Validate reports several findings at once as the
// *multierror.Error built by Findings.AsError.
type DriverError interface {
	error
	WithMessage(message string) DriverError
	WrapError(err error) DriverError
	// Kind returns the underlying CFBError this error was built from.
	Kind() CFBError
}

type wrappedError struct {
	message string
	kind    CFBError
	wrapped error
}

func (e wrappedError) Error() string {
	return e.message
}

func (e wrappedError) WithMessage(message string) DriverError {
	return wrappedError{
		message: fmt.Sprintf("%s: %s", e.message, message),
		kind:    e.kind,
		wrapped: e,
	}
}

func (e wrappedError) WrapError(err error) DriverError {
	return wrappedError{
		message: fmt.Sprintf("%s: %s", e.message, err.Error()),
		kind:    e.kind,
		wrapped: err,
	}
}

func (e wrappedError) Kind() CFBError {
	return e.kind
}

func (e wrappedError) Unwrap() error {
	return e.wrapped
}

func (e wrappedError) Is(target error) bool {
	other, ok := target.(CFBError)
	return ok && other == e.kind
}

// Findings aggregates zero or more Corrupted (or other) errors encountered
// while NoValidationException is set and a tree walk chooses to skip rather
// than abort on bad subtrees. A zero-value Findings is valid and reports no
// error from AsError.
type Findings struct {
	errs *multierror.Error
}

// Add records an additional finding. A nil error is ignored.
func (f *Findings) Add(err error) {
	if err == nil {
		return
	}
	f.errs = multierror.Append(f.errs, err)
}

// Len returns the number of findings recorded so far.
func (f *Findings) Len() int {
	if f.errs == nil {
		return 0
	}
	return len(f.errs.Errors)
}

// AsError returns nil if no findings were recorded, the single underlying
// error if exactly one was recorded, or the full *multierror.Error
// otherwise.
func (f *Findings) AsError() error {
	if f.errs == nil || len(f.errs.Errors) == 0 {
		return nil
	}
	if len(f.errs.Errors) == 1 {
		return f.errs.Errors[0]
	}
	return f.errs
}

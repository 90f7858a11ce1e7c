// Package errs defines the error taxonomy shared by every graft package.
//
// Each failure carries a Kind. Callers match kinds with errors.Is against the
// sentinel values (ErrPath, ErrValidation, ...) and recover structured detail
// (offending path segment, grammar error position) with errors.As on *Error.
package errs

import (
	"errors"
	"fmt"
	"strings"
)

// Kind classifies a failure.
type Kind int

const (
	KindUnknown Kind = iota
	KindPath
	KindValidation
	KindConflict
	KindNotFound
	KindIO
	KindCorruption
)

func (k Kind) String() string {
	switch k {
	case KindPath:
		return "path"
	case KindValidation:
		return "validation"
	case KindConflict:
		return "conflict"
	case KindNotFound:
		return "not_found"
	case KindIO:
		return "io"
	case KindCorruption:
		return "corruption"
	default:
		return "unknown"
	}
}

// Sentinel kinds. An *Error matches the sentinel for its Kind under errors.Is.
var (
	// ErrPath indicates a malformed or unresolvable node path (or a stale tag).
	ErrPath = errors.New("path error")

	// ErrValidation indicates post-edit content failed grammar or policy validation.
	ErrValidation = errors.New("validation error")

	// ErrConflict indicates a name collision or a file that changed underneath a record.
	ErrConflict = errors.New("conflict")

	// ErrNotFound indicates a missing file, tag or record.
	ErrNotFound = errors.New("not found")

	// ErrIO indicates an underlying storage failure.
	ErrIO = errors.New("io error")

	// ErrCorruption indicates an unreadable or tampered backup record.
	ErrCorruption = errors.New("corrupt backup record")
)

func sentinel(k Kind) error {
	switch k {
	case KindPath:
		return ErrPath
	case KindValidation:
		return ErrValidation
	case KindConflict:
		return ErrConflict
	case KindNotFound:
		return ErrNotFound
	case KindIO:
		return ErrIO
	case KindCorruption:
		return ErrCorruption
	}
	return nil
}

// Error is a structured failure. Zero-valued fields are omitted from Error().
type Error struct {
	Kind Kind
	Op   string // operation that failed, e.g. "apply", "tag add"
	File string
	Path string // node path or tag reference involved

	// Segment is the 0-based index of the offending path segment, or -1.
	Segment int

	// Line and Column locate a grammar error (1-based, 0 when unknown).
	Line   int
	Column int

	Reason string
	Err    error
}

// New returns an Error of the given kind with a reason.
func New(kind Kind, op, reason string) *Error {
	return &Error{Kind: kind, Op: op, Reason: reason, Segment: -1}
}

// Newf is New with a formatted reason.
func Newf(kind Kind, op, format string, args ...any) *Error {
	return New(kind, op, fmt.Sprintf(format, args...))
}

// Wrap returns an Error of the given kind wrapping err. A nil err yields nil.
func Wrap(kind Kind, op string, err error) *Error {
	if err == nil {
		return nil
	}
	return &Error{Kind: kind, Op: op, Err: err, Segment: -1}
}

// WithFile sets File and returns e for chaining.
func (e *Error) WithFile(file string) *Error {
	e.File = file
	return e
}

// WithPath sets Path and returns e for chaining.
func (e *Error) WithPath(path string) *Error {
	e.Path = path
	return e
}

func (e *Error) Error() string {
	var b strings.Builder
	if e.Op != "" {
		b.WriteString(e.Op)
		b.WriteString(": ")
	}
	b.WriteString(e.Kind.String())
	if e.File != "" {
		fmt.Fprintf(&b, " in %s", e.File)
	}
	if e.Path != "" {
		fmt.Fprintf(&b, " at %q", e.Path)
	}
	if e.Line > 0 {
		fmt.Fprintf(&b, " (line %d, column %d)", e.Line, e.Column)
	}
	if e.Reason != "" {
		b.WriteString(": ")
		b.WriteString(e.Reason)
	}
	if e.Err != nil {
		b.WriteString(": ")
		b.WriteString(e.Err.Error())
	}
	return b.String()
}

func (e *Error) Unwrap() error { return e.Err }

// Is reports whether target is the sentinel for e's kind.
func (e *Error) Is(target error) bool {
	s := sentinel(e.Kind)
	return s != nil && target == s
}

// KindOf returns the Kind of the first *Error in err's chain, or KindUnknown.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindUnknown
}

// As extracts the first *Error in err's chain.
func As(err error) (*Error, bool) {
	var e *Error
	ok := errors.As(err, &e)
	return e, ok
}

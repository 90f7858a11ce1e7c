package graft

import "github.com/jward/graft/internal/errs"

// Error is the structured error returned by every Engine operation.
type Error = errs.Error

// ErrorKind classifies an Error.
type ErrorKind = errs.Kind

// Error kinds, matched with errors.Is.
var (
	ErrPath       = errs.ErrPath
	ErrValidation = errs.ErrValidation
	ErrConflict   = errs.ErrConflict
	ErrNotFound   = errs.ErrNotFound
	ErrIO         = errs.ErrIO
	ErrCorruption = errs.ErrCorruption
)

// KindOf returns the kind of the first *Error in err's chain.
func KindOf(err error) ErrorKind { return errs.KindOf(err) }

// AsError extracts the first *Error in err's chain.
func AsError(err error) (*Error, bool) { return errs.As(err) }

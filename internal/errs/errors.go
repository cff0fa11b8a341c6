// Package errs defines the fatal error kinds raised by the reconstruction
// core, per the error handling design: workers catch nothing, the first
// unhandled error on any worker terminates the pool, and the driver observes
// and rethrows it to the caller.
package errs

import (
	"fmt"

	"github.com/pkg/errors"
)

// FormatError signals malformed input, e.g. a bad PLY file or missing
// property. Fatal: abort the job.
type FormatError struct {
	msg string
}

func NewFormatError(format string, args ...any) error {
	return errors.WithStack(&FormatError{msg: fmt.Sprintf(format, args...)})
}

func (e *FormatError) Error() string { return "format error: " + e.msg }

// DensityError is raised when a single microblock holds more splats than
// maxSplats and recursion cannot reduce further. Fatal; surfaced with the
// offending count.
type DensityError struct {
	CellSplats int
}

func NewDensityError(cellSplats int) error {
	return errors.WithStack(&DensityError{CellSplats: cellSplats})
}

func (e *DensityError) Error() string {
	return fmt.Sprintf("density error: cell holds %d splats, exceeds maxSplats", e.CellSplats)
}

// IoError wraps a file operation failure with the file name, preserving the
// underlying cause for %+v stack formatting.
type IoError struct {
	File string
	Err  error
}

func NewIoError(file string, err error) error {
	return errors.WithStack(&IoError{File: file, Err: err})
}

func (e *IoError) Error() string { return fmt.Sprintf("io error: %s: %v", e.File, e.Err) }
func (e *IoError) Unwrap() error { return e.Err }

// ResourceError signals a device cannot fit the buffers it was asked to
// allocate. Fatal before the pipeline starts.
type ResourceError struct {
	msg string
}

func NewResourceError(format string, args ...any) error {
	return errors.WithStack(&ResourceError{msg: fmt.Sprintf(format, args...)})
}

func (e *ResourceError) Error() string { return "resource error: " + e.msg }

// StateError signals API misuse: an empty stream, a bad iterator position.
// Programmer error; callers may choose to assert in debug builds instead of
// returning it, but the constructor is always available.
type StateError struct {
	msg string
}

func NewStateError(format string, args ...any) error {
	return errors.WithStack(&StateError{msg: fmt.Sprintf(format, args...)})
}

func (e *StateError) Error() string { return "state error: " + e.msg }

// RangeError signals integer overflow in a size computation. Programmer
// error; always fatal, never recovered.
type RangeError struct {
	msg string
}

func NewRangeError(format string, args ...any) error {
	return errors.WithStack(&RangeError{msg: fmt.Sprintf(format, args...)})
}

func (e *RangeError) Error() string { return "range error: " + e.msg }

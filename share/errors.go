package share

import (
	"fmt"
	"strings"

	"github.com/pkg/errors"
)

// Error kinds.  Callers test for these with errors.Is; the structured
// errors below match the kind they belong to.
var (
	ErrInvalidPath = errors.New("invalid path")
	ErrEmptyBatch  = errors.New("no usable files in batch")
	ErrNotFound    = errors.New("not found")
	ErrIOFault     = errors.New("i/o fault")
	ErrConflict    = errors.New("already exists")

	errClosed = errors.New("share closed")
)

// PathError reports a client path that could not be sanitized.
type PathError struct {
	Raw    string
	Reason string
}

func (e *PathError) Error() string {
	return fmt.Sprintf("invalid path %q: %s", e.Raw, e.Reason)
}

func (e *PathError) Is(target error) bool {
	return target == ErrInvalidPath
}

// ExistsError is returned when folder creation hits an existing entry.
type ExistsError struct {
	Path string
}

func (e *ExistsError) Error() string {
	return fmt.Sprintf("already exists: %s", e.Path)
}

func (e *ExistsError) Is(target error) bool {
	return target == ErrConflict
}

// PurgeFailure is one entry that PurgeAll could not remove.
type PurgeFailure struct {
	Path string `json:"path" msgpack:"path"`
	Err  string `json:"error" msgpack:"error"`
}

// PurgeError aggregates every removal failure of a purge.  The purge
// itself keeps going after a failure; this is what's left.
type PurgeError struct {
	Failures []PurgeFailure
}

func (e *PurgeError) Error() string {
	var paths []string
	for _, f := range e.Failures {
		paths = append(paths, f.Path)
	}
	return fmt.Sprintf("purge incomplete, %d entries not removed: %s", len(e.Failures), strings.Join(paths, ", "))
}

func (e *PurgeError) Is(target error) bool {
	return target == ErrIOFault
}

// ioFault wraps a filesystem error so it matches ErrIOFault while
// keeping the original error as its cause.
type ioFault struct {
	op  string
	err error
}

func (e *ioFault) Error() string {
	return fmt.Sprintf("%s: %v", e.op, e.err)
}

func (e *ioFault) Is(target error) bool {
	return target == ErrIOFault
}

func (e *ioFault) Cause() error  { return e.err }
func (e *ioFault) Unwrap() error { return e.err }

func fault(err error, format string, args ...interface{}) error {
	if err == nil {
		return nil
	}
	return &ioFault{op: fmt.Sprintf(format, args...), err: err}
}

// Kind maps err to a short machine-readable name, used in HTTP error
// bodies and CLI messages.
func Kind(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrInvalidPath):
		return "invalid_path"
	case errors.Is(err, ErrEmptyBatch):
		return "empty_batch"
	case errors.Is(err, ErrNotFound):
		return "not_found"
	case errors.Is(err, ErrConflict):
		return "conflict"
	case errors.Is(err, ErrIOFault):
		return "io_fault"
	}
	return "internal"
}

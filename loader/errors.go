package loader

import (
	"errors"
	"fmt"
)

var (
	// ErrNotFound matches any *NotFoundError.
	ErrNotFound = errors.New("unit not found")

	// ErrInvalidSelector is returned when LoadOptions.Exports is neither a
	// bool nor a projection function.
	ErrInvalidSelector = errors.New("exports selector must be a bool or func(*Unit)")

	// ErrStaleCache means a cache file was written by an incompatible format,
	// engine or source.
	ErrStaleCache = errors.New("stale unit cache")

	// ErrNoCacheForm is reported by engines whose compiled code cannot be persisted.
	ErrNoCacheForm = errors.New("engine has no persistent code form")

	// ErrExecuting is returned when a load asks to reload a unit whose body
	// is still running outside the current cascade.
	ErrExecuting = errors.New("unit is still executing")
)

// NotFoundError carries the reference as the caller wrote it, before the
// default extension was appended.
type NotFoundError struct {
	Ref string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("unit not found: %q", e.Ref)
}

func (e *NotFoundError) Is(target error) bool {
	return target == ErrNotFound
}

package util

import (
	"errors"
	"fmt"
	"strings"
)

// Sentinel errors for common failure modes
var (
	// ErrUnsupported indicates a file format or operation is not supported
	ErrUnsupported = errors.New("unsupported")

	// ErrCorrupt indicates a file is corrupt or unreadable
	ErrCorrupt = errors.New("corrupt file")

	// ErrNotFound indicates a required resource was not found
	ErrNotFound = errors.New("not found")

	// ErrInvalidConfig indicates invalid configuration
	ErrInvalidConfig = errors.New("invalid configuration")

	// ErrEmptyPath is returned when an identity is requested for an empty path
	ErrEmptyPath = errors.New("empty path")

	// ErrNotReady marks queries attempted before the pipeline produced its artifacts
	ErrNotReady = errors.New("not ready")
)

// NotReadyError lists the artifacts that must exist before querying
type NotReadyError struct {
	Missing []string
}

func (e *NotReadyError) Error() string {
	return fmt.Sprintf("not ready: missing %s (run 'crate build' first)", strings.Join(e.Missing, ", "))
}

// Is lets errors.Is(err, ErrNotReady) match
func (e *NotReadyError) Is(target error) bool {
	return target == ErrNotReady
}

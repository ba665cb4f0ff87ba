package files

import (
	"errors"
	"fmt"
)

var (
	// ErrNotFound is returned when a file does not exist or lies outside the viewer's scope
	ErrNotFound = errors.New("file not found")
	// ErrForbidden is returned when the actor lacks the role an operation requires
	ErrForbidden = errors.New("insufficient role for this operation")
	// ErrUnavailable wraps database and storage failures
	ErrUnavailable = errors.New("service temporarily unavailable")
	// ErrScopeUndetermined is returned when the viewer has no resolved scope
	ErrScopeUndetermined = errors.New("scope undetermined")

	ErrUnsupportedType = errors.New("unsupported file type")
	ErrTooLarge        = errors.New("file too large")
	ErrInvalidName     = errors.New("invalid file name")
	// ErrKeyReused is returned when an idempotency key is replayed for a different file
	ErrKeyReused = errors.New("idempotency key already used for another file")
)

func unavailable(err error) error {
	return fmt.Errorf("%w: %w", ErrUnavailable, err)
}

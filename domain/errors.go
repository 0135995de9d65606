package domain

import (
	"errors"
	"fmt"
	"strings"
)

// ErrConcurrencyConflict indicates that the underlying storage rejected a
// write because the entity changed since it was read.
var ErrConcurrencyConflict = errors.New("concurrency conflict")

// ErrNotFound is reported by transports when a week or task id does not exist.
// Services signal absence with a nil entity instead.
var ErrNotFound = errors.New("not found")

// ErrStoreUnavailable wraps every store failure other than a concurrency
// conflict.
var ErrStoreUnavailable = errors.New("store unavailable")

func storeErr(op string, err error) error {
	if errors.Is(err, ErrConcurrencyConflict) {
		return fmt.Errorf("%s: %w", op, err)
	}
	return fmt.Errorf("%s: %w: %w", op, ErrStoreUnavailable, err)
}

// ValidationError is returned when required fields are missing on a write.
type ValidationError struct {
	Entity string
	Fields []string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s validation failed: missing required fields: %s", e.Entity, strings.Join(e.Fields, ", "))
}

// IsValidation reports whether err carries a ValidationError.
func IsValidation(err error) bool {
	var verr *ValidationError
	return errors.As(err, &verr)
}

package event

import (
	"errors"
	"fmt"
)

// Sentinel errors for event validation and decoding.
var (
	ErrMissingID       = errors.New("event id is required")
	ErrInvalidType     = errors.New("invalid event type")
	ErrInvalidSource   = errors.New("invalid event source")
	ErrInvalidSeverity = errors.New("invalid event severity")
	ErrMissingLineage  = errors.New("composite event requires related events")
	ErrMalformed       = errors.New("malformed event record")
)

// ValidationError reports which field of an event broke an invariant.
type ValidationError struct {
	EventID string
	Field   string
	Err     error
}

// Error implements error interface.
func (e *ValidationError) Error() string {
	if e.EventID == "" {
		return fmt.Sprintf("event %s: %v", e.Field, e.Err)
	}
	return fmt.Sprintf("event %s: %s: %v", e.EventID, e.Field, e.Err)
}

// Unwrap returns the underlying error.
func (e *ValidationError) Unwrap() error {
	return e.Err
}

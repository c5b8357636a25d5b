package errors

import "fmt"

// CapacityError reports a bounded resource that refused work.
type CapacityError struct {
	Resource string
	Capacity int
	Err      error
}

// Error implements the error interface.
func (e *CapacityError) Error() string {
	return fmt.Sprintf("%s at capacity (%d): %v", e.Resource, e.Capacity, e.Err)
}

// Unwrap returns the underlying error.
func (e *CapacityError) Unwrap() error {
	return e.Err
}

// SubscriberError reports a failed or panicking subscriber callback.
type SubscriberError struct {
	Subscriber string
	EventID    string
	Panic      any
	Err        error
}

// Error implements the error interface.
func (e *SubscriberError) Error() string {
	if e.Panic != nil {
		return fmt.Sprintf("subscriber %s panicked on event %s: %v", e.Subscriber, e.EventID, e.Panic)
	}
	return fmt.Sprintf("subscriber %s failed on event %s: %v", e.Subscriber, e.EventID, e.Err)
}

// Unwrap returns the underlying error.
func (e *SubscriberError) Unwrap() error {
	return e.Err
}

// PersistenceError reports a failed store operation.
type PersistenceError struct {
	Op  string
	Err error
}

// Error implements the error interface.
func (e *PersistenceError) Error() string {
	return fmt.Sprintf("store %s: %v", e.Op, e.Err)
}

// Unwrap returns the underlying error.
func (e *PersistenceError) Unwrap() error {
	return e.Err
}

// DeserializationError reports a stored record that could not be decoded.
type DeserializationError struct {
	ID  string
	Err error
}

// Error implements the error interface.
func (e *DeserializationError) Error() string {
	return fmt.Sprintf("decode record %s: %v", e.ID, e.Err)
}

// Unwrap returns the underlying error.
func (e *DeserializationError) Unwrap() error {
	return e.Err
}

// Package errors classifies the failures the event engine can produce.
//
// The engine has four failure families, each handled differently:
//   - Capacity: the bus queue or worker pool is full; surfaced to the producer
//   - Subscriber: a callback failed or panicked; logged and contained
//   - Persistence: a store write failed; counted, never propagated to the bus
//   - Deserialization: a stored record could not be decoded; reported as not found
//
// Only capacity errors are retried by default, and only by producers; the bus
// itself never retries.
package errors

import (
	"errors"
	"fmt"
)

// Category selects how a failure is handled.
type Category int

const (
	// CategoryCapacity indicates a full queue or pool. Retrying later may help.
	CategoryCapacity Category = iota

	// CategorySubscriber indicates a subscriber callback failed.
	CategorySubscriber

	// CategoryPersistence indicates a store operation failed.
	CategoryPersistence

	// CategoryDeserialization indicates a stored record is corrupt.
	CategoryDeserialization

	// CategoryPermanent indicates retry won't help.
	CategoryPermanent
)

var categoryNames = [...]string{
	CategoryCapacity:        "capacity",
	CategorySubscriber:      "subscriber",
	CategoryPersistence:     "persistence",
	CategoryDeserialization: "deserialization",
	CategoryPermanent:       "permanent",
}

func (c Category) String() string {
	if c < 0 || int(c) >= len(categoryNames) {
		return "unknown"
	}
	return categoryNames[c]
}

// CategorizedError pins a category on err. Retries counts the attempts
// made before giving up; Context names the operation.
type CategorizedError struct {
	Err      error
	Category Category
	Retries  int
	Context  string
}

func (e *CategorizedError) Error() string {
	msg := fmt.Sprintf("%v (category: %s, attempts: %d)", e.Err, e.Category, e.Retries)
	if e.Context == "" {
		return msg
	}
	return e.Context + ": " + msg
}

func (e *CategorizedError) Unwrap() error { return e.Err }

// NewCategorized tags err with category.
func NewCategorized(err error, category Category, op string) *CategorizedError {
	return &CategorizedError{Err: err, Category: category, Context: op}
}

// Permanent marks err as not worth retrying.
func Permanent(err error, op string) *CategorizedError {
	return NewCategorized(err, CategoryPermanent, op)
}

// Categorize finds the most specific failure family in err's chain. A
// corrupt record inside a persistence failure is a deserialization failure.
// Anything unrecognized, nil included, is permanent.
func Categorize(err error) Category {
	var (
		catErr   *CategorizedError
		capErr   *CapacityError
		subErr   *SubscriberError
		decErr   *DeserializationError
		storeErr *PersistenceError
	)
	switch {
	case err == nil:
		return CategoryPermanent
	case errors.As(err, &catErr):
		return catErr.Category
	case errors.As(err, &capErr):
		return CategoryCapacity
	case errors.As(err, &subErr):
		return CategorySubscriber
	case errors.As(err, &decErr):
		return CategoryDeserialization
	case errors.As(err, &storeErr):
		return CategoryPersistence
	default:
		return CategoryPermanent
	}
}

// IsRetryable reports whether a producer should retry the operation.
func IsRetryable(err error) bool {
	return Categorize(err) == CategoryCapacity
}

package bus

import "errors"

// Sentinel errors returned by the bus.
var (
	ErrQueueFull     = errors.New("event queue is full")
	ErrPoolSaturated = errors.New("worker pool is saturated")
	ErrNotRunning    = errors.New("bus is not running")
	ErrInvalidEvent  = errors.New("invalid event")
	ErrNilHandler    = errors.New("handler is nil")
	ErrInvalidMode   = errors.New("invalid delivery mode")
	ErrStopTimeout   = errors.New("dispatch loop did not stop in time")
)

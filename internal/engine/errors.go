package engine

import "errors"

var (
	// ErrQueueFull is returned when a pool cannot accept more work.
	ErrQueueFull = errors.New("queue full")
	// ErrTimeout is returned when a synchronous call outlives the event timeout.
	ErrTimeout = errors.New("processing timeout")
)

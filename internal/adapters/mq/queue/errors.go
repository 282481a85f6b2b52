package queue

import "errors"

// Sentinel errors for enqueue failures.
var (
	ErrQueueClosed = errors.New("queue closed")
	ErrQueueFull   = errors.New("queue full")
)

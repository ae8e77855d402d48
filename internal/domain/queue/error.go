package queue

import "errors"

var (
	ErrNotFound    = errors.New("queue item not found")
	ErrNotRetrying = errors.New("queue item is not in a retryable state")
)

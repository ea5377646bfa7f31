package queue

import "errors"

var (
	ErrNotFound      = errors.New("queue: message not found")
	ErrLostDelivery  = errors.New("queue: delivery no longer owned")
	ErrClosed        = errors.New("queue: closed")
	ErrUnknownQueue  = errors.New("queue: unknown queue")
	ErrInvalidPolicy = errors.New("queue: invalid policy")
)

package queue

import (
	"context"
	"time"
)

type State string

const (
	StateWaiting   State = "waiting"
	StateDelayed   State = "delayed"
	StateActive    State = "active"
	StateCompleted State = "completed"
	StateFailed    State = "failed"
)

func (s State) Terminal() bool {
	return s == StateCompleted || s == StateFailed
}

// Options tune a single Publish. Zero values fall back to the queue policy.
type Options struct {
	MessageID   string
	Attempts    int
	BackoffBase time.Duration
}

type Stats struct {
	Waiting   int64 `json:"waiting"`
	Active    int64 `json:"active"`
	Delayed   int64 `json:"delayed"`
	Completed int64 `json:"completed"`
	Failed    int64 `json:"failed"`
}

// MessageInfo is the retained record of one message.
type MessageInfo struct {
	ID           string
	State        State
	Payload      []byte
	Attempts     int
	MaxAttempts  int
	Progress     float64
	ProcessedOn  *time.Time
	FinishedOn   *time.Time
	FailedReason string
}

// Queue is one durable, independently scaled work queue.
type Queue interface {
	Name() string
	// Publish enqueues payload. Publishing an id that already exists is a
	// no-op and returns that id.
	Publish(ctx context.Context, payload []byte, opts Options) (string, error)
	// Consume blocks until a message is delivered or ctx is done.
	Consume(ctx context.Context) (Delivery, error)
	Stats(ctx context.Context) (Stats, error)
	Lookup(ctx context.Context, id string) (*MessageInfo, error)
	Close() error
}

// Delivery is exclusive ownership of one message for one attempt. Every
// mutating call fails with ErrLostDelivery once ownership has lapsed.
type Delivery interface {
	ID() string
	Payload() []byte
	// Attempt is 1 on first delivery.
	Attempt() int
	MaxAttempts() int
	Progress(ctx context.Context, percent float64) error
	// Extend pushes the visibility deadline one window into the future.
	Extend(ctx context.Context) error
	Ack(ctx context.Context) error
	// Nack releases the message. With retry set and attempts left it is
	// redelivered after backoff, otherwise it is marked failed. The returned
	// state is where the message ended up.
	Nack(ctx context.Context, cause error, retry bool) (State, error)
}

package queue

import (
	"fmt"
	"time"
)

const (
	DefaultAttempts    = 3
	DefaultBackoffBase = 5 * time.Second
	DefaultVisibility  = 2 * time.Minute
)

// Policy is the retry and visibility contract of a queue.
type Policy struct {
	Attempts    int
	BackoffBase time.Duration
	Visibility  time.Duration
}

func DefaultPolicy() Policy {
	return Policy{
		Attempts:    DefaultAttempts,
		BackoffBase: DefaultBackoffBase,
		Visibility:  DefaultVisibility,
	}
}

func (p Policy) Validate() error {
	if p.Attempts < 1 {
		return fmt.Errorf("%w: attempts %d", ErrInvalidPolicy, p.Attempts)
	}
	if p.BackoffBase < 0 {
		return fmt.Errorf("%w: negative backoff", ErrInvalidPolicy)
	}
	if p.Visibility <= 0 {
		return fmt.Errorf("%w: visibility %s", ErrInvalidPolicy, p.Visibility)
	}
	return nil
}

// Backoff is the delay before the retry that follows a failed attempt:
// base, 2*base, 4*base, ...
func (p Policy) Backoff(attempt int) time.Duration {
	return Backoff(p.BackoffBase, attempt)
}

func Backoff(base time.Duration, attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	if attempt > 31 {
		attempt = 31
	}
	return base * time.Duration(1<<uint(attempt-1))
}

// WithOptions overlays per-message options on the policy.
func (p Policy) WithOptions(o Options) Policy {
	if o.Attempts > 0 {
		p.Attempts = o.Attempts
	}
	if o.BackoffBase > 0 {
		p.BackoffBase = o.BackoffBase
	}
	return p
}

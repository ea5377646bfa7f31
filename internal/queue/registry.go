package queue

import (
	"context"
	"fmt"
	"sync"

	"github.com/amankumarsingh77/transcode-orchestrator/internal/models"
	"go.uber.org/multierr"
)

// Factory opens the queue with the given name.
type Factory func(name string, policy Policy) (Queue, error)

// Registry owns one queue per resolution for the life of the process.
type Registry struct {
	mu      sync.RWMutex
	factory Factory
	policy  Policy
	order   []models.Resolution
	queues  map[models.Resolution]Queue
	closed  bool
}

func NewRegistry(factory Factory, policy Policy) *Registry {
	return &Registry{
		factory: factory,
		policy:  policy,
		queues:  make(map[models.Resolution]Queue),
	}
}

// Open creates the queues for resolutions. Already open queues are kept.
func (r *Registry) Open(resolutions ...models.Resolution) error {
	if err := r.policy.Validate(); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return ErrClosed
	}
	for _, res := range resolutions {
		if !res.Valid() {
			return fmt.Errorf("%w: %q", models.ErrUnknownResolution, string(res))
		}
		if _, ok := r.queues[res]; ok {
			continue
		}
		q, err := r.factory(res.QueueName(), r.policy)
		if err != nil {
			return fmt.Errorf("failed to open queue %s: %w", res.QueueName(), err)
		}
		r.queues[res] = q
		r.order = append(r.order, res)
	}
	return nil
}

func (r *Registry) Queue(res models.Resolution) (Queue, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.closed {
		return nil, ErrClosed
	}
	q, ok := r.queues[res]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownQueue, res)
	}
	return q, nil
}

// Resolutions returns the open resolutions in the order they were opened.
func (r *Registry) Resolutions() []models.Resolution {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]models.Resolution(nil), r.order...)
}

func (r *Registry) Policy() Policy {
	return r.policy
}

func (r *Registry) Publish(ctx context.Context, res models.Resolution, payload []byte, opts Options) (string, error) {
	q, err := r.Queue(res)
	if err != nil {
		return "", err
	}
	return q.Publish(ctx, payload, opts)
}

func (r *Registry) Lookup(ctx context.Context, res models.Resolution, id string) (*MessageInfo, error) {
	q, err := r.Queue(res)
	if err != nil {
		return nil, err
	}
	return q.Lookup(ctx, id)
}

// Stats collects per-resolution counts. A failing queue does not hide the others.
func (r *Registry) Stats(ctx context.Context) (map[models.Resolution]Stats, error) {
	out := make(map[models.Resolution]Stats)
	var errs error
	for _, res := range r.Resolutions() {
		q, err := r.Queue(res)
		if err != nil {
			errs = multierr.Append(errs, err)
			continue
		}
		s, err := q.Stats(ctx)
		if err != nil {
			errs = multierr.Append(errs, fmt.Errorf("stats %s: %w", q.Name(), err))
			continue
		}
		out[res] = s
	}
	return out, errs
}

func (r *Registry) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return nil
	}
	r.closed = true
	var errs error
	for _, res := range r.order {
		errs = multierr.Append(errs, r.queues[res].Close())
	}
	return errs
}

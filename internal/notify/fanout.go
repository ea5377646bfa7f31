package notify

import (
	"context"
	"fmt"
	"time"

	"github.com/amankumarsingh77/transcode-orchestrator/internal/models"
	"github.com/amankumarsingh77/transcode-orchestrator/pkg/logger"
	"go.uber.org/multierr"
)

const defaultSinkTimeout = 5 * time.Second

// Sink is one delivery channel for events.
type Sink interface {
	Name() string
	Send(ctx context.Context, event models.Event) error
}

// Fanout sends every event to all sinks, each bounded by its own timeout.
// Failures are logged and never reach the publisher.
type Fanout struct {
	sinks   []Sink
	timeout time.Duration
	logger  logger.Logger
}

func NewFanout(log logger.Logger, timeout time.Duration, sinks ...Sink) *Fanout {
	if timeout <= 0 {
		timeout = defaultSinkTimeout
	}
	return &Fanout{sinks: sinks, timeout: timeout, logger: log}
}

func (f *Fanout) Publish(ctx context.Context, event models.Event) {
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now().UTC()
	}
	if err := f.send(ctx, event); err != nil {
		f.logger.Warnf("Fanout.Publish - %s job=%s error: %v", event.Type, event.JobID, err)
	}
}

func (f *Fanout) send(ctx context.Context, event models.Event) error {
	var errs error
	for _, s := range f.sinks {
		sctx, cancel := context.WithTimeout(ctx, f.timeout)
		if err := s.Send(sctx, event); err != nil {
			errs = multierr.Append(errs, fmt.Errorf("%s: %w", s.Name(), err))
		}
		cancel()
	}
	return errs
}

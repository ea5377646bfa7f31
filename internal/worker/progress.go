package worker

import (
	"context"
	"math"
	"sync"
	"time"

	"github.com/amankumarsingh77/transcode-orchestrator/internal/models"
	"github.com/amankumarsingh77/transcode-orchestrator/internal/queue"
	"github.com/amankumarsingh77/transcode-orchestrator/pkg/logger"
	"github.com/google/uuid"
)

// ProgressObserver receives every accepted progress sample.
type ProgressObserver func(models.ProgressSample)

// progressTracker keeps the progress of one delivery within [0,100] and never
// lets it move backwards. A new delivery gets a new tracker, so a retry
// starts again from zero.
type progressTracker struct {
	ctx      context.Context
	d        queue.Delivery
	jobID    uuid.UUID
	observer ProgressObserver
	logger   logger.Logger

	mu      sync.Mutex
	current float64
	started bool
}

func newProgressTracker(ctx context.Context, d queue.Delivery, jobID uuid.UUID, observer ProgressObserver, log logger.Logger) *progressTracker {
	return &progressTracker{ctx: ctx, d: d, jobID: jobID, observer: observer, logger: log}
}

// Set reports percent if it does not go below the last reported value.
func (p *progressTracker) Set(percent float64) {
	percent = clampPercent(percent)

	p.mu.Lock()
	if p.started && percent < p.current {
		p.mu.Unlock()
		return
	}
	p.current = percent
	p.started = true
	p.mu.Unlock()

	if err := p.d.Progress(p.ctx, percent); err != nil && p.ctx.Err() == nil {
		p.logger.Warnf("progressTracker.Set - progress update error: %v", err)
	}
	if p.observer != nil {
		p.observer(models.ProgressSample{
			JobID:     p.jobID,
			Attempt:   p.d.Attempt(),
			Percent:   percent,
			Timestamp: time.Now().UTC(),
		})
	}
}

func (p *progressTracker) Value() float64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.current
}

func clampPercent(v float64) float64 {
	switch {
	case math.IsNaN(v), v < 0:
		return 0
	case v > 100:
		return 100
	}
	return v
}

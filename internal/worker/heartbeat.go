package worker

import (
	"context"
	"errors"
	"time"

	"github.com/amankumarsingh77/transcode-orchestrator/internal/queue"
	"github.com/amankumarsingh77/transcode-orchestrator/pkg/logger"
)

// heartbeat keeps extending d until ctx is done. It stops early once the
// delivery is lost, since no later extension can succeed.
func heartbeat(ctx context.Context, d queue.Delivery, interval time.Duration, log logger.Logger) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			err := d.Extend(ctx)
			switch {
			case err == nil:
			case errors.Is(err, queue.ErrLostDelivery):
				log.Warnf("heartbeat - delivery lost, another worker may take the message over")
				return
			case ctx.Err() != nil:
				return
			default:
				log.Warnf("heartbeat - extend error: %v", err)
			}
		}
	}
}

package transcoding

import (
	"context"

	"github.com/amankumarsingh77/transcode-orchestrator/internal/models"
)

// Notifier delivers events best effort. It never fails the caller.
type Notifier interface {
	Publish(ctx context.Context, event models.Event)
}

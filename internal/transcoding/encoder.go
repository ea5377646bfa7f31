package transcoding

import (
	"context"

	"github.com/amankumarsingh77/transcode-orchestrator/internal/models"
)

type Encoder interface {
	Probe(ctx context.Context, path string) (*models.ProbeResult, error)
	// Encode starts encoding in to out. Cancelling ctx aborts the encode.
	Encode(ctx context.Context, in, out string, profile models.EncodeProfile) (EncodeSession, error)
}

// EncodeSession is a running encode. Progress yields fractions in [0,1] and is
// closed when the encode ends. Wait must be called to release the session.
type EncodeSession interface {
	Progress() <-chan float64
	Wait() (*models.EncodeResult, error)
}

package worker

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/amankumarsingh77/transcode-orchestrator/internal/models"
	"github.com/amankumarsingh77/transcode-orchestrator/internal/queue"
	"github.com/amankumarsingh77/transcode-orchestrator/internal/transcoding"
	"github.com/amankumarsingh77/transcode-orchestrator/pkg/logger"
	"github.com/amankumarsingh77/transcode-orchestrator/pkg/utils"
)

const consumeRetryDelay = time.Second

var errConsume = errors.New("consume failed")

type Config struct {
	// ID identifies this worker in job rows. It must be unique per instance.
	ID         string
	Resolution models.Resolution
	ScratchDir string
	// Visibility is the queue visibility window. Deliveries are extended every
	// third of it. Zero disables the heartbeat.
	Visibility time.Duration
	CPUGate    *utils.CPUGate
	// Observer, when set, sees every progress sample the worker reports.
	Observer ProgressObserver
}

// Worker consumes one resolution queue and runs every delivery through the
// transcode pipeline.
type Worker struct {
	cfg      Config
	queue    queue.Queue
	repo     transcoding.Repository
	store    transcoding.ObjectStore
	encoder  transcoding.Encoder
	notifier transcoding.Notifier
	logger   logger.Logger
}

func NewWorker(
	cfg Config,
	q queue.Queue,
	repo transcoding.Repository,
	store transcoding.ObjectStore,
	encoder transcoding.Encoder,
	notifier transcoding.Notifier,
	log logger.Logger,
) (*Worker, error) {
	if cfg.ID == "" {
		return nil, errors.New("worker id is required")
	}
	if !cfg.Resolution.Valid() {
		return nil, fmt.Errorf("%w: %q", models.ErrUnknownResolution, string(cfg.Resolution))
	}
	return &Worker{
		cfg:      cfg,
		queue:    q,
		repo:     repo,
		store:    store,
		encoder:  encoder,
		notifier: notifier,
		logger:   log.With("worker_id", cfg.ID, "resolution", cfg.Resolution.String()),
	}, nil
}

func (w *Worker) ID() string {
	return w.cfg.ID
}

// Run consumes until ctx is done or the queue is closed.
func (w *Worker) Run(ctx context.Context) error {
	w.logger.Infof("Worker.Run - consuming %s", w.queue.Name())
	defer w.logger.Infof("Worker.Run - stopped")

	for {
		if ctx.Err() != nil {
			return nil
		}
		if !w.waitForCPU(ctx) {
			continue
		}

		err := w.ProcessNext(ctx)
		switch {
		case err == nil:
		case ctx.Err() != nil, errors.Is(err, queue.ErrClosed):
			return nil
		case errors.Is(err, errConsume):
			w.logger.Errorf("Worker.Run - %v", err)
			if !sleep(ctx, consumeRetryDelay) {
				return nil
			}
		default:
			// already reported to the queue and the job row
			w.logger.Debugf("Worker.Run - delivery finished with error: %v", err)
		}
	}
}

// waitForCPU reports whether the host has room for another encode. When it
// does not, it sleeps one gate interval first.
func (w *Worker) waitForCPU(ctx context.Context) bool {
	gate := w.cfg.CPUGate
	if !gate.Enabled() {
		return true
	}
	ok, usage := gate.Sample(gate.MaxUsage)
	if ok {
		return true
	}
	w.logger.Infof("Worker.Run - CPU usage is high: %.1f%%", usage)
	sleep(ctx, gate.Interval)
	return false
}

// ProcessNext waits for one delivery and handles it. It returns the failure
// that ended the attempt, if any.
func (w *Worker) ProcessNext(ctx context.Context) error {
	d, err := w.queue.Consume(ctx)
	if err != nil {
		if ctx.Err() != nil || errors.Is(err, queue.ErrClosed) {
			return err
		}
		return fmt.Errorf("%w: %w", errConsume, err)
	}
	return w.handle(ctx, d)
}

func sleep(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}

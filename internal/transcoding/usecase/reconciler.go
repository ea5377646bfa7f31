package usecase

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/amankumarsingh77/transcode-orchestrator/internal/config"
	"github.com/amankumarsingh77/transcode-orchestrator/internal/models"
	"github.com/amankumarsingh77/transcode-orchestrator/internal/queue"
	"github.com/amankumarsingh77/transcode-orchestrator/internal/transcoding"
	"github.com/amankumarsingh77/transcode-orchestrator/pkg/logger"
	"go.uber.org/multierr"
)

// ReconcilerID is the owner written on jobs the reconciler fails before any
// worker claimed them.
const ReconcilerID = "reconciler"

const defaultBatchSize = 100

type reconciler struct {
	cfg      config.ReconcilerConfig
	repo     transcoding.Repository
	queues   *queue.Registry
	notifier transcoding.Notifier
	logger   logger.Logger
	now      func() time.Time
}

func NewReconciler(
	cfg config.ReconcilerConfig,
	repo transcoding.Repository,
	queues *queue.Registry,
	notifier transcoding.Notifier,
	log logger.Logger,
) transcoding.Reconciler {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = defaultBatchSize
	}
	return &reconciler{
		cfg:      cfg,
		repo:     repo,
		queues:   queues,
		notifier: notifier,
		logger:   log,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// Sweep repairs jobs older than the grace period whose row and queue message
// disagree:
//   - a pending or processing job with no message is published again;
//   - a job whose message is permanently failed is failed.
//
// Jobs whose message is still live are left to the workers.
func (r *reconciler) Sweep(ctx context.Context) (*models.SweepResult, error) {
	cutoff := r.now().Add(-r.cfg.Grace)
	result := &models.SweepResult{}
	var errs error
	for _, status := range []models.JobStatus{models.JobStatusPending, models.JobStatusProcessing} {
		jobs, err := r.repo.ListStaleJobs(ctx, status, cutoff, r.cfg.BatchSize)
		if err != nil {
			r.logger.Errorf("Reconciler.Sweep - ListStaleJobs(%s) error: %v", status, err)
			errs = multierr.Append(errs, transcoding.PersistenceError("sweep", err))
			continue
		}
		for _, job := range jobs {
			errs = multierr.Append(errs, r.reconcile(ctx, job, result))
		}
	}
	return result, errs
}

func (r *reconciler) reconcile(ctx context.Context, job *models.StaleJob, result *models.SweepResult) error {
	info, err := r.queues.Lookup(ctx, job.Resolution, job.ID.String())
	switch {
	case errors.Is(err, queue.ErrNotFound):
		if _, err := PublishJob(ctx, r.queues, &job.TranscodingJob, job.SourceObjectKey, job.OriginalFilename); err != nil {
			r.logger.Errorf("Reconciler.Sweep - republish job %s error: %v", job.ID, err)
			return transcoding.TransientIOError("sweep", err)
		}
		r.logger.Infof("Reconciler.Sweep - republished %s job %s", job.Status, job.ID)
		result.Republished++
		return nil
	case err != nil:
		r.logger.Errorf("Reconciler.Sweep - Lookup job %s error: %v", job.ID, err)
		return transcoding.TransientIOError("sweep", err)
	case info.State != queue.StateFailed:
		result.Skipped++
		return nil
	}

	owner := ReconcilerID
	if job.OwnerWorkerID != nil {
		owner = *job.OwnerWorkerID
	}
	reason := info.FailedReason
	if reason == "" {
		reason = "queue message failed"
	}
	failed, err := r.repo.FailJob(ctx, job.ID, owner, reason)
	if err != nil {
		if errors.Is(err, transcoding.ErrInvalidTransition) {
			// a worker finished it since the listing
			result.Skipped++
			return nil
		}
		r.logger.Errorf("Reconciler.Sweep - FailJob %s error: %v", job.ID, err)
		return transcoding.PersistenceError("sweep", err)
	}
	r.logger.Warnf("Reconciler.Sweep - failed job %s: %s", job.ID, reason)
	result.Failed++
	r.notifier.Publish(ctx, models.NewJobEvent(models.EventJobFailed, failed, map[string]interface{}{
		"error":  reason,
		"source": ReconcilerID,
	}))
	if _, err := r.repo.RefreshVideoStatus(ctx, failed.VideoID); err != nil {
		r.logger.Warnf("Reconciler.Sweep - RefreshVideoStatus error: %v", err)
	}
	return nil
}

// Run sweeps every interval until ctx is done.
func (r *reconciler) Run(ctx context.Context) error {
	if !r.cfg.Enabled {
		r.logger.Info("Reconciler.Run - disabled")
		return nil
	}
	if r.cfg.Interval <= 0 {
		return fmt.Errorf("reconciler interval must be positive, got %s", r.cfg.Interval)
	}
	ticker := time.NewTicker(r.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			res, err := r.Sweep(ctx)
			if err != nil {
				r.logger.Warnf("Reconciler.Run - sweep error: %v", err)
			}
			if res.Republished > 0 || res.Failed > 0 {
				r.logger.Infof("Reconciler.Run - republished %d, failed %d, skipped %d", res.Republished, res.Failed, res.Skipped)
			}
		}
	}
}

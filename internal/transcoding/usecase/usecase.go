package usecase

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/amankumarsingh77/transcode-orchestrator/internal/models"
	"github.com/amankumarsingh77/transcode-orchestrator/internal/queue"
	"github.com/amankumarsingh77/transcode-orchestrator/internal/transcoding"
	"github.com/amankumarsingh77/transcode-orchestrator/pkg/logger"
	"github.com/amankumarsingh77/transcode-orchestrator/pkg/utils"
	"github.com/google/uuid"
	"go.uber.org/multierr"
)

type transcodingUC struct {
	repo     transcoding.Repository
	store    transcoding.ObjectStore
	queues   *queue.Registry
	notifier transcoding.Notifier
	logger   logger.Logger
	now      func() time.Time
}

// NewTranscodingUseCase dispatches to every queue open in queues.
func NewTranscodingUseCase(
	repo transcoding.Repository,
	store transcoding.ObjectStore,
	queues *queue.Registry,
	notifier transcoding.Notifier,
	log logger.Logger,
) transcoding.UseCase {
	return &transcodingUC{
		repo:     repo,
		store:    store,
		queues:   queues,
		notifier: notifier,
		logger:   log,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

func (u *transcodingUC) Upload(ctx context.Context, input *models.UploadInput) (*models.UploadResult, error) {
	if input == nil {
		return nil, transcoding.ValidationError("upload", errors.New("input is nil"))
	}
	if err := utils.ValidateStruct(ctx, input); err != nil {
		u.logger.Errorf("Upload - ValidateStruct error: %v", err)
		return nil, transcoding.ValidationError("upload", err)
	}

	videoID := uuid.New()
	filename := filepath.Base(input.OriginalFilename)
	key := SourceObjectKey(videoID, filename)
	video, err := u.repo.CreateVideo(ctx, &models.VideoAsset{
		ID:                videoID,
		OriginalFilename:  filename,
		OriginalSize:      input.Size,
		UploadTimestamp:   u.now(),
		Status:            models.VideoStatusUploading,
		SourceStoragePath: key,
		Metadata:          models.Metadata{"mime_type": input.MimeType},
	})
	if err != nil {
		u.logger.Errorf("Upload - CreateVideo error: %v", err)
		return nil, transcoding.PersistenceError("upload", err)
	}

	u.logger.Infof("Upload - storing %s (%d bytes) as %s", filename, input.Size, key)
	if _, err := u.store.Put(ctx, transcoding.BucketOriginal, key, input.LocalPath, input.MimeType); err != nil {
		u.logger.Errorf("Upload - Put error: %v", err)
		if serr := u.repo.UpdateVideoStatus(ctx, videoID, models.VideoStatusFailed); serr != nil {
			u.logger.Errorf("Upload - UpdateVideoStatus error: %v", serr)
		}
		return nil, transcoding.TransientIOError("upload", err)
	}
	if err := u.repo.UpdateVideoStatus(ctx, videoID, models.VideoStatusUploaded); err != nil {
		u.logger.Errorf("Upload - UpdateVideoStatus error: %v", err)
		return nil, transcoding.PersistenceError("upload", err)
	}

	jobs, err := u.Dispatch(ctx, videoID, models.SourceMetadata{
		ObjectKey:        key,
		OriginalFilename: video.OriginalFilename,
	})
	result := &models.UploadResult{
		VideoID:  videoID,
		Filename: video.OriginalFilename,
		Size:     video.OriginalSize,
		Jobs:     jobs,
	}
	return result, err
}

// Dispatch creates one pending job per resolution in a single transaction and
// then publishes one message per job. A failed publish leaves its job pending
// for the reconciler and is reported in the returned error; the jobs that were
// published are still returned.
func (u *transcodingUC) Dispatch(ctx context.Context, videoID uuid.UUID, source models.SourceMetadata) ([]models.DispatchedJob, error) {
	if err := utils.ValidateStruct(ctx, &source); err != nil {
		return nil, transcoding.ValidationError("dispatch", err)
	}
	resolutions := u.queues.Resolutions()
	if len(resolutions) == 0 {
		return nil, transcoding.ValidationError("dispatch", errors.New("no resolutions configured"))
	}

	video, err := u.repo.GetVideoByID(ctx, videoID)
	if err != nil {
		if errors.Is(err, transcoding.ErrNotFound) {
			return nil, err
		}
		u.logger.Errorf("Dispatch - GetVideoByID error: %v", err)
		return nil, transcoding.PersistenceError("dispatch", err)
	}
	if video.Status != models.VideoStatusUploaded {
		return nil, fmt.Errorf("%w: video %s is %s", transcoding.ErrVideoNotUploaded, videoID, video.Status)
	}
	existing, err := u.repo.GetJobsByVideo(ctx, videoID)
	if err != nil {
		u.logger.Errorf("Dispatch - GetJobsByVideo error: %v", err)
		return nil, transcoding.PersistenceError("dispatch", err)
	}
	if len(existing) > 0 {
		return nil, fmt.Errorf("%w: video %s", transcoding.ErrAlreadyDispatched, videoID)
	}

	now := u.now()
	jobs := make([]*models.TranscodingJob, 0, len(resolutions))
	for _, res := range resolutions {
		jobs = append(jobs, models.NewPendingJob(videoID, res, now))
	}
	if err := u.repo.CreateJobs(ctx, jobs); err != nil {
		u.logger.Errorf("Dispatch - CreateJobs error: %v", err)
		return nil, transcoding.PersistenceError("dispatch", err)
	}

	dispatched := make([]models.DispatchedJob, 0, len(jobs))
	var errs error
	for _, job := range jobs {
		queueName, err := PublishJob(ctx, u.queues, job, source.ObjectKey, source.OriginalFilename)
		if err != nil {
			u.logger.Errorf("Dispatch - publish %s for job %s error: %v", job.Resolution, job.ID, err)
			errs = multierr.Append(errs, transcoding.TransientIOError("publish "+job.Resolution.String(), err))
			continue
		}
		dispatched = append(dispatched, models.DispatchedJob{
			Resolution: job.Resolution,
			JobID:      job.ID,
			QueueName:  queueName,
		})
		u.notifier.Publish(ctx, models.NewJobEvent(models.EventJobDispatched, job, map[string]interface{}{
			"queue": queueName,
		}))
	}
	u.logger.Infof("Dispatch - video %s: %d/%d jobs published", videoID, len(dispatched), len(jobs))
	return dispatched, errs
}

// PublishJob enqueues the message for job keyed by the job id, so publishing
// the same job twice leaves a single message.
func PublishJob(ctx context.Context, queues *queue.Registry, job *models.TranscodingJob, objectKey, filename string) (string, error) {
	q, err := queues.Queue(job.Resolution)
	if err != nil {
		return "", err
	}
	payload, err := json.Marshal(models.JobMessage{
		VideoID:          job.VideoID.String(),
		Resolution:       job.Resolution,
		SourceObjectKey:  objectKey,
		OriginalFilename: filename,
	})
	if err != nil {
		return "", err
	}
	if _, err := q.Publish(ctx, payload, queue.Options{MessageID: job.ID.String()}); err != nil {
		return "", err
	}
	return q.Name(), nil
}

// SourceObjectKey is where an upload is stored in the original bucket.
func SourceObjectKey(videoID uuid.UUID, filename string) string {
	name := strings.ReplaceAll(filepath.Base(filename), " ", "_")
	return fmt.Sprintf("%s/%s", videoID, name)
}

func (u *transcodingUC) GetJobStatus(ctx context.Context, resolution string, jobID uuid.UUID) (*models.JobStatusView, error) {
	res, err := models.ParseResolution(resolution)
	if err != nil {
		return nil, transcoding.ValidationError("job_status", err)
	}
	job, err := u.repo.GetJobByID(ctx, jobID)
	if err != nil {
		return nil, err
	}
	if job.Resolution != res {
		return nil, transcoding.ErrNotFound
	}

	view := &models.JobStatusView{Job: job}
	info, err := u.queues.Lookup(ctx, res, jobID.String())
	switch {
	case err == nil:
		view.Message = &models.MessageView{
			ID:           info.ID,
			State:        string(info.State),
			Progress:     info.Progress,
			Attempts:     info.Attempts,
			MaxAttempts:  info.MaxAttempts,
			ProcessedOn:  info.ProcessedOn,
			FinishedOn:   info.FinishedOn,
			FailedReason: info.FailedReason,
		}
	case errors.Is(err, queue.ErrNotFound):
	default:
		u.logger.Warnf("GetJobStatus - Lookup error: %v", err)
	}
	return view, nil
}

func (u *transcodingUC) GetQueueStats(ctx context.Context) (map[models.Resolution]queue.Stats, error) {
	stats, err := u.queues.Stats(ctx)
	if err != nil {
		u.logger.Warnf("GetQueueStats - Stats error: %v", err)
	}
	return stats, err
}

func (u *transcodingUC) GetVideo(ctx context.Context, videoID uuid.UUID) (*models.VideoWithJobs, error) {
	video, err := u.repo.GetVideoByID(ctx, videoID)
	if err != nil {
		return nil, err
	}
	jobs, err := u.repo.GetJobsByVideo(ctx, videoID)
	if err != nil {
		u.logger.Errorf("GetVideo - GetJobsByVideo error: %v", err)
		return nil, err
	}
	return &models.VideoWithJobs{Video: video, Jobs: jobs}, nil
}

func (u *transcodingUC) ListVideos(ctx context.Context, pq *utils.Pagination) (*models.VideoList, error) {
	return u.repo.ListVideos(ctx, pq)
}

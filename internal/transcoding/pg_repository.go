package transcoding

import (
	"context"
	"time"

	"github.com/amankumarsingh77/transcode-orchestrator/internal/models"
	"github.com/amankumarsingh77/transcode-orchestrator/pkg/utils"
	"github.com/google/uuid"
)

// Repository is the durable store for videos and their jobs. Status guards are
// enforced by the store: an update whose current status does not allow the
// move returns ErrInvalidTransition.
type Repository interface {
	EnsureSchema(ctx context.Context) error

	CreateVideo(ctx context.Context, video *models.VideoAsset) (*models.VideoAsset, error)
	GetVideoByID(ctx context.Context, videoID uuid.UUID) (*models.VideoAsset, error)
	ListVideos(ctx context.Context, pq *utils.Pagination) (*models.VideoList, error)
	UpdateVideoStatus(ctx context.Context, videoID uuid.UUID, status models.VideoStatus) error
	// RefreshVideoStatus recomputes the video status from its jobs.
	RefreshVideoStatus(ctx context.Context, videoID uuid.UUID) (models.VideoStatus, error)

	// CreateJobs inserts the whole set or nothing.
	CreateJobs(ctx context.Context, jobs []*models.TranscodingJob) error
	GetJobByID(ctx context.Context, jobID uuid.UUID) (*models.TranscodingJob, error)
	GetJob(ctx context.Context, videoID uuid.UUID, res models.Resolution) (*models.TranscodingJob, error)
	GetJobsByVideo(ctx context.Context, videoID uuid.UUID) ([]*models.TranscodingJob, error)

	// ClaimJob moves the job to processing under workerID. On a terminal job it
	// returns the job together with ErrInvalidTransition.
	ClaimJob(ctx context.Context, videoID uuid.UUID, res models.Resolution, workerID string) (*models.TranscodingJob, error)
	RecordJobError(ctx context.Context, jobID uuid.UUID, workerID, message string) error
	CompleteJob(ctx context.Context, jobID uuid.UUID, workerID, outputPath string, outputSize int64) (*models.TranscodingJob, error)
	FailJob(ctx context.Context, jobID uuid.UUID, workerID, message string) (*models.TranscodingJob, error)

	ListStaleJobs(ctx context.Context, status models.JobStatus, olderThan time.Time, limit int) ([]*models.StaleJob, error)
}

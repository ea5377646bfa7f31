package transcoding

import (
	"context"

	"github.com/amankumarsingh77/transcode-orchestrator/internal/models"
	"github.com/amankumarsingh77/transcode-orchestrator/internal/queue"
	"github.com/amankumarsingh77/transcode-orchestrator/pkg/utils"
	"github.com/google/uuid"
)

type UseCase interface {
	Upload(ctx context.Context, input *models.UploadInput) (*models.UploadResult, error)
	Dispatch(ctx context.Context, videoID uuid.UUID, source models.SourceMetadata) ([]models.DispatchedJob, error)
	GetJobStatus(ctx context.Context, resolution string, jobID uuid.UUID) (*models.JobStatusView, error)
	GetQueueStats(ctx context.Context) (map[models.Resolution]queue.Stats, error)
	GetVideo(ctx context.Context, videoID uuid.UUID) (*models.VideoWithJobs, error)
	ListVideos(ctx context.Context, pq *utils.Pagination) (*models.VideoList, error)
}

// Reconciler repairs drift between job rows and queue messages.
type Reconciler interface {
	Sweep(ctx context.Context) (*models.SweepResult, error)
	Run(ctx context.Context) error
}

package repository

import (
	"context"
	"database/sql"
	"time"

	"github.com/amankumarsingh77/transcode-orchestrator/internal/models"
	"github.com/amankumarsingh77/transcode-orchestrator/internal/transcoding"
	"github.com/amankumarsingh77/transcode-orchestrator/pkg/utils"
	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/pkg/errors"
)

type jobRepo struct {
	db  *sqlx.DB
	now func() time.Time
}

func NewJobRepo(db *sqlx.DB) transcoding.Repository {
	return &jobRepo{
		db:  db,
		now: func() time.Time { return time.Now().UTC() },
	}
}

func (r *jobRepo) EnsureSchema(ctx context.Context) error {
	for _, q := range schemaQueries {
		if _, err := r.db.ExecContext(ctx, q); err != nil {
			return errors.Wrap(err, "jobRepo.EnsureSchema.ExecContext")
		}
	}
	return nil
}

func (r *jobRepo) CreateVideo(ctx context.Context, video *models.VideoAsset) (*models.VideoAsset, error) {
	if video.ID == uuid.Nil {
		video.ID = uuid.New()
	}
	if video.UploadTimestamp.IsZero() {
		video.UploadTimestamp = r.now()
	}
	if video.Status == "" {
		video.Status = models.VideoStatusUploading
	}
	created := &models.VideoAsset{}
	if err := r.db.QueryRowxContext(
		ctx,
		createVideoQuery,
		video.ID,
		video.OriginalFilename,
		video.OriginalSize,
		video.UploadTimestamp,
		video.Status,
		video.SourceStoragePath,
		video.Metadata,
	).StructScan(created); err != nil {
		return nil, errors.Wrap(err, "jobRepo.CreateVideo.StructScan")
	}
	return created, nil
}

func (r *jobRepo) GetVideoByID(ctx context.Context, videoID uuid.UUID) (*models.VideoAsset, error) {
	video := &models.VideoAsset{}
	if err := r.db.GetContext(ctx, video, getVideoByIDQuery, videoID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, transcoding.ErrNotFound
		}
		return nil, errors.Wrap(err, "jobRepo.GetVideoByID.GetContext")
	}
	return video, nil
}

func (r *jobRepo) ListVideos(ctx context.Context, pq *utils.Pagination) (*models.VideoList, error) {
	var totalCount int
	if err := r.db.GetContext(ctx, &totalCount, getTotalVideosCountQuery); err != nil {
		return nil, errors.Wrap(err, "jobRepo.ListVideos.GetContext.totalCount")
	}
	if totalCount == 0 {
		return &models.VideoList{
			Videos:     make([]*models.VideoSummary, 0),
			TotalCount: 0,
			TotalPages: 0,
			Page:       pq.Page,
			PageSize:   pq.Size,
			HasMore:    false,
		}, nil
	}

	rows, err := r.db.QueryxContext(ctx, listVideosQuery, pq.GetOffset(), pq.GetLimit())
	if err != nil {
		return nil, errors.Wrap(err, "jobRepo.ListVideos.QueryxContext")
	}
	defer rows.Close()

	videos := make([]*models.VideoSummary, 0, pq.Size)
	for rows.Next() {
		v := &models.VideoSummary{}
		if err := rows.StructScan(v); err != nil {
			return nil, errors.Wrap(err, "jobRepo.ListVideos.StructScan")
		}
		videos = append(videos, v)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(err, "jobRepo.ListVideos.rows.Err")
	}

	return &models.VideoList{
		Videos:     videos,
		TotalCount: totalCount,
		TotalPages: utils.GetTotalPages(totalCount, pq.Size),
		Page:       pq.Page,
		PageSize:   pq.Size,
		HasMore:    utils.GetHasMore(pq.Page, totalCount, pq.Size),
	}, nil
}

func (r *jobRepo) UpdateVideoStatus(ctx context.Context, videoID uuid.UUID, status models.VideoStatus) error {
	res, err := r.db.ExecContext(ctx, updateVideoStatusQuery, status, videoID)
	if err != nil {
		return errors.Wrap(err, "jobRepo.UpdateVideoStatus.ExecContext")
	}
	n, err := res.RowsAffected()
	if err != nil {
		return errors.Wrap(err, "jobRepo.UpdateVideoStatus.RowsAffected")
	}
	if n == 0 {
		return transcoding.ErrNotFound
	}
	return nil
}

func (r *jobRepo) RefreshVideoStatus(ctx context.Context, videoID uuid.UUID) (models.VideoStatus, error) {
	var status models.VideoStatus
	err := r.db.GetContext(ctx, &status, refreshVideoStatusQuery, videoID)
	if err == nil {
		return status, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return "", errors.Wrap(err, "jobRepo.RefreshVideoStatus.GetContext")
	}
	video, err := r.GetVideoByID(ctx, videoID)
	if err != nil {
		return "", err
	}
	return video.Status, nil
}

func (r *jobRepo) CreateJobs(ctx context.Context, jobs []*models.TranscodingJob) (err error) {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return errors.Wrap(err, "jobRepo.CreateJobs.BeginTxx")
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	for _, j := range jobs {
		if _, err = tx.ExecContext(ctx, createJobQuery, j.ID, j.VideoID, j.Resolution, j.Status, j.CreatedAt); err != nil {
			return errors.Wrapf(err, "jobRepo.CreateJobs.ExecContext.%s", j.Resolution)
		}
	}
	if err = tx.Commit(); err != nil {
		return errors.Wrap(err, "jobRepo.CreateJobs.Commit")
	}
	return nil
}

func (r *jobRepo) GetJobByID(ctx context.Context, jobID uuid.UUID) (*models.TranscodingJob, error) {
	job := &models.TranscodingJob{}
	if err := r.db.GetContext(ctx, job, getJobByIDQuery, jobID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, transcoding.ErrNotFound
		}
		return nil, errors.Wrap(err, "jobRepo.GetJobByID.GetContext")
	}
	return job, nil
}

func (r *jobRepo) GetJob(ctx context.Context, videoID uuid.UUID, res models.Resolution) (*models.TranscodingJob, error) {
	job := &models.TranscodingJob{}
	if err := r.db.GetContext(ctx, job, getJobQuery, videoID, res); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, transcoding.ErrNotFound
		}
		return nil, errors.Wrap(err, "jobRepo.GetJob.GetContext")
	}
	return job, nil
}

func (r *jobRepo) GetJobsByVideo(ctx context.Context, videoID uuid.UUID) ([]*models.TranscodingJob, error) {
	jobs := make([]*models.TranscodingJob, 0)
	if err := r.db.SelectContext(ctx, &jobs, getJobsByVideoQuery, videoID); err != nil {
		return nil, errors.Wrap(err, "jobRepo.GetJobsByVideo.SelectContext")
	}
	return jobs, nil
}

func (r *jobRepo) ClaimJob(ctx context.Context, videoID uuid.UUID, res models.Resolution, workerID string) (*models.TranscodingJob, error) {
	job := &models.TranscodingJob{}
	err := r.db.GetContext(ctx, job, claimJobQuery, videoID, res, workerID, r.now())
	if err == nil {
		return job, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return nil, errors.Wrap(err, "jobRepo.ClaimJob.GetContext")
	}
	current, err := r.GetJob(ctx, videoID, res)
	if err != nil {
		return nil, err
	}
	return current, transcoding.ErrInvalidTransition
}

func (r *jobRepo) RecordJobError(ctx context.Context, jobID uuid.UUID, workerID, message string) error {
	res, err := r.db.ExecContext(ctx, recordJobErrorQuery, jobID, workerID, message)
	if err != nil {
		return errors.Wrap(err, "jobRepo.RecordJobError.ExecContext")
	}
	n, err := res.RowsAffected()
	if err != nil {
		return errors.Wrap(err, "jobRepo.RecordJobError.RowsAffected")
	}
	if n == 0 {
		return r.missOrInvalid(ctx, jobID)
	}
	return nil
}

func (r *jobRepo) CompleteJob(ctx context.Context, jobID uuid.UUID, workerID, outputPath string, outputSize int64) (*models.TranscodingJob, error) {
	job := &models.TranscodingJob{}
	err := r.db.GetContext(ctx, job, completeJobQuery, jobID, workerID, outputPath, outputSize, r.now())
	if err == nil {
		return job, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return nil, errors.Wrap(err, "jobRepo.CompleteJob.GetContext")
	}
	return nil, r.missOrInvalid(ctx, jobID)
}

func (r *jobRepo) FailJob(ctx context.Context, jobID uuid.UUID, workerID, message string) (*models.TranscodingJob, error) {
	job := &models.TranscodingJob{}
	err := r.db.GetContext(ctx, job, failJobQuery, jobID, workerID, message, r.now())
	if err == nil {
		return job, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return nil, errors.Wrap(err, "jobRepo.FailJob.GetContext")
	}
	return nil, r.missOrInvalid(ctx, jobID)
}

func (r *jobRepo) ListStaleJobs(ctx context.Context, status models.JobStatus, olderThan time.Time, limit int) ([]*models.StaleJob, error) {
	jobs := make([]*models.StaleJob, 0)
	if err := r.db.SelectContext(ctx, &jobs, listStaleJobsQuery, status, olderThan, limit); err != nil {
		return nil, errors.Wrap(err, "jobRepo.ListStaleJobs.SelectContext")
	}
	return jobs, nil
}

// missOrInvalid explains a guarded update that touched no rows.
func (r *jobRepo) missOrInvalid(ctx context.Context, jobID uuid.UUID) error {
	if _, err := r.GetJobByID(ctx, jobID); err != nil {
		return err
	}
	return transcoding.ErrInvalidTransition
}

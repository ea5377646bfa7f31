package models

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

type JobStatus string

const (
	JobStatusPending    JobStatus = "pending"
	JobStatusProcessing JobStatus = "processing"
	JobStatusCompleted  JobStatus = "completed"
	JobStatusFailed     JobStatus = "failed"
)

func (s JobStatus) IsTerminal() bool {
	return s == JobStatusCompleted || s == JobStatusFailed
}

func (s JobStatus) Valid() bool {
	switch s {
	case JobStatusPending, JobStatusProcessing, JobStatusCompleted, JobStatusFailed:
		return true
	}
	return false
}

// jobTransitions lists, for every target status, the statuses a job may be in
// before moving there. processing -> processing is a redelivered claim.
var jobTransitions = map[JobStatus][]JobStatus{
	JobStatusProcessing: {JobStatusPending, JobStatusProcessing},
	JobStatusCompleted:  {JobStatusProcessing},
	JobStatusFailed:     {JobStatusPending, JobStatusProcessing},
}

func CanTransition(from, to JobStatus) bool {
	for _, s := range jobTransitions[to] {
		if s == from {
			return true
		}
	}
	return false
}

// AllowedPredecessors returns the statuses from which to is reachable.
func AllowedPredecessors(to JobStatus) []JobStatus {
	return append([]JobStatus(nil), jobTransitions[to]...)
}

type TranscodingJob struct {
	ID                uuid.UUID  `json:"id" db:"id"`
	VideoID           uuid.UUID  `json:"video_id" db:"video_id"`
	Resolution        Resolution `json:"resolution" db:"resolution"`
	Status            JobStatus  `json:"status" db:"status"`
	OutputStoragePath *string    `json:"output_storage_path,omitempty" db:"output_path"`
	OutputSize        *int64     `json:"output_size,omitempty" db:"output_size"`
	StartedAt         *time.Time `json:"started_at,omitempty" db:"started_at"`
	CompletedAt       *time.Time `json:"completed_at,omitempty" db:"completed_at"`
	ErrorMessage      *string    `json:"error_message,omitempty" db:"error_message"`
	OwnerWorkerID     *string    `json:"owner_worker_id,omitempty" db:"worker_id"`
	CreatedAt         time.Time  `json:"created_at" db:"created_at"`
}

// NewPendingJob builds the pending row created at dispatch time.
func NewPendingJob(videoID uuid.UUID, res Resolution, now time.Time) *TranscodingJob {
	return &TranscodingJob{
		ID:         uuid.New(),
		VideoID:    videoID,
		Resolution: res,
		Status:     JobStatusPending,
		CreatedAt:  now,
	}
}

// StaleJob is a job row joined with the source fields needed to re-publish it.
type StaleJob struct {
	TranscodingJob
	OriginalFilename string `db:"original_filename"`
	SourceObjectKey  string `db:"source_object_key"`
}

// JobMessage is the queue payload for one rendition. The job is identified by
// the (VideoID, Resolution) pair.
type JobMessage struct {
	VideoID          string     `json:"video_id" validate:"required,uuid"`
	Resolution       Resolution `json:"resolution" validate:"required"`
	SourceObjectKey  string     `json:"source_object_key" validate:"required,lte=1024"`
	OriginalFilename string     `json:"original_filename" validate:"required,lte=255"`
}

// OutputObjectKey is the deterministic key of a rendition in the transcoded bucket.
func OutputObjectKey(videoID uuid.UUID, res Resolution) string {
	return fmt.Sprintf("%s/%s_%s.mp4", videoID, videoID, res)
}

type DispatchedJob struct {
	Resolution Resolution `json:"resolution"`
	JobID      uuid.UUID  `json:"job_id"`
	QueueName  string     `json:"queue"`
}

// JobStatusView combines the durable row with the live queue view of its message.
type JobStatusView struct {
	Job     *TranscodingJob `json:"job"`
	Message *MessageView    `json:"message,omitempty"`
}

type MessageView struct {
	ID           string     `json:"id"`
	State        string     `json:"state"`
	Progress     float64    `json:"progress"`
	Attempts     int        `json:"attempts"`
	MaxAttempts  int        `json:"max_attempts"`
	ProcessedOn  *time.Time `json:"processed_on,omitempty"`
	FinishedOn   *time.Time `json:"finished_on,omitempty"`
	FailedReason string     `json:"failed_reason,omitempty"`
}

// SweepResult summarises one reconciliation pass.
type SweepResult struct {
	Republished int `json:"republished"`
	Failed      int `json:"failed"`
	Skipped     int `json:"skipped"`
}

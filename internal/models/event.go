package models

import (
	"time"

	"github.com/google/uuid"
)

type EventType string

const (
	EventJobDispatched EventType = "job.dispatched"
	EventJobCompleted  EventType = "job.completed"
	EventJobFailed     EventType = "job.failed"
)

type Event struct {
	Type       EventType              `json:"type"`
	VideoID    uuid.UUID              `json:"video_id"`
	JobID      uuid.UUID              `json:"job_id"`
	Resolution Resolution             `json:"resolution"`
	Status     JobStatus              `json:"status"`
	Extra      map[string]interface{} `json:"extra,omitempty"`
	Timestamp  time.Time              `json:"timestamp"`
}

func NewJobEvent(t EventType, job *TranscodingJob, extra map[string]interface{}) Event {
	return Event{
		Type:       t,
		VideoID:    job.VideoID,
		JobID:      job.ID,
		Resolution: job.Resolution,
		Status:     job.Status,
		Extra:      extra,
		Timestamp:  time.Now().UTC(),
	}
}

// ProgressSample is one observation of a job's 0-100 progress within a single delivery.
type ProgressSample struct {
	JobID     uuid.UUID `json:"job_id"`
	Attempt   int       `json:"attempt"`
	Percent   float64   `json:"percent"`
	Timestamp time.Time `json:"timestamp"`
}

type ProbeResult struct {
	DurationSeconds float64 `json:"duration_seconds"`
	Width           int     `json:"width"`
	Height          int     `json:"height"`
	FPS             float64 `json:"fps"`
	VideoCodec      string  `json:"video_codec"`
	AudioCodec      string  `json:"audio_codec"`
	SampleRate      int     `json:"sample_rate"`
	Channels        int     `json:"channels"`
}

type EncodeResult struct {
	OutputSize int64         `json:"output_size"`
	Elapsed    time.Duration `json:"elapsed"`
}

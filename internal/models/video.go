package models

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

type VideoStatus string

const (
	VideoStatusUploading  VideoStatus = "uploading"
	VideoStatusUploaded   VideoStatus = "uploaded"
	VideoStatusProcessing VideoStatus = "processing"
	VideoStatusReady      VideoStatus = "ready"
	VideoStatusFailed     VideoStatus = "failed"
)

// Metadata is stored as a JSONB column.
type Metadata map[string]string

func (m Metadata) Value() (driver.Value, error) {
	if m == nil {
		return []byte("{}"), nil
	}
	return json.Marshal(m)
}

func (m *Metadata) Scan(src interface{}) error {
	var raw []byte
	switch v := src.(type) {
	case nil:
		*m = Metadata{}
		return nil
	case []byte:
		raw = v
	case string:
		raw = []byte(v)
	default:
		return fmt.Errorf("unsupported metadata type %T", src)
	}
	out := Metadata{}
	if err := json.Unmarshal(raw, &out); err != nil {
		return fmt.Errorf("failed to decode metadata: %w", err)
	}
	*m = out
	return nil
}

type VideoAsset struct {
	ID                uuid.UUID   `json:"id" db:"id"`
	OriginalFilename  string      `json:"original_filename" db:"original_filename"`
	OriginalSize      int64       `json:"original_size" db:"original_size"`
	UploadTimestamp   time.Time   `json:"upload_timestamp" db:"upload_date"`
	Status            VideoStatus `json:"status" db:"status"`
	SourceStoragePath string      `json:"source_storage_path" db:"storage_path"`
	Metadata          Metadata    `json:"metadata" db:"metadata"`
}

type VideoSummary struct {
	VideoAsset
	TotalJobs     int `json:"total_jobs" db:"total_jobs"`
	CompletedJobs int `json:"completed_jobs" db:"completed_jobs"`
}

type VideoList struct {
	Videos     []*VideoSummary `json:"videos"`
	TotalCount int             `json:"total_count"`
	TotalPages int             `json:"total_pages"`
	Page       int             `json:"page"`
	PageSize   int             `json:"page_size"`
	HasMore    bool            `json:"has_more"`
}

type VideoWithJobs struct {
	Video *VideoAsset       `json:"video"`
	Jobs  []*TranscodingJob `json:"jobs"`
}

// DeriveVideoStatus folds the job set of a video into the asset status.
// An empty job set leaves the asset uploaded.
func DeriveVideoStatus(jobs []*TranscodingJob) VideoStatus {
	if len(jobs) == 0 {
		return VideoStatusUploaded
	}
	var started, open, failed bool
	for _, j := range jobs {
		switch j.Status {
		case JobStatusPending:
			open = true
		case JobStatusProcessing:
			open, started = true, true
		case JobStatusFailed:
			failed, started = true, true
		case JobStatusCompleted:
			started = true
		}
	}
	switch {
	case open && started:
		return VideoStatusProcessing
	case open:
		return VideoStatusUploaded
	case failed:
		return VideoStatusFailed
	default:
		return VideoStatusReady
	}
}

// SourceMetadata carries what workers need to locate the uploaded original.
type SourceMetadata struct {
	ObjectKey        string `json:"object_key" validate:"required,lte=1024"`
	OriginalFilename string `json:"original_filename" validate:"required,lte=255"`
}

type UploadInput struct {
	LocalPath        string `json:"-" validate:"required"`
	OriginalFilename string `json:"original_filename" validate:"required,lte=255"`
	Size             int64  `json:"size" validate:"required,gt=0"`
	MimeType         string `json:"mime_type" validate:"required,oneof=video/mp4 video/mpeg video/quicktime video/x-msvideo"`
}

type UploadResult struct {
	VideoID  uuid.UUID       `json:"video_id"`
	Filename string          `json:"filename"`
	Size     int64           `json:"size"`
	Jobs     []DispatchedJob `json:"jobs"`
}

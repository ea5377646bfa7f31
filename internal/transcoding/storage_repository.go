package transcoding

import "context"

// Logical buckets. Stores map them to real bucket names.
const (
	BucketOriginal   = "original"
	BucketTranscoded = "transcoded"
)

type PutResult struct {
	Size int64  `json:"size"`
	URL  string `json:"url"`
}

type ObjectStore interface {
	Put(ctx context.Context, bucket, key, localPath, contentType string) (*PutResult, error)
	Get(ctx context.Context, bucket, key, localPath string) error
}

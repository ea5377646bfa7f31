package repository

import (
	"fmt"
	"os"
	"strings"

	"github.com/amankumarsingh77/transcode-orchestrator/internal/transcoding"
)

// Buckets maps the logical bucket names to real ones.
type Buckets struct {
	Original   string
	Transcoded string
}

func (b Buckets) resolve(logical string) string {
	switch logical {
	case transcoding.BucketOriginal:
		if b.Original != "" {
			return b.Original
		}
	case transcoding.BucketTranscoded:
		if b.Transcoded != "" {
			return b.Transcoded
		}
	}
	return logical
}

func objectURL(base, bucket, key string) string {
	return fmt.Sprintf("%s/%s/%s", strings.TrimRight(base, "/"), bucket, key)
}

func openForUpload(localPath string) (*os.File, int64, error) {
	f, err := os.Open(localPath)
	if err != nil {
		return nil, 0, err
	}
	st, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, 0, err
	}
	return f, st.Size(), nil
}

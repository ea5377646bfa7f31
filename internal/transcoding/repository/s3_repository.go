package repository

import (
	"context"
	"fmt"
	"os"

	"github.com/amankumarsingh77/transcode-orchestrator/internal/transcoding"
	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/pkg/errors"
)

type s3Store struct {
	uploader   *manager.Uploader
	downloader *manager.Downloader
	buckets    Buckets
	publicURL  string
}

// NewS3Store serves objects from S3. publicURL is prefixed to bucket/key when
// building object URLs; empty means s3:// URLs.
func NewS3Store(client *s3.Client, buckets Buckets, publicURL string) transcoding.ObjectStore {
	return &s3Store{
		uploader:   manager.NewUploader(client),
		downloader: manager.NewDownloader(client),
		buckets:    buckets,
		publicURL:  publicURL,
	}
}

func (s *s3Store) Put(ctx context.Context, bucket, key, localPath, contentType string) (*transcoding.PutResult, error) {
	f, size, err := openForUpload(localPath)
	if err != nil {
		return nil, errors.Wrap(err, "s3Store.Put.Open")
	}
	defer f.Close()

	name := s.buckets.resolve(bucket)
	if _, err := s.uploader.Upload(ctx, &s3.PutObjectInput{
		Bucket:        aws.String(name),
		Key:           aws.String(key),
		Body:          f,
		ContentType:   aws.String(contentType),
		ContentLength: aws.Int64(size),
	}); err != nil {
		return nil, errors.Wrapf(err, "s3Store.Put.Upload %s/%s", name, key)
	}

	url := fmt.Sprintf("s3://%s/%s", name, key)
	if s.publicURL != "" {
		url = objectURL(s.publicURL, name, key)
	}
	return &transcoding.PutResult{Size: size, URL: url}, nil
}

func (s *s3Store) Get(ctx context.Context, bucket, key, localPath string) error {
	f, err := os.Create(localPath)
	if err != nil {
		return errors.Wrap(err, "s3Store.Get.Create")
	}

	name := s.buckets.resolve(bucket)
	if _, err := s.downloader.Download(ctx, f, &s3.GetObjectInput{
		Bucket: aws.String(name),
		Key:    aws.String(key),
	}); err != nil {
		f.Close()
		return errors.Wrapf(err, "s3Store.Get.Download %s/%s", name, key)
	}
	return errors.Wrap(f.Close(), "s3Store.Get.Close")
}

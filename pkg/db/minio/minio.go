package minio

import (
	"context"
	"fmt"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

func NewMinioClient(endpoint, region, accessKey, secretKey string, useSSL bool) (*minio.Client, error) {
	client, err := minio.New(endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(accessKey, secretKey, ""),
		Secure: useSSL,
		Region: region,
	})
	if err != nil {
		return nil, fmt.Errorf("minio connection: %w", err)
	}
	return client, nil
}

// EnsureBuckets creates any of the named buckets that do not exist yet.
func EnsureBuckets(ctx context.Context, client *minio.Client, region string, buckets ...string) error {
	for _, b := range buckets {
		exists, err := client.BucketExists(ctx, b)
		if err != nil {
			return fmt.Errorf("failed to check bucket %s: %w", b, err)
		}
		if exists {
			continue
		}
		if err := client.MakeBucket(ctx, b, minio.MakeBucketOptions{Region: region}); err != nil {
			return fmt.Errorf("failed to create bucket %s: %w", b, err)
		}
	}
	return nil
}

package repository

import (
	"context"

	"github.com/amankumarsingh77/transcode-orchestrator/internal/transcoding"
	"github.com/minio/minio-go/v7"
	"github.com/pkg/errors"
)

type minioStore struct {
	client    *minio.Client
	buckets   Buckets
	publicURL string
}

func NewMinioStore(client *minio.Client, buckets Buckets, publicURL string) transcoding.ObjectStore {
	if publicURL == "" {
		publicURL = client.EndpointURL().String()
	}
	return &minioStore{client: client, buckets: buckets, publicURL: publicURL}
}

func (m *minioStore) Put(ctx context.Context, bucket, key, localPath, contentType string) (*transcoding.PutResult, error) {
	f, size, err := openForUpload(localPath)
	if err != nil {
		return nil, errors.Wrap(err, "minioStore.Put.Open")
	}
	defer f.Close()

	name := m.buckets.resolve(bucket)
	info, err := m.client.PutObject(ctx, name, key, f, size, minio.PutObjectOptions{
		ContentType: contentType,
	})
	if err != nil {
		return nil, errors.Wrapf(err, "minioStore.Put.PutObject %s/%s", name, key)
	}
	return &transcoding.PutResult{Size: info.Size, URL: objectURL(m.publicURL, name, key)}, nil
}

func (m *minioStore) Get(ctx context.Context, bucket, key, localPath string) error {
	name := m.buckets.resolve(bucket)
	if err := m.client.FGetObject(ctx, name, key, localPath, minio.GetObjectOptions{}); err != nil {
		return errors.Wrapf(err, "minioStore.Get.FGetObject %s/%s", name, key)
	}
	return nil
}

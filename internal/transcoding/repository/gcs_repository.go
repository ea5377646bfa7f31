package repository

import (
	"context"
	"io"
	"os"

	"cloud.google.com/go/storage"
	"github.com/amankumarsingh77/transcode-orchestrator/internal/transcoding"
	"github.com/pkg/errors"
)

const gcsPublicURL = "https://storage.googleapis.com"

type gcsStore struct {
	client    *storage.Client
	buckets   Buckets
	publicURL string
}

func NewGCSStore(client *storage.Client, buckets Buckets, publicURL string) transcoding.ObjectStore {
	if publicURL == "" {
		publicURL = gcsPublicURL
	}
	return &gcsStore{client: client, buckets: buckets, publicURL: publicURL}
}

func (g *gcsStore) Put(ctx context.Context, bucket, key, localPath, contentType string) (*transcoding.PutResult, error) {
	f, size, err := openForUpload(localPath)
	if err != nil {
		return nil, errors.Wrap(err, "gcsStore.Put.Open")
	}
	defer f.Close()

	name := g.buckets.resolve(bucket)
	wc := g.client.Bucket(name).Object(key).NewWriter(ctx)
	wc.ContentType = contentType
	if _, err := io.Copy(wc, f); err != nil {
		wc.Close()
		return nil, errors.Wrapf(err, "gcsStore.Put.Copy %s/%s", name, key)
	}
	if err := wc.Close(); err != nil {
		return nil, errors.Wrapf(err, "gcsStore.Put.Close %s/%s", name, key)
	}
	return &transcoding.PutResult{Size: size, URL: objectURL(g.publicURL, name, key)}, nil
}

func (g *gcsStore) Get(ctx context.Context, bucket, key, localPath string) error {
	name := g.buckets.resolve(bucket)
	rc, err := g.client.Bucket(name).Object(key).NewReader(ctx)
	if err != nil {
		return errors.Wrapf(err, "gcsStore.Get.NewReader %s/%s", name, key)
	}
	defer rc.Close()

	f, err := os.Create(localPath)
	if err != nil {
		return errors.Wrap(err, "gcsStore.Get.Create")
	}
	if _, err := io.Copy(f, rc); err != nil {
		f.Close()
		return errors.Wrapf(err, "gcsStore.Get.Copy %s/%s", name, key)
	}
	return errors.Wrap(f.Close(), "gcsStore.Get.Close")
}

package server

import (
	"context"
	"fmt"

	"github.com/amankumarsingh77/transcode-orchestrator/internal/config"
	"github.com/amankumarsingh77/transcode-orchestrator/internal/models"
	"github.com/amankumarsingh77/transcode-orchestrator/internal/notify"
	"github.com/amankumarsingh77/transcode-orchestrator/internal/queue"
	"github.com/amankumarsingh77/transcode-orchestrator/internal/queue/redisqueue"
	"github.com/amankumarsingh77/transcode-orchestrator/internal/transcoding"
	"github.com/amankumarsingh77/transcode-orchestrator/internal/transcoding/repository"
	"github.com/amankumarsingh77/transcode-orchestrator/pkg/db/aws"
	"github.com/amankumarsingh77/transcode-orchestrator/pkg/db/gcs"
	"github.com/amankumarsingh77/transcode-orchestrator/pkg/db/minio"
	"github.com/amankumarsingh77/transcode-orchestrator/pkg/logger"
	"github.com/go-redis/redis/v8"
)

// NewObjectStore connects to the provider named in the config.
func NewObjectStore(ctx context.Context, cfg *config.Config) (transcoding.ObjectStore, error) {
	c := cfg.ObjectStore
	buckets := repository.Buckets{Original: c.OriginalBucket, Transcoded: c.TranscodedBucket}

	switch c.Provider {
	case "s3":
		client, err := aws.NewS3Client(ctx, c.Endpoint, c.Region, c.AccessKey, c.SecretKey)
		if err != nil {
			return nil, err
		}
		return repository.NewS3Store(client, buckets, c.PublicBaseURL), nil
	case "minio":
		client, err := minio.NewMinioClient(c.Endpoint, c.Region, c.AccessKey, c.SecretKey, c.UseSSL)
		if err != nil {
			return nil, err
		}
		if err := minio.EnsureBuckets(ctx, client, c.Region, c.OriginalBucket, c.TranscodedBucket); err != nil {
			return nil, err
		}
		return repository.NewMinioStore(client, buckets, c.PublicBaseURL), nil
	case "gcs":
		client, err := gcs.NewGCSClient(ctx, c.CredentialsFile)
		if err != nil {
			return nil, err
		}
		return repository.NewGCSStore(client, buckets, c.PublicBaseURL), nil
	default:
		return nil, fmt.Errorf("unsupported object store provider %q", c.Provider)
	}
}

// NewQueueRegistry opens the Redis queue of every resolution in resolutions.
func NewQueueRegistry(cfg *config.Config, client redis.UniversalClient, resolutions []models.Resolution) (*queue.Registry, error) {
	factory := redisqueue.Factory(client, redisqueue.Config{
		Prefix:       cfg.Queue.Prefix,
		PollInterval: cfg.Queue.PollInterval,
	})
	registry := queue.NewRegistry(factory, queue.Policy{
		Attempts:    cfg.Queue.Attempts,
		BackoffBase: cfg.Queue.BackoffBase,
		Visibility:  cfg.Queue.VisibilityTimeout,
	})
	if err := registry.Open(resolutions...); err != nil {
		return nil, err
	}
	return registry, nil
}

// NewNotifier fans events out to the Redis channel, the webhook when one is
// configured, and any extra sinks.
func NewNotifier(cfg *config.Config, client redis.UniversalClient, log logger.Logger, extra ...notify.Sink) *notify.Fanout {
	var sinks []notify.Sink
	if cfg.Notify.RedisChannel != "" {
		sinks = append(sinks, notify.NewRedisSink(client, cfg.Notify.RedisChannel))
	}
	if cfg.Notify.WebhookURL != "" {
		sinks = append(sinks, notify.NewWebhookSink(cfg.Notify.WebhookURL, cfg.Notify.Timeout))
	}
	sinks = append(sinks, extra...)
	return notify.NewFanout(log, cfg.Notify.Timeout, sinks...)
}

package main

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/amankumarsingh77/transcode-orchestrator/internal/config"
	"github.com/amankumarsingh77/transcode-orchestrator/internal/models"
	"github.com/amankumarsingh77/transcode-orchestrator/internal/queue"
	"github.com/amankumarsingh77/transcode-orchestrator/internal/server"
	"github.com/amankumarsingh77/transcode-orchestrator/internal/transcoding"
	"github.com/amankumarsingh77/transcode-orchestrator/internal/transcoding/repository"
	"github.com/amankumarsingh77/transcode-orchestrator/pkg/db/postgres"
	"github.com/amankumarsingh77/transcode-orchestrator/pkg/db/redis"
	"github.com/amankumarsingh77/transcode-orchestrator/pkg/logger"
	"go.uber.org/multierr"
)

type commandContext struct {
	configFlag *string

	configOnce sync.Once
	config     *config.Config
	logger     logger.Logger
	configErr  error
}

func newCommandContext(configFlag *string) *commandContext {
	return &commandContext{configFlag: configFlag}
}

func (c *commandContext) ensureConfig() (*config.Config, error) {
	c.configOnce.Do(func() {
		path := "config.yml"
		if c.configFlag != nil && strings.TrimSpace(*c.configFlag) != "" {
			path = strings.TrimSpace(*c.configFlag)
		}
		v, err := config.LoadConfig(path)
		if err != nil {
			c.configErr = err
			return
		}
		cfg, err := config.ParseConfig(v)
		if err != nil {
			c.configErr = err
			return
		}
		appLogger := logger.NewApiLogger(cfg)
		appLogger.InitLogger()
		c.config, c.logger = cfg, appLogger
	})
	return c.config, c.configErr
}

// backend is everything a command needs to talk to the pipeline directly.
type backend struct {
	cfg      *config.Config
	logger   logger.Logger
	repo     transcoding.Repository
	store    transcoding.ObjectStore
	queues   *queue.Registry
	notifier transcoding.Notifier

	closers []func() error
}

func (b *backend) Close() error {
	var errs error
	for i := len(b.closers) - 1; i >= 0; i-- {
		errs = multierr.Append(errs, b.closers[i]())
	}
	return errs
}

// withBackend connects to Postgres, Redis and, when withStore is set, the
// object store, runs fn and disconnects.
func (c *commandContext) withBackend(ctx context.Context, withStore bool, fn func(*backend) error) error {
	cfg, err := c.ensureConfig()
	if err != nil {
		return err
	}
	b := &backend{cfg: cfg, logger: c.logger}
	defer b.Close()

	db, err := postgres.NewPsqlDB(cfg)
	if err != nil {
		return err
	}
	b.closers = append(b.closers, db.Close)
	b.repo = repository.NewJobRepo(db)

	client, err := redis.NewRedisClient(cfg)
	if err != nil {
		return err
	}
	b.closers = append(b.closers, client.Close)
	b.notifier = server.NewNotifier(cfg, client, c.logger)

	resolutions, err := models.ParseResolutions(cfg.Transcode.Resolutions)
	if err != nil {
		return err
	}
	b.queues, err = server.NewQueueRegistry(cfg, client, resolutions)
	if err != nil {
		return err
	}
	b.closers = append(b.closers, b.queues.Close)

	if withStore {
		sctx, cancel := context.WithTimeout(ctx, 30*time.Second)
		b.store, err = server.NewObjectStore(sctx, cfg)
		cancel()
		if err != nil {
			return err
		}
	}
	return fn(b)
}

package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/amankumarsingh77/transcode-orchestrator/internal/config"
	"github.com/amankumarsingh77/transcode-orchestrator/internal/encoder"
	"github.com/amankumarsingh77/transcode-orchestrator/internal/models"
	"github.com/amankumarsingh77/transcode-orchestrator/internal/server"
	"github.com/amankumarsingh77/transcode-orchestrator/internal/transcoding/repository"
	"github.com/amankumarsingh77/transcode-orchestrator/internal/worker"
	"github.com/amankumarsingh77/transcode-orchestrator/pkg/db/postgres"
	"github.com/amankumarsingh77/transcode-orchestrator/pkg/db/redis"
	"github.com/amankumarsingh77/transcode-orchestrator/pkg/logger"
	"github.com/amankumarsingh77/transcode-orchestrator/pkg/utils"
	"github.com/joho/godotenv"
	"golang.org/x/sync/errgroup"
)

func main() {
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		log.Printf("godotenv: %v", err)
	}
	configFile := os.Getenv("CONFIG_PATH")
	if configFile == "" {
		configFile = "config.yml"
	}
	cfgFile, err := config.LoadConfig(configFile)
	if err != nil {
		log.Fatalf("loadConfig: %v", err)
	}
	cfg, err := config.ParseConfig(cfgFile)
	if err != nil {
		log.Fatalf("parseConfig: %v", err)
	}
	appLogger := logger.NewApiLogger(cfg)
	appLogger.InitLogger()
	defer appLogger.Sync()

	resolution, err := models.ParseResolution(cfg.Worker.Resolution)
	if err != nil {
		appLogger.Fatalf("worker.resolution: %v", err)
	}
	instances := cfg.Worker.Instances
	if instances < 1 {
		instances = 1
	}
	appLogger.Infof("AppVersion: %s, Resolution: %s, Instances: %d", cfg.Server.AppVersion, resolution, instances)

	psqlDB, err := postgres.NewPsqlDB(cfg)
	if err != nil {
		appLogger.Fatalf("could not connect to db: %s", err)
	}
	defer psqlDB.Close()

	redisClient, err := redis.NewRedisClient(cfg)
	if err != nil {
		appLogger.Fatalf("could not connect to redis: %s", err)
	}
	defer redisClient.Close()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	storeCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	store, err := server.NewObjectStore(storeCtx, cfg)
	cancel()
	if err != nil {
		appLogger.Fatalf("could not connect to object store: %s", err)
	}

	queues, err := server.NewQueueRegistry(cfg, redisClient, []models.Resolution{resolution})
	if err != nil {
		appLogger.Fatalf("could not open queue: %s", err)
	}
	defer queues.Close()
	q, err := queues.Queue(resolution)
	if err != nil {
		appLogger.Fatalf("could not open queue: %s", err)
	}

	encCfg := encoder.Config{
		FFmpegPath:  cfg.Worker.FFmpegPath,
		FFprobePath: cfg.Worker.FFprobePath,
		Preset:      cfg.Worker.Preset,
	}
	if cfg.Worker.CgroupPath != "" {
		group, err := utils.NewCPUGroup(cfg.Worker.CgroupPath, cfg.Worker.CPUShares)
		if err != nil {
			appLogger.Fatalf("could not create cgroup: %s", err)
		}
		defer group.Close()
		encCfg.Limiter = group
	}
	ffmpeg := encoder.NewFFmpeg(encCfg, appLogger)

	repo := repository.NewJobRepo(psqlDB)
	notifier := server.NewNotifier(cfg, redisClient, appLogger)
	gate := utils.NewCPUGate(cfg.Worker.MaxCPUUsage, cfg.Worker.CPUCheckInterval)

	host, err := os.Hostname()
	if err != nil || host == "" {
		host = "worker"
	}

	g, gctx := errgroup.WithContext(ctx)
	for i := 0; i < instances; i++ {
		w, err := worker.NewWorker(worker.Config{
			ID:         fmt.Sprintf("%s-%s-%d", host, resolution, i),
			Resolution: resolution,
			ScratchDir: cfg.Worker.ScratchDir,
			Visibility: cfg.Queue.VisibilityTimeout,
			CPUGate:    gate,
		}, q, repo, store, ffmpeg, notifier, appLogger)
		if err != nil {
			appLogger.Fatalf("could not create worker: %s", err)
		}
		g.Go(func() error { return w.Run(gctx) })
	}
	if err := g.Wait(); err != nil {
		appLogger.Errorf("worker stopped: %s", err)
	}
	appLogger.Info("all workers stopped")
}

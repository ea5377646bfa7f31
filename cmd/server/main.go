package main

import (
	"context"
	"log"
	"os"
	"time"

	"github.com/amankumarsingh77/transcode-orchestrator/internal/config"
	"github.com/amankumarsingh77/transcode-orchestrator/internal/server"
	"github.com/amankumarsingh77/transcode-orchestrator/pkg/db/postgres"
	"github.com/amankumarsingh77/transcode-orchestrator/pkg/db/redis"
	"github.com/amankumarsingh77/transcode-orchestrator/pkg/logger"
	"github.com/joho/godotenv"
)

func main() {
	log.Println("Starting server")
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
	appLogger.Infof("AppVersion: %s, LogLevel: %s, Mode: %s", cfg.Server.AppVersion, cfg.Logger.Level, cfg.Server.Mode)

	psqlDB, err := postgres.NewPsqlDB(cfg)
	if err != nil {
		appLogger.Fatalf("could not connect to db: %s", err)
	}
	appLogger.Infof("db connected, status: %#v", psqlDB.Stats())
	defer psqlDB.Close()

	redisClient, err := redis.NewRedisClient(cfg)
	if err != nil {
		appLogger.Fatalf("could not connect to redis: %s", err)
	}
	appLogger.Infof("redis connected")
	defer redisClient.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	store, err := server.NewObjectStore(ctx, cfg)
	cancel()
	if err != nil {
		appLogger.Fatalf("could not connect to object store: %s", err)
	}
	appLogger.Infof("object store connected, provider: %s", cfg.ObjectStore.Provider)

	s := server.NewServer(cfg, psqlDB, redisClient, store, appLogger)
	if err = s.Run(); err != nil {
		appLogger.Errorf("server stopped: %s", err)
	}
}

package server

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/amankumarsingh77/transcode-orchestrator/internal/config"
	"github.com/amankumarsingh77/transcode-orchestrator/internal/models"
	"github.com/amankumarsingh77/transcode-orchestrator/internal/notify"
	"github.com/amankumarsingh77/transcode-orchestrator/internal/queue"
	"github.com/amankumarsingh77/transcode-orchestrator/internal/transcoding"
	"github.com/amankumarsingh77/transcode-orchestrator/pkg/logger"
	"github.com/go-redis/redis/v8"
	"github.com/jmoiron/sqlx"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"golang.org/x/sync/errgroup"
)

const (
	maxHeaderBytes = 1 << 20
	ctxTimeout     = 5
)

type Server struct {
	echo        *echo.Echo
	cfg         *config.Config
	db          *sqlx.DB
	redisClient *redis.Client
	store       transcoding.ObjectStore
	queues      *queue.Registry
	hub         *notify.Hub
	logger      logger.Logger

	background []func(ctx context.Context) error
}

func NewServer(cfg *config.Config, db *sqlx.DB, redisClient *redis.Client, store transcoding.ObjectStore, logger logger.Logger) *Server {
	return &Server{
		echo:        echo.New(),
		cfg:         cfg,
		db:          db,
		redisClient: redisClient,
		store:       store,
		hub:         notify.NewHub(),
		logger:      logger,
	}
}

// Run serves until SIGINT or SIGTERM and then drains in-flight requests.
func (s *Server) Run() error {
	resolutions, err := models.ParseResolutions(s.cfg.Transcode.Resolutions)
	if err != nil {
		return err
	}
	s.queues, err = NewQueueRegistry(s.cfg, s.redisClient, resolutions)
	if err != nil {
		return err
	}
	defer s.queues.Close()

	if err := s.MapHandlers(s.echo); err != nil {
		return err
	}
	s.echo.HideBanner = true
	s.echo.Server.MaxHeaderBytes = maxHeaderBytes

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGTERM, os.Interrupt)
	defer stop()

	g, gctx := errgroup.WithContext(ctx)
	for _, run := range s.background {
		run := run
		g.Go(func() error { return run(gctx) })
	}
	g.Go(func() error {
		server := &http.Server{
			Addr:              s.cfg.Server.Port,
			ReadHeaderTimeout: s.cfg.Server.ReadTimeout,
			WriteTimeout:      s.cfg.Server.WriteTimeout,
			MaxHeaderBytes:    maxHeaderBytes,
		}
		s.logger.Infof("Server is listening on PORT: %s", s.cfg.Server.Port)
		if err := s.echo.StartServer(server); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), time.Second*ctxTimeout)
		defer cancel()
		s.logger.Infof("shutting down server")
		return s.echo.Shutdown(shutdownCtx)
	})
	return g.Wait()
}

func (s *Server) corsConfig(origins []string) middleware.CORSConfig {
	return middleware.CORSConfig{
		AllowOrigins: origins,
		AllowMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowHeaders: []string{echo.HeaderContentType, echo.HeaderAuthorization},
		MaxAge:       300,
	}
}

package server

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/amankumarsingh77/transcode-orchestrator/internal/middleware"
	"github.com/amankumarsingh77/transcode-orchestrator/internal/notify"
	transcodingHttp "github.com/amankumarsingh77/transcode-orchestrator/internal/transcoding/delivery/http"
	"github.com/amankumarsingh77/transcode-orchestrator/internal/transcoding/repository"
	transcodingUsecase "github.com/amankumarsingh77/transcode-orchestrator/internal/transcoding/usecase"
	"github.com/amankumarsingh77/transcode-orchestrator/pkg/utils"
	"github.com/labstack/echo/v4"
	echoMiddleware "github.com/labstack/echo/v4/middleware"
)

func (s *Server) MapHandlers(e *echo.Echo) error {
	ctx, cancel := context.WithTimeout(context.Background(), time.Second*ctxTimeout)
	defer cancel()

	jobRepo := repository.NewJobRepo(s.db)
	if err := jobRepo.EnsureSchema(ctx); err != nil {
		return fmt.Errorf("ensure schema: %w", err)
	}

	// Events from every process arrive over Redis, so the hub only gets
	// them directly when the channel is off.
	var notifier *notify.Fanout
	if channel := s.cfg.Notify.RedisChannel; channel != "" {
		notifier = NewNotifier(s.cfg, s.redisClient, s.logger)
		relay := notify.NewRelay(s.redisClient, channel, s.hub, s.logger)
		s.background = append(s.background, relay.Run)
	} else {
		notifier = NewNotifier(s.cfg, s.redisClient, s.logger, s.hub)
	}

	transcodingUC := transcodingUsecase.NewTranscodingUseCase(jobRepo, s.store, s.queues, notifier, s.logger)
	reconciler := transcodingUsecase.NewReconciler(s.cfg.Reconciler, jobRepo, s.queues, notifier, s.logger)
	s.background = append(s.background, reconciler.Run)

	transcodingHandlers := transcodingHttp.NewTranscodingHandler(transcodingUC, s.hub, s.cfg, s.logger)

	mw := middleware.NewMiddlewareManager(s.cfg, []string{"*"}, s.logger)

	e.Use(echoMiddleware.RequestID())
	e.Use(mw.RequestLoggerMiddleware)
	e.Use(echoMiddleware.CORSWithConfig(s.corsConfig(mw.Origins())))
	e.Use(echoMiddleware.RecoverWithConfig(echoMiddleware.RecoverConfig{
		StackSize:         1 << 10,
		DisablePrintStack: true,
		DisableStackAll:   true,
	}))
	e.Use(echoMiddleware.BodyLimit(fmt.Sprintf("%dM", s.cfg.Server.MaxUploadMB+1)))

	v1 := e.Group("/api/v1")
	health := v1.Group("/health")
	transcodingGroup := v1.Group("")

	transcodingHttp.MapTranscodingRoutes(transcodingGroup, transcodingHandlers, mw)
	health.GET("", func(c echo.Context) error {
		s.logger.Infof("Health check RequestID: %s", utils.GetRequestID(c))
		status := map[string]string{"status": "OK", "postgres": "OK", "redis": "OK"}
		code := http.StatusOK
		if err := s.db.PingContext(c.Request().Context()); err != nil {
			status["postgres"], status["status"], code = err.Error(), "DEGRADED", http.StatusServiceUnavailable
		}
		if err := s.redisClient.Ping(c.Request().Context()).Err(); err != nil {
			status["redis"], status["status"], code = err.Error(), "DEGRADED", http.StatusServiceUnavailable
		}
		return c.JSON(code, status)
	})
	return nil
}

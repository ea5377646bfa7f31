package http

import (
	"github.com/amankumarsingh77/transcode-orchestrator/internal/middleware"
	"github.com/amankumarsingh77/transcode-orchestrator/internal/transcoding"
	"github.com/labstack/echo/v4"
)

func MapTranscodingRoutes(group *echo.Group, h transcoding.Handler, mw *middleware.MiddlewareManager) {
	group.Use(mw.AuthJWTMiddleware())
	group.POST("/videos", h.UploadVideo())
	group.GET("/videos", h.ListVideos())
	group.GET("/videos/:video_id", h.GetVideo())
	group.POST("/videos/:video_id/dispatch", h.DispatchVideo())
	group.GET("/jobs/:resolution/:job_id", h.GetJobStatus())
	group.GET("/stats", h.GetQueueStats())
	group.GET("/events", h.StreamEvents())
}

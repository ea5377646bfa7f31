package http

import (
	"encoding/json"
	"errors"
	"fmt"
	"mime"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/amankumarsingh77/transcode-orchestrator/internal/config"
	"github.com/amankumarsingh77/transcode-orchestrator/internal/models"
	"github.com/amankumarsingh77/transcode-orchestrator/internal/transcoding"
	"github.com/amankumarsingh77/transcode-orchestrator/pkg/logger"
	"github.com/amankumarsingh77/transcode-orchestrator/pkg/utils"
	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
)

const eventBuffer = 64

// EventSource hands out live event subscriptions.
type EventSource interface {
	Subscribe(buffer int) (<-chan models.Event, func())
}

type transcodingHandler struct {
	uc     transcoding.UseCase
	events EventSource
	cfg    *config.Config
	logger logger.Logger
}

func NewTranscodingHandler(uc transcoding.UseCase, events EventSource, cfg *config.Config, log logger.Logger) transcoding.Handler {
	return &transcodingHandler{
		uc:     uc,
		events: events,
		cfg:    cfg,
		logger: log,
	}
}

func (h *transcodingHandler) UploadVideo() echo.HandlerFunc {
	return func(c echo.Context) error {
		if d := h.cfg.Server.UploadTimeout; d > 0 {
			rc := http.NewResponseController(c.Response().Writer)
			deadline := time.Now().Add(d)
			if err := rc.SetReadDeadline(deadline); err != nil {
				h.logger.Debugf("UploadVideo - SetReadDeadline error: %v", err)
			}
			if err := rc.SetWriteDeadline(deadline); err != nil {
				h.logger.Debugf("UploadVideo - SetWriteDeadline error: %v", err)
			}
		}

		fh, err := c.FormFile("file")
		if err != nil {
			return c.JSON(http.StatusBadRequest, map[string]string{"error": "missing file field"})
		}
		if limit := h.cfg.Server.MaxUploadMB << 20; limit > 0 && fh.Size > limit {
			return c.JSON(http.StatusRequestEntityTooLarge, map[string]string{
				"error": fmt.Sprintf("file exceeds %d MB", h.cfg.Server.MaxUploadMB),
			})
		}
		mimeType := fh.Header.Get(echo.HeaderContentType)
		if mimeType == "" || mimeType == echo.MIMEOctetStream {
			mimeType = mime.TypeByExtension(filepath.Ext(fh.Filename))
		}

		path, err := utils.SaveMultipartFile(fh, os.TempDir())
		if err != nil {
			h.logger.Errorf("UploadVideo - SaveMultipartFile RequestID: %s error: %v", utils.GetRequestID(c), err)
			return c.JSON(http.StatusInternalServerError, map[string]string{"error": "failed to read upload"})
		}
		defer os.Remove(path)

		res, err := h.uc.Upload(c.Request().Context(), &models.UploadInput{
			LocalPath:        path,
			OriginalFilename: fh.Filename,
			Size:             fh.Size,
			MimeType:         mimeType,
		})
		if err != nil {
			if res != nil {
				return c.JSON(http.StatusAccepted, map[string]interface{}{"video": res, "error": err.Error()})
			}
			return h.errorResponse(c, "UploadVideo", err)
		}
		return c.JSON(http.StatusCreated, res)
	}
}

func (h *transcodingHandler) DispatchVideo() echo.HandlerFunc {
	return func(c echo.Context) error {
		videoID, err := uuid.Parse(c.Param("video_id"))
		if err != nil {
			return c.JSON(http.StatusBadRequest, map[string]string{"error": "Invalid video id"})
		}
		source := &models.SourceMetadata{}
		if err := c.Bind(source); err != nil {
			return c.JSON(http.StatusBadRequest, map[string]string{"error": "Invalid request payload"})
		}
		jobs, err := h.uc.Dispatch(c.Request().Context(), videoID, *source)
		if err != nil {
			if len(jobs) > 0 {
				return c.JSON(http.StatusAccepted, map[string]interface{}{
					"video_id": videoID,
					"jobs":     jobs,
					"error":    err.Error(),
				})
			}
			return h.errorResponse(c, "DispatchVideo", err)
		}
		return c.JSON(http.StatusCreated, map[string]interface{}{"video_id": videoID, "jobs": jobs})
	}
}

func (h *transcodingHandler) ListVideos() echo.HandlerFunc {
	return func(c echo.Context) error {
		pagination, err := utils.GetPaginationFromCtx(c)
		if err != nil {
			return c.JSON(http.StatusBadRequest, map[string]string{"error": err.Error()})
		}
		videos, err := h.uc.ListVideos(c.Request().Context(), pagination)
		if err != nil {
			return h.errorResponse(c, "ListVideos", err)
		}
		return c.JSON(http.StatusOK, videos)
	}
}

func (h *transcodingHandler) GetVideo() echo.HandlerFunc {
	return func(c echo.Context) error {
		videoID, err := uuid.Parse(c.Param("video_id"))
		if err != nil {
			return c.JSON(http.StatusBadRequest, map[string]string{"error": "Invalid video id"})
		}
		video, err := h.uc.GetVideo(c.Request().Context(), videoID)
		if err != nil {
			return h.errorResponse(c, "GetVideo", err)
		}
		return c.JSON(http.StatusOK, video)
	}
}

func (h *transcodingHandler) GetJobStatus() echo.HandlerFunc {
	return func(c echo.Context) error {
		jobID, err := uuid.Parse(c.Param("job_id"))
		if err != nil {
			return c.JSON(http.StatusBadRequest, map[string]string{"error": "Invalid job id"})
		}
		view, err := h.uc.GetJobStatus(c.Request().Context(), c.Param("resolution"), jobID)
		if err != nil {
			return h.errorResponse(c, "GetJobStatus", err)
		}
		return c.JSON(http.StatusOK, view)
	}
}

func (h *transcodingHandler) GetQueueStats() echo.HandlerFunc {
	return func(c echo.Context) error {
		stats, err := h.uc.GetQueueStats(c.Request().Context())
		if err != nil {
			if len(stats) == 0 {
				return h.errorResponse(c, "GetQueueStats", err)
			}
			return c.JSON(http.StatusOK, map[string]interface{}{"queues": stats, "error": err.Error()})
		}
		return c.JSON(http.StatusOK, map[string]interface{}{"queues": stats})
	}
}

// StreamEvents writes job events as server-sent events until the client goes
// away. An optional video_id query narrows the stream to one video.
func (h *transcodingHandler) StreamEvents() echo.HandlerFunc {
	return func(c echo.Context) error {
		var filter uuid.UUID
		if q := c.QueryParam("video_id"); q != "" {
			id, err := uuid.Parse(q)
			if err != nil {
				return c.JSON(http.StatusBadRequest, map[string]string{"error": "Invalid video id"})
			}
			filter = id
		}

		events, unsubscribe := h.events.Subscribe(eventBuffer)
		defer unsubscribe()

		// The stream outlives the server-wide write timeout.
		if err := http.NewResponseController(c.Response().Writer).SetWriteDeadline(time.Time{}); err != nil {
			h.logger.Warnf("StreamEvents - SetWriteDeadline error: %v", err)
		}

		w := c.Response()
		w.Header().Set(echo.HeaderContentType, "text/event-stream")
		w.Header().Set("Cache-Control", "no-cache")
		w.Header().Set("Connection", "keep-alive")
		w.WriteHeader(http.StatusOK)
		w.Flush()

		ctx := c.Request().Context()
		for {
			select {
			case <-ctx.Done():
				return nil
			case ev, ok := <-events:
				if !ok {
					return nil
				}
				if filter != uuid.Nil && ev.VideoID != filter {
					continue
				}
				data, err := json.Marshal(ev)
				if err != nil {
					h.logger.Warnf("StreamEvents - Marshal error: %v", err)
					continue
				}
				if _, err := fmt.Fprintf(w, "event: %s\ndata: %s\n\n", ev.Type, data); err != nil {
					return nil
				}
				w.Flush()
			}
		}
	}
}

func (h *transcodingHandler) errorResponse(c echo.Context, op string, err error) error {
	status := statusFor(err)
	if status >= http.StatusInternalServerError {
		h.logger.Errorf("%s RequestID: %s error: %v", op, utils.GetRequestID(c), err)
	}
	return c.JSON(status, map[string]string{"error": err.Error()})
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, transcoding.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, transcoding.ErrVideoNotUploaded), errors.Is(err, transcoding.ErrAlreadyDispatched):
		return http.StatusConflict
	case transcoding.KindOf(err) == transcoding.KindValidation:
		return http.StatusBadRequest
	case transcoding.KindOf(err) == transcoding.KindTransientIO:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

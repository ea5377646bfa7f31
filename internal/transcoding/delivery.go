package transcoding

import "github.com/labstack/echo/v4"

type Handler interface {
	UploadVideo() echo.HandlerFunc
	DispatchVideo() echo.HandlerFunc
	ListVideos() echo.HandlerFunc
	GetVideo() echo.HandlerFunc
	GetJobStatus() echo.HandlerFunc
	GetQueueStats() echo.HandlerFunc
	StreamEvents() echo.HandlerFunc
}

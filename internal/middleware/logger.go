package middleware

import (
	"time"

	"github.com/amankumarsingh77/transcode-orchestrator/pkg/utils"
	"github.com/labstack/echo/v4"
)

// RequestLoggerMiddleware logs one line per request once the handler returns.
func (mw *MiddlewareManager) RequestLoggerMiddleware(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		start := time.Now()
		err := next(c)

		req := c.Request()
		res := c.Response()
		if err != nil {
			c.Error(err)
		}
		mw.logger.Infof("RequestID: %s, Method: %s, URI: %s, Status: %v, Size: %v, Time: %s, IP: %s",
			utils.GetRequestID(c),
			req.Method,
			req.URL.String(),
			res.Status,
			res.Size,
			time.Since(start),
			utils.GetIPAddress(c),
		)
		return nil
	}
}

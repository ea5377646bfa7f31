package middleware

import (
	"github.com/amankumarsingh77/transcode-orchestrator/internal/config"
	"github.com/amankumarsingh77/transcode-orchestrator/pkg/logger"
)

type MiddlewareManager struct {
	cfg     *config.Config
	origins []string
	logger  logger.Logger
}

// Middleware manager constructor
func NewMiddlewareManager(cfg *config.Config, origins []string, logger logger.Logger) *MiddlewareManager {
	return &MiddlewareManager{cfg: cfg, origins: origins, logger: logger}
}

func (mw *MiddlewareManager) Origins() []string {
	if len(mw.origins) == 0 {
		return []string{"*"}
	}
	return mw.origins
}

package gitsync

import (
	"github.com/devplane/devplane/internal/common/config"
	"github.com/devplane/devplane/internal/common/logger"
)

// Provide creates the git sync service.
func Provide(cfg config.GitConfig, log *logger.Logger) (*Service, error) {
	return NewService(cfg, log), nil
}

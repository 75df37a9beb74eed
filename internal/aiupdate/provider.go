package aiupdate

import (
	"github.com/devplane/devplane/internal/common/logger"
)

// Provide creates the AI update service over the agent dispatcher.
func Provide(agent Agent, log *logger.Logger) *Service {
	return NewService(agent, log)
}

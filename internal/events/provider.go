package events

import (
	"fmt"
	"strings"

	"github.com/devplane/devplane/internal/common/config"
	"github.com/devplane/devplane/internal/common/logger"
	"github.com/devplane/devplane/internal/events/bus"
)

// ProvidedBus exposes the selected bus behind the EventBus interface while
// keeping the concrete implementation reachable; main uses that to report
// which fabric the process runs on.
type ProvidedBus struct {
	Bus    bus.EventBus
	Memory *bus.MemoryEventBus
	NATS   *bus.NATSEventBus
}

// Provide selects the event fabric: a configured NATS URL means the broker,
// anything else the in-process bus. The cleanup tears the selected bus down.
func Provide(cfg *config.Config, log *logger.Logger) (*ProvidedBus, func() error, error) {
	url := strings.TrimSpace(cfg.NATS.URL)
	if url == "" {
		memBus := bus.NewMemoryEventBus(log)
		cleanup := func() error {
			memBus.Close()
			return nil
		}
		return &ProvidedBus{Bus: memBus, Memory: memBus}, cleanup, nil
	}

	natsBus, err := bus.NewNATSEventBus(cfg.NATS, log)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to initialize NATS event bus: %w", err)
	}
	cleanup := func() error {
		natsBus.Close()
		return nil
	}
	return &ProvidedBus{Bus: natsBus, NATS: natsBus}, cleanup, nil
}

package bus

import (
	"fmt"

	"github.com/camal-digital/tarifario/internal/domain"
)

// New builds the event bus named by the configuration: "channel" for a
// single node, "nats" for distributed deployments.
func New(cfg domain.EventBusConfig) (domain.EventBus, error) {
	switch cfg.Type {
	case "channel":
		return NewChannelBus(cfg.ChannelBufferSize), nil
	case "nats":
		return NewNATSBus(cfg)
	default:
		return nil, fmt.Errorf("unsupported event bus type: %s", cfg.Type)
	}
}

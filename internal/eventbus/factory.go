package eventbus

import (
	"github.com/rs/zerolog"

	"memoryhub/internal/config"
)

// NewBridge constructs the cross-process bridge cfg.Backend names, or nil
// for "none"/unset — a nil Bridge makes Publish purely in-process.
func NewBridge(cfg config.EventBusConfig, log zerolog.Logger) Bridge {
	switch cfg.Backend {
	case "redis":
		return NewRedisBridge(cfg.Redis, log)
	case "kafka":
		return NewKafkaBridge(cfg.Kafka, log)
	default:
		return nil
	}
}

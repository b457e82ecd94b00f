package broadcast

import (
	"fmt"

	"github.com/stayware/eventbus/pkg/config"
)

// NotifierCreator builds a Notifier from settings. The indirection keeps
// transport constructors swappable in tests.
type NotifierCreator func(cfg config.BroadcastSettings) (Notifier, error)

var NewRedisNotifierFromSettings NotifierCreator = func(cfg config.BroadcastSettings) (Notifier, error) {
	return NewRedisNotifier(cfg.URL)
}

var NewRabbitMqNotifierFromSettings NotifierCreator = func(cfg config.BroadcastSettings) (Notifier, error) {
	return NewRabbitMqNotifier(cfg.URL, cfg.Exchange)
}

// NewNotifier selects the side-channel transport from configuration.
func NewNotifier(cfg config.BroadcastSettings) (Notifier, error) {
	switch cfg.Type {
	case "redis":
		return NewRedisNotifierFromSettings(cfg)
	case "rabbitmq":
		return NewRabbitMqNotifierFromSettings(cfg)
	default:
		return nil, fmt.Errorf("unsupported notifier type: %s", cfg.Type)
	}
}

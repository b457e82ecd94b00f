package config

// BroadcastSettings holds configuration for the best-effort side channel.
type BroadcastSettings struct {
	Type     string `mapstructure:"type"` // "redis" or "rabbitmq"
	URL      string `mapstructure:"url"`
	Channel  string `mapstructure:"channel"`  // pub/sub channel (redis)
	Exchange string `mapstructure:"exchange"` // fanout exchange (rabbitmq)
}

// ConsumerSettings identifies one consumer of the event stream. Read
// batching is an engine concern, configured via queue.read_count.
type ConsumerSettings struct {
	TargetSystem  string   `mapstructure:"target_system" validate:"required"`
	Group         string   `mapstructure:"group" validate:"required"`
	ConsumerID    string   `mapstructure:"consumer_id"`
	Subscriptions []string `mapstructure:"subscriptions"` // event types of interest; empty means all
}

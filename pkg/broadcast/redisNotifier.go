package broadcast

import (
	"context"
	"strings"

	"github.com/redis/go-redis/v9"
)

type redisNotifier struct {
	client *redis.Client
}

// NewRedisNotifier publishes over Redis pub/sub, which the push gateway
// subscribes to. Messages to a channel with no subscriber are discarded
// by the broker, matching the side channel's at-most-once intent.
func NewRedisNotifier(url string) (Notifier, error) {
	if strings.HasPrefix(url, "redis://") {
		opt, err := redis.ParseURL(url)
		if err != nil {
			return nil, err
		}
		return &redisNotifier{client: redis.NewClient(opt)}, nil
	}
	return &redisNotifier{client: redis.NewClient(&redis.Options{Addr: url})}, nil
}

func (n *redisNotifier) Send(ctx context.Context, eventName string, payload []byte) error {
	return n.client.Publish(ctx, eventName, payload).Err()
}

func (n *redisNotifier) Close() error {
	return n.client.Close()
}

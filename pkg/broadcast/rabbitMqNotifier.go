package broadcast

import (
	"context"
	"fmt"
	"sync"

	"github.com/streadway/amqp"
)

type rabbitMqNotifier struct {
	connection *amqp.Connection
	channel    *amqp.Channel
	exchange   string
	mu         sync.Mutex
}

// NewRabbitMqNotifier publishes to a fanout exchange the UI gateways
// bind their queues to. The exchange is non-durable: undeliverable
// broadcasts are dropped rather than queued.
func NewRabbitMqNotifier(url, exchange string) (Notifier, error) {
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to RabbitMQ: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, err
	}
	err = ch.ExchangeDeclare(
		exchange, // name
		"fanout", // type
		false,    // durable
		true,     // auto-deleted
		false,    // internal
		false,    // no-wait
		nil,      // arguments
	)
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to declare exchange: %w", err)
	}
	return &rabbitMqNotifier{connection: conn, channel: ch, exchange: exchange}, nil
}

func (n *rabbitMqNotifier) Send(ctx context.Context, eventName string, payload []byte) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.channel.Publish(
		n.exchange, eventName, false, false,
		amqp.Publishing{
			ContentType: "application/json",
			Body:        payload,
		},
	)
}

func (n *rabbitMqNotifier) Close() error {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.channel != nil {
		n.channel.Close()
	}
	if n.connection != nil {
		return n.connection.Close()
	}
	return nil
}

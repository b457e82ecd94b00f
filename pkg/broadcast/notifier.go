package broadcast

import "context"

// Notifier pushes a serialized payload to a gateway that fans it out to
// connected clients. Delivery is at-most-once and non-durable.
type Notifier interface {
	// Send pushes the payload under the given event name.
	Send(ctx context.Context, eventName string, payload []byte) error
	// Close cleans up any resources (connections).
	Close() error
}

package broadcast

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/google/uuid"
)

// DefaultEventName is the single logical event name broadcasts go out
// under.
const DefaultEventName = "system:event"

// Message is the side-channel payload. Sequence is an ordering hint for
// clients; it is strictly increasing per (tenant, resource) key within
// one process.
type Message struct {
	Type          string            `json:"type"`
	TenantID      string            `json:"tenant_id"`
	ResourceID    string            `json:"resource_id"`
	Action        string            `json:"action"`
	Details       map[string]string `json:"details,omitempty"`
	CorrelationID string            `json:"correlation_id"`
	Sequence      uint64            `json:"sequence"`
	Timestamp     time.Time         `json:"timestamp"`
}

// Broadcaster is the best-effort real-time side channel. It never blocks
// or fails the durable path: a broadcast that cannot be delivered is
// dropped. Sequence counters are per-process-instance only; replicas do
// not share or synchronize them.
type Broadcaster struct {
	notifier  Notifier
	eventName string

	mu        sync.Mutex
	sequences map[string]uint64
}

// NewBroadcaster wraps a notifier. An empty eventName selects
// DefaultEventName.
func NewBroadcaster(notifier Notifier, eventName string) *Broadcaster {
	if eventName == "" {
		eventName = DefaultEventName
	}
	return &Broadcaster{
		notifier:  notifier,
		eventName: eventName,
		sequences: make(map[string]uint64),
	}
}

// Broadcast assigns the next sequence for the message's (tenant,
// resource) key, stamps it, and pushes it to the gateway. Send failures
// are absorbed: the returned sequence is the only observable effect.
func (b *Broadcaster) Broadcast(ctx context.Context, msg Message) uint64 {
	msg.Sequence = b.nextSequence(msg.TenantID, msg.ResourceID)
	if msg.CorrelationID == "" {
		msg.CorrelationID = uuid.NewString()
	}
	if msg.Timestamp.IsZero() {
		msg.Timestamp = time.Now()
	}

	payload, err := json.Marshal(msg)
	if err != nil {
		return msg.Sequence
	}
	// Best effort: a failed send is dropped, not retried or logged.
	_ = b.notifier.Send(ctx, b.eventName, payload)
	return msg.Sequence
}

func (b *Broadcaster) nextSequence(tenantID, resourceID string) uint64 {
	key := tenantID + "|" + resourceID
	b.mu.Lock()
	defer b.mu.Unlock()
	b.sequences[key]++
	return b.sequences[key]
}

// Close releases the underlying notifier.
func (b *Broadcaster) Close() error {
	return b.notifier.Close()
}

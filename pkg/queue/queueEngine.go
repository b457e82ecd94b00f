package queue

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	semconv "go.opentelemetry.io/otel/semconv/v1.10.0"
	"go.opentelemetry.io/otel/trace"

	"github.com/stayware/eventbus/pkg/config"
	"github.com/stayware/eventbus/pkg/event"
)

var (
	// ErrNotConnected is returned when an operation is attempted outside
	// the engine's connected lifecycle.
	ErrNotConnected = errors.New("queue engine is not connected")
)

// Handler processes one delivered event. A non-nil error triggers the
// bounded retry cycle; handlers must be idempotent under redelivery.
type Handler func(ctx context.Context, e *event.Envelope, messageID string) error

// Engine is the durable queue engine over Redis Streams. It provides
// at-least-once delivery through consumer groups: publish, idempotent
// group creation, blocking consumption with pending-entry reclaim,
// bounded retry, a delivery trail, and read-only introspection.
type Engine struct {
	client     *redis.Client
	tracer     trace.Tracer
	maxRetries int
	retryDelay time.Duration
	readCount  int64
	blockWait  time.Duration
	cooldown   time.Duration

	connected atomic.Bool
	done      chan struct{}
	closeOnce sync.Once
	attempts  *retryLedger
}

// Connect dials Redis, verifies connectivity, and returns a connected engine.
func Connect(ctx context.Context, cfg config.QueueSettings) (*Engine, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("connect to redis at %s: %w", cfg.Addr, err)
	}
	return NewEngine(client, cfg), nil
}

// NewEngine wraps an existing client. The engine owns its retry ledger
// and disconnect signal; the caller owns the client's lifetime unless
// Close is used.
func NewEngine(client *redis.Client, cfg config.QueueSettings) *Engine {
	e := &Engine{
		client:     client,
		tracer:     otel.Tracer("eventbus"),
		maxRetries: cfg.MaxRetries,
		retryDelay: cfg.RetryDelay,
		readCount:  cfg.ReadCount,
		blockWait:  cfg.BlockWait,
		cooldown:   cfg.Cooldown,
		done:       make(chan struct{}),
		attempts:   newRetryLedger(),
	}
	e.connected.Store(true)
	return e
}

// Publish appends the event to the named stream and records the outcome
// in the delivery trail. The entry id is broker-assigned and strictly
// increasing. Publish failures are recorded and returned, never swallowed.
func (q *Engine) Publish(ctx context.Context, stream string, e *event.Envelope) (string, error) {
	if !q.connected.Load() {
		return "", ErrNotConnected
	}

	ctx, span := q.tracer.Start(ctx, "Publish",
		trace.WithAttributes(
			semconv.MessagingSystemKey.String("redis-streams"),
			semconv.MessagingDestinationKey.String(stream),
			attribute.String("event.id", e.EventID),
			attribute.String("event.type", string(e.Type)),
			attribute.String("event.tenant_id", e.TenantID),
			attribute.String("event.priority", string(e.Priority)),
		),
	)
	defer span.End()

	values, err := encodeWireRecord(e)
	if err != nil {
		span.RecordError(err)
		return "", err
	}

	id, err := q.client.XAdd(ctx, &redis.XAddArgs{
		Stream: stream,
		Values: values,
	}).Result()
	if err != nil {
		span.RecordError(err)
		q.writeDeliveryLog(ctx, e, DeliveryFailed, 0, e.RetryCount, err)
		return "", fmt.Errorf("append to stream %s: %w", stream, err)
	}

	// Append is synchronous from the caller's perspective.
	q.writeDeliveryLog(ctx, e, DeliverySuccess, 0, e.RetryCount, nil)
	return id, nil
}

// EnsureConsumerGroup creates the stream if absent and positions the
// group at the tail. An already-existing group is success.
func (q *Engine) EnsureConsumerGroup(ctx context.Context, stream, group string) error {
	if !q.connected.Load() {
		return ErrNotConnected
	}
	err := q.client.XGroupCreateMkStream(ctx, stream, group, "$").Err()
	if err != nil && !strings.Contains(err.Error(), "BUSYGROUP") {
		return fmt.Errorf("create consumer group %s on %s: %w", group, stream, err)
	}
	return nil
}

// Consume runs the blocking consumption loop for one (stream, group,
// consumer) tuple. Each iteration first reclaims this consumer's pending
// entries, then requests a bounded batch of new messages. Transport
// errors cool the loop down and restart it; the loop exits only when the
// engine is disconnected or the context is cancelled.
func (q *Engine) Consume(ctx context.Context, stream, group, consumer string, handler Handler) error {
	if err := q.EnsureConsumerGroup(ctx, stream, group); err != nil {
		return err
	}

	for {
		select {
		case <-q.done:
			return nil
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		if err := q.reclaimPending(ctx, stream, group, consumer, handler); err != nil {
			log.Printf("Failed to reclaim pending entries on %s/%s: %v", stream, group, err)
			q.sleep(ctx, q.cooldown)
			continue
		}

		streams, err := q.client.XReadGroup(ctx, &redis.XReadGroupArgs{
			Group:    group,
			Consumer: consumer,
			Streams:  []string{stream, ">"},
			Count:    q.readCount,
			Block:    q.blockWait,
		}).Result()
		if err != nil {
			if errors.Is(err, redis.Nil) {
				continue // bounded wait elapsed with no new messages
			}
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				continue
			}
			log.Printf("Failed to read from %s/%s: %v", stream, group, err)
			q.sleep(ctx, q.cooldown)
			continue
		}

		for _, s := range streams {
			for _, msg := range s.Messages {
				q.processMessage(ctx, stream, group, msg, handler)
			}
		}
	}
}

// reclaimPending re-processes messages that were delivered to this
// consumer but never acknowledged, recovering work lost to a crash.
func (q *Engine) reclaimPending(ctx context.Context, stream, group, consumer string, handler Handler) error {
	pending, err := q.client.XPendingExt(ctx, &redis.XPendingExtArgs{
		Stream:   stream,
		Group:    group,
		Start:    "-",
		End:      "+",
		Count:    q.readCount,
		Consumer: consumer,
	}).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil
		}
		return err
	}

	for _, p := range pending {
		entries, err := q.client.XRange(ctx, stream, p.ID, p.ID).Result()
		if err != nil {
			return err
		}
		if len(entries) == 0 {
			// Entry trimmed from the stream; drop it from the pending set.
			q.client.XAck(ctx, stream, group, p.ID)
			q.attempts.clear(p.ID)
			continue
		}
		q.processMessage(ctx, stream, group, entries[0], handler)
	}
	return nil
}

// processMessage runs the per-message state machine: decode, invoke the
// handler, then acknowledge on success or apply bounded linear-backoff
// retry on failure. Exhausted messages are force-acknowledged and marked
// failed; there is no dead-letter stream.
func (q *Engine) processMessage(ctx context.Context, stream, group string, msg redis.XMessage, handler Handler) {
	ctx, span := q.tracer.Start(ctx, "ProcessMessage",
		trace.WithAttributes(
			semconv.MessagingSystemKey.String("redis-streams"),
			semconv.MessagingDestinationKey.String(stream),
			attribute.String("messaging.message_id", msg.ID),
			attribute.String("messaging.consumer_group", group),
		),
	)
	defer span.End()

	e, err := decodeWireRecord(msg.Values)
	if err != nil {
		// Undecodable entries can never succeed; drop them from the group.
		log.Printf("Failed to decode message %s on %s: %v", msg.ID, stream, err)
		span.RecordError(err)
		q.client.XAck(ctx, stream, group, msg.ID)
		q.attempts.clear(msg.ID)
		return
	}

	// Expose the effective attempt count to the handler.
	publishedRetries := e.RetryCount
	e.RetryCount = publishedRetries + q.attempts.count(msg.ID)

	start := time.Now()
	handlerErr := handler(ctx, e, msg.ID)
	if handlerErr == nil {
		if ackErr := q.client.XAck(ctx, stream, group, msg.ID).Err(); ackErr != nil {
			log.Printf("Failed to ack message %s on %s/%s: %v", msg.ID, stream, group, ackErr)
		}
		q.attempts.clear(msg.ID)
		q.writeDeliveryLog(ctx, e, DeliverySuccess, time.Since(start), e.RetryCount, nil)
		return
	}

	span.RecordError(handlerErr)
	currentRetry := publishedRetries + q.attempts.next(msg.ID)
	if currentRetry <= q.maxRetries {
		// Leave the message unacknowledged; it stays pending and will be
		// reclaimed or redelivered.
		q.sleep(ctx, q.retryDelay*time.Duration(currentRetry))
		q.writeDeliveryLog(ctx, e, DeliveryRetrying, time.Since(start), currentRetry, handlerErr)
		return
	}

	// Retries exhausted: remove from the pending set so it is never
	// redelivered, and record the terminal failure.
	if ackErr := q.client.XAck(ctx, stream, group, msg.ID).Err(); ackErr != nil {
		log.Printf("Failed to force-ack message %s on %s/%s: %v", msg.ID, stream, group, ackErr)
	}
	q.attempts.clear(msg.ID)
	q.writeDeliveryLog(ctx, e, DeliveryFailed, time.Since(start), currentRetry,
		fmt.Errorf("max retries exhausted: %w", handlerErr))
}

// StreamStats is a read-only snapshot of one stream and its groups.
type StreamStats struct {
	Stream       string
	Length       int64
	FirstEntryID string
	LastEntryID  string
	Groups       []GroupStats
}

type GroupStats struct {
	Name            string
	Consumers       int64
	Pending         int64
	LastDeliveredID string
}

// Stats inspects the stream without mutating any state.
func (q *Engine) Stats(ctx context.Context, stream string) (*StreamStats, error) {
	if !q.connected.Load() {
		return nil, ErrNotConnected
	}

	info, err := q.client.XInfoStream(ctx, stream).Result()
	if err != nil {
		return nil, fmt.Errorf("inspect stream %s: %w", stream, err)
	}

	stats := &StreamStats{
		Stream:       stream,
		Length:       info.Length,
		FirstEntryID: info.FirstEntry.ID,
		LastEntryID:  info.LastEntry.ID,
	}

	groups, err := q.client.XInfoGroups(ctx, stream).Result()
	if err != nil {
		return nil, fmt.Errorf("inspect groups of %s: %w", stream, err)
	}
	for _, g := range groups {
		stats.Groups = append(stats.Groups, GroupStats{
			Name:            g.Name,
			Consumers:       g.Consumers,
			Pending:         g.Pending,
			LastDeliveredID: g.LastDeliveredID,
		})
	}
	return stats, nil
}

// HealthCheck pings the broker. Read-only.
func (q *Engine) HealthCheck(ctx context.Context) error {
	if !q.connected.Load() {
		return ErrNotConnected
	}
	if err := q.client.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("broker unreachable: %w", err)
	}
	return nil
}

// Disconnect marks the engine disconnected. Consume loops observe the
// signal before each iteration and inside every backoff sleep, so
// shutdown latency is bounded by the configured delays.
func (q *Engine) Disconnect() {
	q.closeOnce.Do(func() {
		q.connected.Store(false)
		close(q.done)
	})
}

// Close disconnects and releases the underlying client.
func (q *Engine) Close() error {
	q.Disconnect()
	return q.client.Close()
}

// sleep waits for d unless the engine is disconnected or the context is
// cancelled first.
func (q *Engine) sleep(ctx context.Context, d time.Duration) {
	if d <= 0 {
		return
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
	case <-q.done:
	case <-ctx.Done():
	}
}

package publisher

import (
	"context"
	"fmt"
	"log"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/stayware/eventbus/pkg/broadcast"
	"github.com/stayware/eventbus/pkg/event"
	"github.com/stayware/eventbus/pkg/scheduler"
)

// QueuePublisher is the slice of the queue engine the router depends on.
type QueuePublisher interface {
	Publish(ctx context.Context, stream string, e *event.Envelope) (string, error)
}

// Announcer is the best-effort side channel used for CRITICAL fan-out.
type Announcer interface {
	Broadcast(ctx context.Context, msg broadcast.Message) uint64
}

// AuditRecorder is the slice of the audit trail the router depends on.
// The read side stays with the full audit.Repository.
type AuditRecorder interface {
	Record(ctx context.Context, e *event.Envelope) error
}

// Publisher validates and enriches outbound events, records them in the
// audit trail, and routes them to the durable stream or the batch
// scheduler. CRITICAL realtime events additionally fan out over the side
// channel. Publish failures are self-reported as System error events.
type Publisher struct {
	queue     QueuePublisher
	auditLog  AuditRecorder
	announcer Announcer
	batch     *scheduler.Scheduler
	tracer    trace.Tracer
	stream    string
	origin    string
}

// New wires a router. announcer may be nil when no side channel is
// deployed; auditLog may be nil only in tests.
func New(queue QueuePublisher, auditLog AuditRecorder, announcer Announcer, stream, origin string) *Publisher {
	p := &Publisher{
		queue:     queue,
		auditLog:  auditLog,
		announcer: announcer,
		tracer:    otel.Tracer("eventbus"),
		stream:    stream,
		origin:    origin,
	}
	p.batch = scheduler.New(p.deliverScheduled)
	return p
}

// PublishEvent routes one event. Realtime events return the broker's
// delivery id; batch events return a scheduled marker id and the stream
// write happens when the slot fires.
func (p *Publisher) PublishEvent(ctx context.Context, e *event.Envelope) (string, error) {
	return p.publish(ctx, e, true)
}

func (p *Publisher) publish(ctx context.Context, e *event.Envelope, reportFailure bool) (string, error) {
	ctx, span := p.tracer.Start(ctx, "PublishEvent",
		trace.WithAttributes(
			attribute.String("event.type", string(e.Type)),
			attribute.String("event.action", string(e.Action)),
			attribute.String("event.sync_mode", string(e.SyncMode)),
		),
	)
	defer span.End()

	e.Enrich(time.Now())
	if err := e.Validate(); err != nil {
		span.RecordError(err)
		if reportFailure {
			p.reportFailure(ctx, e, err)
		}
		return "", fmt.Errorf("validate event: %w", err)
	}
	span.SetAttributes(attribute.String("event.id", e.EventID))

	// The audit write and the stream write are not atomic; a crash in
	// between leaves an audit row without a stream entry.
	if p.auditLog != nil {
		if err := p.auditLog.Record(ctx, e); err != nil {
			span.RecordError(err)
			if reportFailure {
				p.reportFailure(ctx, e, err)
			}
			return "", fmt.Errorf("record audit trail for %s: %w", e.EventID, err)
		}
	}

	if e.SyncMode == event.SyncBatch {
		runAt, err := p.batch.Schedule(e)
		if err != nil {
			span.RecordError(err)
			if reportFailure {
				p.reportFailure(ctx, e, err)
			}
			return "", fmt.Errorf("schedule event %s: %w", e.EventID, err)
		}
		span.SetAttributes(attribute.String("event.scheduled_for", runAt.Format(time.RFC3339)))
		return "scheduled:" + e.EventID, nil
	}

	deliveryID, err := p.queue.Publish(ctx, p.stream, e)
	if err != nil {
		span.RecordError(err)
		if reportFailure {
			p.reportFailure(ctx, e, err)
		}
		return "", err
	}

	if e.Priority == event.PriorityCritical {
		p.fanOutCritical(ctx, e)
	}
	return deliveryID, nil
}

// deliverScheduled is the scheduler's dispatch path: the batch event is
// re-validated and written through the realtime path at slot time.
func (p *Publisher) deliverScheduled(ctx context.Context, e *event.Envelope) error {
	if err := e.Validate(); err != nil {
		p.reportFailure(ctx, e, err)
		return err
	}
	e.SyncedAt = time.Now()
	deliveryID, err := p.queue.Publish(ctx, p.stream, e)
	if err != nil {
		p.reportFailure(ctx, e, err)
		return err
	}
	if e.Priority == event.PriorityCritical {
		p.fanOutCritical(ctx, e)
	}
	log.Printf("Delivered scheduled event %s as %s", e.EventID, deliveryID)
	return nil
}

// fanOutCritical pushes a best-effort broadcast for a CRITICAL event.
// Side-channel failures never surface to the publish path.
func (p *Publisher) fanOutCritical(ctx context.Context, e *event.Envelope) {
	if p.announcer == nil {
		return
	}
	correlationID := e.CorrelationID
	if correlationID == "" {
		correlationID = e.EventID
	}
	p.announcer.Broadcast(ctx, broadcast.Message{
		Type:          string(e.Type),
		TenantID:      e.TenantID,
		ResourceID:    resourceID(e),
		Action:        string(e.Action),
		CorrelationID: correlationID,
		Timestamp:     e.SyncedAt,
	})
}

// resourceID extracts the domain resource a broadcast is about. The
// switch is exhaustive over the closed payload set.
func resourceID(e *event.Envelope) string {
	switch data := e.Data.(type) {
	case *event.ReservationData:
		return data.ReservationID
	case *event.CustomerData:
		return data.CustomerID
	case *event.RoomData:
		return data.RoomID
	case *event.CheckInOutData:
		return data.ReservationID
	case *event.AnalyticsData:
		return data.ReportType
	case *event.SystemData:
		return data.Component
	default:
		return e.EventID
	}
}

// reportFailure publishes a System error event describing a failed
// publish so health monitors observe failures as ordinary events.
// Failures while publishing the report itself are logged and discarded,
// never re-reported.
func (p *Publisher) reportFailure(ctx context.Context, failed *event.Envelope, cause error) {
	tenantID := failed.TenantID
	if tenantID == "" {
		tenantID = "system"
	}
	report := &event.Envelope{
		Type:          event.TypeSystem,
		Action:        event.ActionError,
		SyncMode:      event.SyncRealtime,
		Targets:       []string{"monitoring"},
		OriginSystem:  p.origin,
		TenantID:      tenantID,
		CorrelationID: failed.EventID,
		Data: &event.SystemData{
			Component: p.origin,
			Severity:  "error",
			Message:   cause.Error(),
			Details: map[string]string{
				"failed_event_id":   failed.EventID,
				"failed_event_type": string(failed.Type),
			},
		},
	}
	if _, err := p.publish(ctx, report, false); err != nil {
		log.Printf("Failed to publish failure report for event %s: %v", failed.EventID, err)
	}
}

// PendingBatchCount reports events waiting on their schedule slot.
func (p *Publisher) PendingBatchCount() int {
	return p.batch.PendingCount()
}

// Close stops the batch scheduler. The queue engine and side channel
// have their own lifecycles.
func (p *Publisher) Close() {
	p.batch.Close()
}

package queue

import (
	"context"
	"encoding/json"
	"log"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/stayware/eventbus/pkg/event"
)

// DeliveryStatus records the outcome of a publish attempt or a
// consumption attempt in the operational delivery trail.
type DeliveryStatus string

const (
	DeliverySuccess  DeliveryStatus = "success"
	DeliveryFailed   DeliveryStatus = "failed"
	DeliveryRetrying DeliveryStatus = "retrying"
	DeliveryPending  DeliveryStatus = "pending"
)

const (
	deliveryLogKeyPrefix = "event-delivery-log:"
	deliveryLogRetention = 7 * 24 * time.Hour
)

// DeliveryLogEntry is one record of the short-lived delivery trail,
// keyed by event id. It is an operational aid, not the source of truth.
type DeliveryLogEntry struct {
	EventID        string         `json:"event_id"`
	EventType      string         `json:"event_type"`
	SourceSystem   string         `json:"source_system"`
	TargetSystems  []string       `json:"target_systems"`
	DeliveryStatus DeliveryStatus `json:"delivery_status"`
	DeliveryTime   time.Duration  `json:"delivery_time"`
	RetryCount     int            `json:"retry_count"`
	ErrorMessage   string         `json:"error_message,omitempty"`
	Timestamp      time.Time      `json:"timestamp"`
}

// writeDeliveryLog persists an entry under event-delivery-log:{event_id}
// with a bounded retention. Trail writes never fail the calling operation.
func (q *Engine) writeDeliveryLog(ctx context.Context, e *event.Envelope, status DeliveryStatus, elapsed time.Duration, retryCount int, cause error) {
	entry := DeliveryLogEntry{
		EventID:        e.EventID,
		EventType:      string(e.Type),
		SourceSystem:   e.OriginSystem,
		TargetSystems:  e.Targets,
		DeliveryStatus: status,
		DeliveryTime:   elapsed,
		RetryCount:     retryCount,
		Timestamp:      time.Now(),
	}
	if cause != nil {
		entry.ErrorMessage = cause.Error()
	}

	targets, err := json.Marshal(entry.TargetSystems)
	if err != nil {
		targets = []byte("[]")
	}

	key := deliveryLogKeyPrefix + entry.EventID
	fields := map[string]interface{}{
		"event_id":        entry.EventID,
		"event_type":      entry.EventType,
		"source_system":   entry.SourceSystem,
		"target_systems":  string(targets),
		"delivery_status": string(entry.DeliveryStatus),
		"delivery_time":   strconv.FormatInt(entry.DeliveryTime.Milliseconds(), 10),
		"retry_count":     strconv.Itoa(entry.RetryCount),
		"error_message":   entry.ErrorMessage,
		"timestamp":       entry.Timestamp.Format(time.RFC3339Nano),
	}

	_, err = q.client.TxPipelined(ctx, func(p redis.Pipeliner) error {
		p.HSet(ctx, key, fields)
		p.Expire(ctx, key, deliveryLogRetention)
		return nil
	})
	if err != nil {
		log.Printf("Failed to write delivery log for event %s: %v", entry.EventID, err)
	}
}

// DeliveryLog reads back the delivery trail entry for an event id.
// Returns redis.Nil semantics as a nil entry when no trail exists.
func (q *Engine) DeliveryLog(ctx context.Context, eventID string) (*DeliveryLogEntry, error) {
	fields, err := q.client.HGetAll(ctx, deliveryLogKeyPrefix+eventID).Result()
	if err != nil {
		return nil, err
	}
	if len(fields) == 0 {
		return nil, nil
	}

	entry := &DeliveryLogEntry{
		EventID:        fields["event_id"],
		EventType:      fields["event_type"],
		SourceSystem:   fields["source_system"],
		DeliveryStatus: DeliveryStatus(fields["delivery_status"]),
		ErrorMessage:   fields["error_message"],
	}
	if raw := fields["target_systems"]; raw != "" {
		if err := json.Unmarshal([]byte(raw), &entry.TargetSystems); err != nil {
			return nil, err
		}
	}
	if raw := fields["delivery_time"]; raw != "" {
		if ms, convErr := strconv.ParseInt(raw, 10, 64); convErr == nil {
			entry.DeliveryTime = time.Duration(ms) * time.Millisecond
		}
	}
	if raw := fields["retry_count"]; raw != "" {
		if n, convErr := strconv.Atoi(raw); convErr == nil {
			entry.RetryCount = n
		}
	}
	if raw := fields["timestamp"]; raw != "" {
		if ts, convErr := time.Parse(time.RFC3339Nano, raw); convErr == nil {
			entry.Timestamp = ts
		}
	}
	return entry, nil
}

package event

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Priority orders events by operational urgency. CRITICAL events are
// additionally fanned out over the real-time side channel.
type Priority string

const (
	PriorityLow      Priority = "LOW"
	PriorityMedium   Priority = "MEDIUM"
	PriorityHigh     Priority = "HIGH"
	PriorityCritical Priority = "CRITICAL"
)

// SyncMode selects the delivery path: realtime events go straight to the
// stream, batch events wait for their schedule slot.
type SyncMode string

const (
	SyncRealtime SyncMode = "realtime"
	SyncBatch    SyncMode = "batch"
)

// DeliveryGuarantee is declarative intent carried on the envelope. The
// engine realizes at-least-once regardless.
type DeliveryGuarantee string

const (
	AtMostOnce  DeliveryGuarantee = "at_most_once"
	AtLeastOnce DeliveryGuarantee = "at_least_once"
	ExactlyOnce DeliveryGuarantee = "exactly_once"
)

var (
	ErrNoTargets     = errors.New("event has no target systems")
	ErrNoTenant      = errors.New("event has no tenant id")
	ErrUnknownType   = errors.New("unknown event type")
	ErrAnalyticsMode = errors.New("analytics events must use batch sync mode")
)

// Envelope is the metadata wrapper shared by every event variant.
// Timestamp is event-time; SyncedAt is distribution-time.
type Envelope struct {
	EventID           string            `json:"event_id"`
	Type              Type              `json:"type"`
	Action            Action            `json:"action"`
	Timestamp         time.Time         `json:"timestamp"`
	SyncedAt          time.Time         `json:"synced_at"`
	Priority          Priority          `json:"priority"`
	SyncMode          SyncMode          `json:"sync_mode"`
	Targets           []string          `json:"targets"`
	DeliveryGuarantee DeliveryGuarantee `json:"delivery_guarantee,omitempty"`
	OriginSystem      string            `json:"origin_system"`
	UpdatedBySystem   string            `json:"updated_by_system,omitempty"`
	TenantID          string            `json:"tenant_id"`
	UserID            string            `json:"user_id,omitempty"`
	CorrelationID     string            `json:"correlation_id,omitempty"`
	RetryCount        int               `json:"retry_count"`
	CreatedOffline    bool              `json:"created_offline,omitempty"`
	Data              Payload           `json:"data,omitempty"`
}

// Enrich fills identity and timing fields that producers may omit:
// event id, timestamps, retry count, and the default priority for the
// event's (type, action) pair. Fields already set are left alone.
func (e *Envelope) Enrich(now time.Time) {
	if e.EventID == "" {
		e.EventID = uuid.NewString()
	}
	if e.Timestamp.IsZero() {
		e.Timestamp = now
	}
	e.SyncedAt = now
	if e.Priority == "" {
		e.Priority = DefaultPriority(e.Type, e.Action)
	}
	if e.SyncMode == "" {
		if e.Type == TypeAnalytics {
			e.SyncMode = SyncBatch
		} else {
			e.SyncMode = SyncRealtime
		}
	}
	if e.DeliveryGuarantee == "" {
		e.DeliveryGuarantee = AtLeastOnce
	}
}

// Validate rejects envelopes that must never enter the transport.
func (e *Envelope) Validate() error {
	if len(e.Targets) == 0 {
		return ErrNoTargets
	}
	if e.TenantID == "" {
		return ErrNoTenant
	}
	switch e.Type {
	case TypeReservation, TypeCustomer, TypeRoom, TypeCheckInOut, TypeSystem:
	case TypeAnalytics:
		if e.SyncMode != "" && e.SyncMode != SyncBatch {
			return ErrAnalyticsMode
		}
	default:
		return fmt.Errorf("%w: %q", ErrUnknownType, e.Type)
	}
	return nil
}

// UnmarshalJSON decodes the data payload into the concrete variant for the
// envelope's type. The switch is exhaustive over the closed Type set.
func (e *Envelope) UnmarshalJSON(b []byte) error {
	type alias Envelope
	raw := struct {
		*alias
		Data json.RawMessage `json:"data,omitempty"`
	}{alias: (*alias)(e)}
	if err := json.Unmarshal(b, &raw); err != nil {
		return err
	}
	if len(raw.Data) == 0 || string(raw.Data) == "null" {
		e.Data = nil
		return nil
	}
	payload, err := decodePayload(e.Type, raw.Data)
	if err != nil {
		return err
	}
	e.Data = payload
	return nil
}

func decodePayload(t Type, raw json.RawMessage) (Payload, error) {
	var target Payload
	switch t {
	case TypeReservation:
		target = &ReservationData{}
	case TypeCustomer:
		target = &CustomerData{}
	case TypeRoom:
		target = &RoomData{}
	case TypeCheckInOut:
		target = &CheckInOutData{}
	case TypeAnalytics:
		target = &AnalyticsData{}
	case TypeSystem:
		target = &SystemData{}
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownType, t)
	}
	if err := json.Unmarshal(raw, target); err != nil {
		return nil, fmt.Errorf("decode %s payload: %w", t, err)
	}
	return target, nil
}

package queue

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/stayware/eventbus/pkg/event"
)

// Wire record field names for one appended stream entry.
const (
	fieldEventType = "event_type"
	fieldAction    = "event_action"
	fieldData      = "event_data"
	fieldPriority  = "priority"
	fieldSyncMode  = "sync_mode"
	fieldTargets   = "targets"
	fieldOrigin    = "origin_system"
	fieldTenant    = "tenant_id"
	fieldTimestamp = "timestamp"
)

// encodeWireRecord flattens an envelope into the stream entry fields.
// event_data carries the full envelope plus payload as JSON; the other
// fields are duplicated flat so consumers can filter without decoding.
func encodeWireRecord(e *event.Envelope) (map[string]interface{}, error) {
	data, err := json.Marshal(e)
	if err != nil {
		return nil, fmt.Errorf("serialize event %s: %w", e.EventID, err)
	}
	targets, err := json.Marshal(e.Targets)
	if err != nil {
		return nil, fmt.Errorf("serialize targets for event %s: %w", e.EventID, err)
	}
	return map[string]interface{}{
		fieldEventType: string(e.Type),
		fieldAction:    string(e.Action),
		fieldData:      string(data),
		fieldPriority:  string(e.Priority),
		fieldSyncMode:  string(e.SyncMode),
		fieldTargets:   string(targets),
		fieldOrigin:    e.OriginSystem,
		fieldTenant:    e.TenantID,
		fieldTimestamp: time.Now().Format(time.RFC3339Nano),
	}, nil
}

// decodeWireRecord restores the envelope from a stream entry's values.
func decodeWireRecord(values map[string]interface{}) (*event.Envelope, error) {
	raw, ok := values[fieldData].(string)
	if !ok || raw == "" {
		return nil, fmt.Errorf("stream entry missing %s field", fieldData)
	}
	var e event.Envelope
	if err := json.Unmarshal([]byte(raw), &e); err != nil {
		return nil, fmt.Errorf("deserialize stream entry: %w", err)
	}
	return &e, nil
}

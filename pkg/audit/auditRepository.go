package audit

import (
	"context"
	"time"

	"github.com/stayware/eventbus/pkg/event"
)

// Record is one row of the long-lived outbound audit trail. Unlike the
// queue engine's delivery log it has no expiry; it must survive the
// transport layer's short retention window.
type Record struct {
	EventID       string
	EventType     string
	Action        string
	Priority      string
	SyncMode      string
	OriginSystem  string
	TenantID      string
	UserID        string
	CorrelationID string
	Targets       []string
	Payload       []byte
	PublishedAt   time.Time
}

// Repository persists the outbound audit trail.
type Repository interface {
	// Record writes one audit row for an outbound event.
	Record(ctx context.Context, e *event.Envelope) error
	// FindByEventID retrieves the audit row for an event, if present.
	FindByEventID(ctx context.Context, eventID string) (*Record, error)
	// FindByTenant lists recent audit rows for a tenant, newest first.
	FindByTenant(ctx context.Context, tenantID string, limit int) ([]Record, error)
}

package audit

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"gorm.io/driver/postgres"
	"gorm.io/gorm"

	"github.com/stayware/eventbus/pkg/config"
	"github.com/stayware/eventbus/pkg/event"
)

type auditEventModel struct {
	EventID       string    `gorm:"column:event_id;primaryKey"`
	EventType     string    `gorm:"column:event_type"`
	Action        string    `gorm:"column:action"`
	Priority      string    `gorm:"column:priority"`
	SyncMode      string    `gorm:"column:sync_mode"`
	OriginSystem  string    `gorm:"column:origin_system"`
	TenantID      string    `gorm:"column:tenant_id;index"`
	UserID        string    `gorm:"column:user_id"`
	CorrelationID string    `gorm:"column:correlation_id"`
	Targets       string    `gorm:"column:targets"`
	Payload       []byte    `gorm:"column:payload"`
	PublishedAt   time.Time `gorm:"column:published_at"`
	CreatedAt     time.Time `gorm:"column:created_at"`
}

func (auditEventModel) TableName() string { return "event_audit_log" }

type postgresRepository struct {
	db *gorm.DB
}

// Connect opens the audit database and returns a repository over it.
func Connect(cfg config.AuditSettings) (Repository, error) {
	db, err := gorm.Open(postgres.Open(cfg.DSN), &gorm.Config{})
	if err != nil {
		return nil, fmt.Errorf("connect to audit store: %w", err)
	}
	return NewPostgresRepository(db), nil
}

// NewPostgresRepository wraps an existing gorm handle.
func NewPostgresRepository(db *gorm.DB) Repository {
	return &postgresRepository{db: db}
}

func (r *postgresRepository) Record(ctx context.Context, e *event.Envelope) error {
	payload, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("serialize audit payload for %s: %w", e.EventID, err)
	}
	targets, err := json.Marshal(e.Targets)
	if err != nil {
		return fmt.Errorf("serialize audit targets for %s: %w", e.EventID, err)
	}

	row := auditEventModel{
		EventID:       e.EventID,
		EventType:     string(e.Type),
		Action:        string(e.Action),
		Priority:      string(e.Priority),
		SyncMode:      string(e.SyncMode),
		OriginSystem:  e.OriginSystem,
		TenantID:      e.TenantID,
		UserID:        e.UserID,
		CorrelationID: e.CorrelationID,
		Targets:       string(targets),
		Payload:       payload,
		PublishedAt:   e.SyncedAt,
		CreatedAt:     time.Now(),
	}
	return r.db.WithContext(ctx).Create(&row).Error
}

func (r *postgresRepository) FindByEventID(ctx context.Context, eventID string) (*Record, error) {
	var row auditEventModel
	err := r.db.WithContext(ctx).Where("event_id = ?", eventID).First(&row).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	rec, err := toRecord(row)
	if err != nil {
		return nil, err
	}
	return &rec, nil
}

func (r *postgresRepository) FindByTenant(ctx context.Context, tenantID string, limit int) ([]Record, error) {
	var rows []auditEventModel
	err := r.db.WithContext(ctx).
		Where("tenant_id = ?", tenantID).
		Order("published_at DESC").
		Limit(limit).
		Find(&rows).Error
	if err != nil {
		return nil, err
	}

	records := make([]Record, 0, len(rows))
	for _, row := range rows {
		rec, convErr := toRecord(row)
		if convErr != nil {
			return nil, convErr
		}
		records = append(records, rec)
	}
	return records, nil
}

func toRecord(row auditEventModel) (Record, error) {
	rec := Record{
		EventID:       row.EventID,
		EventType:     row.EventType,
		Action:        row.Action,
		Priority:      row.Priority,
		SyncMode:      row.SyncMode,
		OriginSystem:  row.OriginSystem,
		TenantID:      row.TenantID,
		UserID:        row.UserID,
		CorrelationID: row.CorrelationID,
		Payload:       row.Payload,
		PublishedAt:   row.PublishedAt,
	}
	if row.Targets != "" {
		if err := json.Unmarshal([]byte(row.Targets), &rec.Targets); err != nil {
			return Record{}, fmt.Errorf("decode audit targets for %s: %w", row.EventID, err)
		}
	}
	return rec, nil
}

package models

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/padaukcraft/beads_backend/config"
	"github.com/padaukcraft/beads_backend/utils"
	"gorm.io/gorm"
)

// AuditMessageRecord is the transactional outbox row behind the audit trail.
// It is written in the same transaction as the inventory movement it
// describes; the dispatcher publishes it to Pub/Sub after commit. Publish
// metadata lives on the row so retries survive restarts.
type AuditMessageRecord struct {
	ID            int                `gorm:"primary_key;index:idx_outbox_dispatch,priority:3" json:"id"`
	OccurredAt    time.Time          `gorm:"index;not null" json:"occurred_at"`
	ReferenceId   int                `json:"reference_id"`
	ReferenceType AuditReferenceType `gorm:"type:enum('SIL','REC')" json:"reference_type"`
	Action        AuditMessageAction `gorm:"type:enum('C','U','D')" json:"action"`
	Payload       []byte             `gorm:"type:blob" json:"payload"`

	PublishStatus    string     `gorm:"size:20;index;not null;default:'PENDING';index:idx_outbox_dispatch,priority:1" json:"publish_status"` // PENDING|PROCESSING|SENT|FAILED|DEAD
	PublishedAt      *time.Time `gorm:"index" json:"published_at"`
	PubSubMessageId  *string    `gorm:"size:255" json:"pubsub_message_id"`
	PublishAttempts  int        `gorm:"not null;default:0" json:"publish_attempts"`
	NextAttemptAt    *time.Time `gorm:"index;index:idx_outbox_dispatch,priority:2" json:"next_attempt_at"`
	LockedAt         *time.Time `gorm:"index" json:"locked_at"`
	LockedBy         *string    `gorm:"size:100" json:"locked_by"`
	LastPublishError *string    `gorm:"type:text" json:"last_publish_error"`

	CorrelationId string    `gorm:"size:64;index" json:"correlation_id"`
	CreatedAt     time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt     time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

func correlationIdFromContextOrNew(ctx context.Context) string {
	if id, ok := utils.GetCorrelationIdFromContext(ctx); ok && id != "" {
		return id
	}
	return uuid.NewString()
}

// QueueAuditRecord appends an outbox row inside the caller's transaction.
// Publishing happens after commit via the dispatcher, never inline.
func QueueAuditRecord(ctx context.Context, tx *gorm.DB, refType AuditReferenceType, refId int, action AuditMessageAction, payload []byte) error {
	record := AuditMessageRecord{
		OccurredAt:    time.Now().UTC(),
		ReferenceId:   refId,
		ReferenceType: refType,
		Action:        action,
		Payload:       payload,
		PublishStatus: OutboxPublishStatusPending,
		CorrelationId: correlationIdFromContextOrNew(ctx),
	}
	return tx.Create(&record).Error
}

func ConvertToAuditMessage(record AuditMessageRecord) config.AuditMessage {
	return config.AuditMessage{
		ID:            record.ID,
		OccurredAt:    record.OccurredAt,
		ReferenceId:   record.ReferenceId,
		ReferenceType: string(record.ReferenceType),
		Action:        string(record.Action),
		Payload:       record.Payload,
		CorrelationId: record.CorrelationId,
	}
}

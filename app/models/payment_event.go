package models

import (
	"time"

	"gorm.io/datatypes"
)

const (
	PaymentEventSucceeded = "payment.succeeded"
	PaymentEventFailed    = "payment.failed"
)

// PaymentEvent is a transactional outbox row written together with the
// payment transition it describes and dispatched after commit.
type PaymentEvent struct {
	ID          uint              `gorm:"primaryKey" json:"id"`
	PaymentID   uint              `gorm:"not null;index" json:"payment_id"`
	EventType   string            `gorm:"type:varchar(50);not null" json:"event_type"`
	Payload     datatypes.JSONMap `gorm:"type:json" json:"payload"`
	DedupeKey   string            `gorm:"type:varchar(191);not null;uniqueIndex:ux_payment_events_dedupe" json:"dedupe_key"`
	PublishedAt *time.Time        `gorm:"type:timestamp;default:null;index" json:"published_at,omitempty"`
	CreatedAt   time.Time         `gorm:"autoCreateTime;index" json:"created_at"`
}

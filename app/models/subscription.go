package models

import (
	"time"

	"gorm.io/gorm"
)

const (
	SubscriptionStatusActive   = "ACTIVE"
	SubscriptionStatusCanceled = "CANCELED"
	SubscriptionStatusExpired  = "EXPIRED"
)

// Subscription is one subscription term granted to a member by a successful
// payment. A member has at most one ACTIVE term: ActiveMemberID mirrors
// MemberID while the term is ACTIVE and is NULL otherwise, so the unique index
// on it rejects a second ACTIVE term.
type Subscription struct {
	ID             uint      `gorm:"primaryKey" json:"id"`
	MemberID       uint      `gorm:"not null;index:idx_subscriptions_member_status,priority:1" json:"member_id"`
	PlanID         uint      `gorm:"not null;index" json:"plan_id"`
	PaymentID      uint      `gorm:"not null;uniqueIndex:ux_subscriptions_payment" json:"payment_id"`
	Status         string    `gorm:"type:varchar(16);not null;default:'ACTIVE';index:idx_subscriptions_member_status,priority:2" json:"status"`
	ActiveMemberID *uint     `gorm:"uniqueIndex:ux_subscriptions_active_member" json:"-"`
	StartedAt      time.Time `gorm:"not null" json:"started_at"`
	ExpiredAt      time.Time `gorm:"not null;index" json:"expired_at"`
	CreatedAt      time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt      time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

// BeforeCreate fills ActiveMemberID from Status.
func (s *Subscription) BeforeCreate(tx *gorm.DB) error {
	s.ActiveMemberID = nil
	if s.Status == "" || s.Status == SubscriptionStatusActive {
		memberID := s.MemberID
		s.ActiveMemberID = &memberID
	}
	return nil
}

package models

import "time"

const (
	PaymentStatusPending = "PENDING"
	PaymentStatusSuccess = "SUCCESS"
	PaymentStatusFailed  = "FAILED"
)

// HistoryCodePostCharge marks a history row written when the gateway captured
// money but the payment could not be completed locally.
const HistoryCodePostCharge = "POST_CHARGE"

// CurrencyKRW is the only currency the catalog is priced in.
const CurrencyKRW = "KRW"

// Payment is one payment attempt. Amount is fixed when the row is prepared and
// the row only ever moves from PENDING to SUCCESS or FAILED.
type Payment struct {
	ID             uint       `gorm:"primaryKey" json:"id"`
	OrderID        string     `gorm:"type:varchar(64);not null;uniqueIndex:ux_payments_order_id" json:"order_id"`
	OrderName      string     `gorm:"type:varchar(100);not null" json:"order_name"`
	PaymentKey     *string    `gorm:"type:varchar(200);default:null;index" json:"payment_key,omitempty"`
	CustomerKey    string     `gorm:"type:varchar(64);default:''" json:"customer_key"`
	BillingKey     string     `gorm:"type:varchar(200);default:''" json:"-"`
	PlanID         uint       `gorm:"not null;index" json:"plan_id"`
	MemberID       uint       `gorm:"not null;index:idx_payments_member_status,priority:1" json:"member_id"`
	Amount         int64      `gorm:"not null" json:"amount"`
	Currency       string     `gorm:"type:varchar(3);not null;default:'KRW'" json:"currency"`
	Status         string     `gorm:"type:varchar(16);not null;default:'PENDING';index:idx_payments_member_status,priority:2;index:idx_payments_status_created,priority:1" json:"status"`
	FailureCode    string     `gorm:"type:varchar(100);default:''" json:"failure_code,omitempty"`
	FailureMessage string     `gorm:"type:varchar(500);default:''" json:"failure_message,omitempty"`
	ReceiptURL     string     `gorm:"type:varchar(500);default:''" json:"receipt_url,omitempty"`
	ApprovedAt     *time.Time `gorm:"type:timestamp;default:null" json:"approved_at,omitempty"`
	CreatedAt      time.Time  `gorm:"autoCreateTime;index:idx_payments_status_created,priority:2" json:"created_at"`
	UpdatedAt      time.Time  `gorm:"autoUpdateTime" json:"updated_at"`
}

// IsTerminal reports whether the payment reached SUCCESS or FAILED.
func (p *Payment) IsTerminal() bool {
	return p.Status == PaymentStatusSuccess || p.Status == PaymentStatusFailed
}

// PaymentHistory is an append-only record of a payment status transition.
type PaymentHistory struct {
	ID             uint      `gorm:"primaryKey" json:"id"`
	PaymentID      uint      `gorm:"not null;index" json:"payment_id"`
	Status         string    `gorm:"type:varchar(16);not null" json:"status"`
	FailureCode    string    `gorm:"type:varchar(100);default:''" json:"failure_code,omitempty"`
	FailureMessage string    `gorm:"type:varchar(500);default:''" json:"failure_message,omitempty"`
	ChangedAt      time.Time `gorm:"not null;index" json:"changed_at"`
}

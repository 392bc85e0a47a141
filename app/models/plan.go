package models

import (
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/datatypes"
)

// Subscription tiers offered by the catalog.
const (
	TierStandard = "STANDARD"
	TierPremium  = "PREMIUM"
)

// Billing periods offered by the catalog.
const (
	PeriodMonthly    = "MONTHLY"
	PeriodSemiAnnual = "SEMI_ANNUAL"
	PeriodYear       = "YEAR"
)

// Plan is a priced (tier, period) product definition. Rows are seeded and
// never mutated by the payment flow.
type Plan struct {
	ID           uint            `gorm:"primaryKey" json:"id"`
	Tier         string          `gorm:"type:varchar(20);not null;index:ux_plans_tier_period,unique,priority:1" json:"tier"`
	Period       string          `gorm:"type:varchar(20);not null;index:ux_plans_tier_period,unique,priority:2" json:"period"`
	BasePrice    int64           `gorm:"not null" json:"base_price"`
	DiscountRate decimal.Decimal `gorm:"type:decimal(5,4);not null;default:0" json:"discount_rate"`
	Description  string          `gorm:"type:varchar(255);default:''" json:"description"`
	Benefits     datatypes.JSON  `gorm:"type:json" json:"benefits"`
	CreatedAt    time.Time       `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt    time.Time       `gorm:"autoUpdateTime" json:"updated_at"`
}

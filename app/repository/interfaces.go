package repository

import (
	"context"
	"time"

	"github.com/prgrms-web-devcourse-final-project/WEB4-5-NOBREAKTIME-BE-sub002/app/models"
	"gorm.io/gorm"
)

// PlanRepository defines read access to the plan catalog plus seeding.
type PlanRepository interface {
	GetByID(ctx context.Context, id uint) (*models.Plan, error)
	GetByTierAndPeriod(ctx context.Context, tier, period string) (*models.Plan, error)
	List(ctx context.Context) ([]models.Plan, error)
	Upsert(ctx context.Context, plan *models.Plan) error
}

// PaymentTransition describes the terminal update applied to a PENDING payment.
type PaymentTransition struct {
	Status         string
	PaymentKey     string
	BillingKey     string
	ReceiptURL     string
	FailureCode    string
	FailureMessage string
	ApprovedAt     *time.Time
}

// PaymentRepository defines operations on the payment ledger and its history.
type PaymentRepository interface {
	Create(ctx context.Context, payment *models.Payment) error
	GetByID(ctx context.Context, id uint) (*models.Payment, error)
	GetByOrderID(ctx context.Context, orderID string) (*models.Payment, error)
	// TransitionFromPending applies t only while the payment is still PENDING
	// and reports whether a row changed.
	TransitionFromPending(ctx context.Context, orderID string, t PaymentTransition) (bool, error)
	// RecordCharge stores the gateway payment key and approval time on a
	// payment that is still PENDING, leaving its status alone.
	RecordCharge(ctx context.Context, orderID, paymentKey string, approvedAt *time.Time) (bool, error)
	AppendHistory(ctx context.Context, history *models.PaymentHistory) error
	ListHistory(ctx context.Context, paymentID uint) ([]models.PaymentHistory, error)
	ListHistoryByCode(ctx context.Context, failureCode string, since time.Time, limit int) ([]models.PaymentHistory, error)
	ListStalePending(ctx context.Context, createdBefore time.Time, limit int) ([]models.Payment, error)
}

// SubscriptionRepository defines operations on member subscription terms.
type SubscriptionRepository interface {
	Create(ctx context.Context, sub *models.Subscription) error
	// LockActiveByMember loads the member's ACTIVE terms with a row lock held
	// until the surrounding transaction ends. When the member has no ACTIVE
	// term nothing is locked, so two transactions may both go on to Create;
	// the unique active-member index makes the later Create fail with
	// gorm.ErrDuplicatedKey.
	LockActiveByMember(ctx context.Context, memberID uint) ([]models.Subscription, error)
	UpdateStatus(ctx context.Context, id uint, status string) error
	GetActiveByMember(ctx context.Context, memberID uint) (*models.Subscription, error)
	GetByPaymentID(ctx context.Context, paymentID uint) (*models.Subscription, error)
	ListByMember(ctx context.Context, memberID uint) ([]models.Subscription, error)
}

// PaymentEventRepository defines the transactional outbox for payment events.
type PaymentEventRepository interface {
	// Create inserts the event unless its dedupe key exists; it reports
	// whether a row was inserted.
	Create(ctx context.Context, event *models.PaymentEvent) (bool, error)
	ListUnpublished(ctx context.Context, createdBefore time.Time, limit int) ([]models.PaymentEvent, error)
	MarkPublished(ctx context.Context, id uint, at time.Time) error
}

// WebhookEventRepository stores gateway webhook deliveries idempotently.
type WebhookEventRepository interface {
	CreateIfNotExists(ctx context.Context, event *models.BillingWebhookEvent) (bool, *models.BillingWebhookEvent, error)
	MarkProcessed(ctx context.Context, id uint, processingError string) error
}

// MemberRepository resolves members for billing mail.
type MemberRepository interface {
	GetByID(ctx context.Context, id uint) (*models.Member, error)
}

// Repositories struct holds all repository instances
type Repositories struct {
	Plan         PlanRepository
	Payment      PaymentRepository
	Subscription SubscriptionRepository
	PaymentEvent PaymentEventRepository
	WebhookEvent WebhookEventRepository
	Member       MemberRepository
}

// NewRepositories creates a new instance of all repositories
func NewRepositories(db *gorm.DB) *Repositories {
	return &Repositories{
		Plan:         NewPlanRepository(db),
		Payment:      NewPaymentRepository(db),
		Subscription: NewSubscriptionRepository(db),
		PaymentEvent: NewPaymentEventRepository(db),
		WebhookEvent: NewWebhookEventRepository(db),
		Member:       NewMemberRepository(db),
	}
}

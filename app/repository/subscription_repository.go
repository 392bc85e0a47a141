package repository

import (
	"context"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/prgrms-web-devcourse-final-project/WEB4-5-NOBREAKTIME-BE-sub002/app/models"
	"github.com/prgrms-web-devcourse-final-project/WEB4-5-NOBREAKTIME-BE-sub002/internal/pkg/database"
)

type subscriptionRepository struct {
	db *gorm.DB
}

// NewSubscriptionRepository creates a new subscription repository instance
func NewSubscriptionRepository(db *gorm.DB) SubscriptionRepository {
	return &subscriptionRepository{db: db}
}

func (r *subscriptionRepository) Create(ctx context.Context, sub *models.Subscription) error {
	return database.Conn(ctx, r.db).Create(sub).Error
}

func (r *subscriptionRepository) LockActiveByMember(ctx context.Context, memberID uint) ([]models.Subscription, error) {
	var subs []models.Subscription
	err := database.Conn(ctx, r.db).
		Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("member_id = ? AND status = ?", memberID, models.SubscriptionStatusActive).
		Order("id ASC").
		Find(&subs).Error
	return subs, err
}

func (r *subscriptionRepository) UpdateStatus(ctx context.Context, id uint, status string) error {
	var activeMember any
	if status == models.SubscriptionStatusActive {
		activeMember = gorm.Expr("member_id")
	}
	return database.Conn(ctx, r.db).Model(&models.Subscription{}).
		Where("id = ?", id).
		Updates(map[string]any{"status": status, "active_member_id": activeMember}).Error
}

func (r *subscriptionRepository) GetActiveByMember(ctx context.Context, memberID uint) (*models.Subscription, error) {
	var sub models.Subscription
	err := database.Conn(ctx, r.db).
		Where("member_id = ? AND status = ?", memberID, models.SubscriptionStatusActive).
		Order("started_at DESC").
		First(&sub).Error
	if err != nil {
		return nil, err
	}
	return &sub, nil
}

func (r *subscriptionRepository) GetByPaymentID(ctx context.Context, paymentID uint) (*models.Subscription, error) {
	var sub models.Subscription
	if err := database.Conn(ctx, r.db).Where("payment_id = ?", paymentID).First(&sub).Error; err != nil {
		return nil, err
	}
	return &sub, nil
}

func (r *subscriptionRepository) ListByMember(ctx context.Context, memberID uint) ([]models.Subscription, error) {
	var subs []models.Subscription
	err := database.Conn(ctx, r.db).Where("member_id = ?", memberID).Order("id ASC").Find(&subs).Error
	return subs, err
}

package repository

import (
	"context"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/prgrms-web-devcourse-final-project/WEB4-5-NOBREAKTIME-BE-sub002/app/models"
	"github.com/prgrms-web-devcourse-final-project/WEB4-5-NOBREAKTIME-BE-sub002/internal/pkg/database"
)

type paymentEventRepository struct {
	db *gorm.DB
}

// NewPaymentEventRepository creates a new outbox repository instance
func NewPaymentEventRepository(db *gorm.DB) PaymentEventRepository {
	return &paymentEventRepository{db: db}
}

func (r *paymentEventRepository) Create(ctx context.Context, event *models.PaymentEvent) (bool, error) {
	tx := database.Conn(ctx, r.db).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "dedupe_key"}},
		DoNothing: true,
	}).Create(event)
	if tx.Error != nil {
		return false, tx.Error
	}
	return tx.RowsAffected > 0, nil
}

func (r *paymentEventRepository) ListUnpublished(ctx context.Context, createdBefore time.Time, limit int) ([]models.PaymentEvent, error) {
	if limit <= 0 {
		limit = 100
	}
	var events []models.PaymentEvent
	err := database.Conn(ctx, r.db).
		Where("published_at IS NULL AND created_at < ?", createdBefore).
		Order("id ASC").
		Limit(limit).
		Find(&events).Error
	return events, err
}

func (r *paymentEventRepository) MarkPublished(ctx context.Context, id uint, at time.Time) error {
	return database.Conn(ctx, r.db).Model(&models.PaymentEvent{}).
		Where("id = ? AND published_at IS NULL", id).
		Update("published_at", at).Error
}

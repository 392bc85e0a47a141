package repository

import (
	"context"
	"time"

	"gorm.io/gorm"

	"github.com/prgrms-web-devcourse-final-project/WEB4-5-NOBREAKTIME-BE-sub002/app/models"
	"github.com/prgrms-web-devcourse-final-project/WEB4-5-NOBREAKTIME-BE-sub002/internal/pkg/database"
)

type paymentRepository struct {
	db *gorm.DB
}

// NewPaymentRepository creates a new payment repository instance
func NewPaymentRepository(db *gorm.DB) PaymentRepository {
	return &paymentRepository{db: db}
}

func (r *paymentRepository) Create(ctx context.Context, payment *models.Payment) error {
	return database.Conn(ctx, r.db).Create(payment).Error
}

func (r *paymentRepository) GetByID(ctx context.Context, id uint) (*models.Payment, error) {
	var payment models.Payment
	if err := database.Conn(ctx, r.db).First(&payment, id).Error; err != nil {
		return nil, err
	}
	return &payment, nil
}

func (r *paymentRepository) GetByOrderID(ctx context.Context, orderID string) (*models.Payment, error) {
	var payment models.Payment
	if err := database.Conn(ctx, r.db).Where("order_id = ?", orderID).First(&payment).Error; err != nil {
		return nil, err
	}
	return &payment, nil
}

func (r *paymentRepository) TransitionFromPending(ctx context.Context, orderID string, t PaymentTransition) (bool, error) {
	updates := map[string]interface{}{
		"status":     t.Status,
		"updated_at": time.Now().UTC(),
	}
	if t.PaymentKey != "" {
		updates["payment_key"] = t.PaymentKey
	}
	if t.BillingKey != "" {
		updates["billing_key"] = t.BillingKey
	}
	if t.ReceiptURL != "" {
		updates["receipt_url"] = t.ReceiptURL
	}
	if t.FailureCode != "" {
		updates["failure_code"] = t.FailureCode
	}
	if t.FailureMessage != "" {
		updates["failure_message"] = t.FailureMessage
	}
	if t.ApprovedAt != nil {
		updates["approved_at"] = t.ApprovedAt
	}

	res := database.Conn(ctx, r.db).Model(&models.Payment{}).
		Where("order_id = ? AND status = ?", orderID, models.PaymentStatusPending).
		Updates(updates)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

func (r *paymentRepository) RecordCharge(ctx context.Context, orderID, paymentKey string, approvedAt *time.Time) (bool, error) {
	updates := map[string]interface{}{
		"payment_key": paymentKey,
		"updated_at":  time.Now().UTC(),
	}
	if approvedAt != nil {
		updates["approved_at"] = approvedAt
	}
	res := database.Conn(ctx, r.db).Model(&models.Payment{}).
		Where("order_id = ? AND status = ?", orderID, models.PaymentStatusPending).
		Updates(updates)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

func (r *paymentRepository) AppendHistory(ctx context.Context, history *models.PaymentHistory) error {
	if history.ChangedAt.IsZero() {
		history.ChangedAt = time.Now().UTC()
	}
	return database.Conn(ctx, r.db).Create(history).Error
}

func (r *paymentRepository) ListHistory(ctx context.Context, paymentID uint) ([]models.PaymentHistory, error) {
	var entries []models.PaymentHistory
	err := database.Conn(ctx, r.db).
		Where("payment_id = ?", paymentID).
		Order("changed_at ASC, id ASC").
		Find(&entries).Error
	return entries, err
}

func (r *paymentRepository) ListHistoryByCode(ctx context.Context, failureCode string, since time.Time, limit int) ([]models.PaymentHistory, error) {
	if limit <= 0 {
		limit = 100
	}
	var entries []models.PaymentHistory
	err := database.Conn(ctx, r.db).
		Where("failure_code = ? AND changed_at >= ?", failureCode, since).
		Order("changed_at ASC, id ASC").
		Limit(limit).
		Find(&entries).Error
	return entries, err
}

func (r *paymentRepository) ListStalePending(ctx context.Context, createdBefore time.Time, limit int) ([]models.Payment, error) {
	if limit <= 0 {
		limit = 100
	}
	var payments []models.Payment
	err := database.Conn(ctx, r.db).
		Where("status = ? AND created_at < ?", models.PaymentStatusPending, createdBefore).
		Order("created_at ASC").
		Limit(limit).
		Find(&payments).Error
	return payments, err
}

package repository

import (
	"context"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/prgrms-web-devcourse-final-project/WEB4-5-NOBREAKTIME-BE-sub002/app/models"
	"github.com/prgrms-web-devcourse-final-project/WEB4-5-NOBREAKTIME-BE-sub002/internal/pkg/database"
)

type planRepository struct {
	db *gorm.DB
}

// NewPlanRepository creates a new plan repository instance
func NewPlanRepository(db *gorm.DB) PlanRepository {
	return &planRepository{db: db}
}

func (r *planRepository) GetByID(ctx context.Context, id uint) (*models.Plan, error) {
	var plan models.Plan
	if err := database.Conn(ctx, r.db).First(&plan, id).Error; err != nil {
		return nil, err
	}
	return &plan, nil
}

func (r *planRepository) GetByTierAndPeriod(ctx context.Context, tier, period string) (*models.Plan, error) {
	var plan models.Plan
	err := database.Conn(ctx, r.db).
		Where("tier = ? AND period = ?", tier, period).
		First(&plan).Error
	if err != nil {
		return nil, err
	}
	return &plan, nil
}

func (r *planRepository) List(ctx context.Context) ([]models.Plan, error) {
	var plans []models.Plan
	err := database.Conn(ctx, r.db).Order("tier ASC, base_price ASC, id ASC").Find(&plans).Error
	return plans, err
}

// Upsert is used by catalog seeding only.
func (r *planRepository) Upsert(ctx context.Context, plan *models.Plan) error {
	db := database.Conn(ctx, r.db)
	if err := db.Clauses(clause.OnConflict{
		Columns: []clause.Column{
			{Name: "tier"},
			{Name: "period"},
		},
		DoUpdates: clause.AssignmentColumns([]string{
			"base_price",
			"discount_rate",
			"description",
			"benefits",
			"updated_at",
		}),
	}).Create(plan).Error; err != nil {
		return err
	}

	// Ensure ID is populated after upsert.
	return db.Where("tier = ? AND period = ?", plan.Tier, plan.Period).First(plan).Error
}

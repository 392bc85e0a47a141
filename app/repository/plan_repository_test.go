package repository_test

import (
	"context"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/prgrms-web-devcourse-final-project/WEB4-5-NOBREAKTIME-BE-sub002/app/models"
	"github.com/prgrms-web-devcourse-final-project/WEB4-5-NOBREAKTIME-BE-sub002/app/repository"
	"github.com/prgrms-web-devcourse-final-project/WEB4-5-NOBREAKTIME-BE-sub002/internal/pkg/database/dbtest"
)

func TestPlanRepository_UpsertIsIdempotent(t *testing.T) {
	ctx := context.Background()
	repo := repository.NewPlanRepository(dbtest.New(t))

	plan := &models.Plan{
		Tier:         models.TierStandard,
		Period:       models.PeriodYear,
		BasePrice:    10000,
		DiscountRate: decimal.RequireFromString("0.2"),
	}
	require.NoError(t, repo.Upsert(ctx, plan))
	require.NotZero(t, plan.ID)
	firstID := plan.ID

	again := &models.Plan{
		Tier:         models.TierStandard,
		Period:       models.PeriodYear,
		BasePrice:    10000,
		DiscountRate: decimal.RequireFromString("0.2"),
		Description:  "yearly",
	}
	require.NoError(t, repo.Upsert(ctx, again))
	assert.Equal(t, firstID, again.ID)

	got, err := repo.GetByTierAndPeriod(ctx, models.TierStandard, models.PeriodYear)
	require.NoError(t, err)
	assert.Equal(t, "yearly", got.Description)
	assert.True(t, got.DiscountRate.Equal(decimal.RequireFromString("0.2")))

	plans, err := repo.List(ctx)
	require.NoError(t, err)
	assert.Len(t, plans, 1)
}

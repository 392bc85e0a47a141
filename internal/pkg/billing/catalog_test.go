package billing

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/prgrms-web-devcourse-final-project/WEB4-5-NOBREAKTIME-BE-sub002/app/models"
	"github.com/prgrms-web-devcourse-final-project/WEB4-5-NOBREAKTIME-BE-sub002/app/repository"
	"github.com/prgrms-web-devcourse-final-project/WEB4-5-NOBREAKTIME-BE-sub002/internal/pkg/database/dbtest"
)

func TestComputeTotalAmount(t *testing.T) {
	tests := []struct {
		base   int64
		period string
		want   int64
	}{
		{base: 10000, period: models.PeriodMonthly, want: 10000},
		{base: 10000, period: models.PeriodSemiAnnual, want: 54000},
		{base: 10000, period: models.PeriodYear, want: 96000},
		{base: 15000, period: models.PeriodYear, want: 144000},
		{base: 0, period: models.PeriodYear, want: 0},
		// 9999 * 6 * 0.9 = 53994.6
		{base: 9999, period: models.PeriodSemiAnnual, want: 53995},
		// 1 * 6 * 0.9 = 5.4
		{base: 1, period: models.PeriodSemiAnnual, want: 5},
	}

	for _, tt := range tests {
		got, err := ComputeTotalAmount(tt.base, tt.period)
		if err != nil {
			t.Fatalf("ComputeTotalAmount(%d, %s) error: %v", tt.base, tt.period, err)
		}
		if got != tt.want {
			t.Fatalf("ComputeTotalAmount(%d, %s) = %d, want %d", tt.base, tt.period, got, tt.want)
		}
		again, _ := ComputeTotalAmount(tt.base, tt.period)
		if again != got {
			t.Fatalf("ComputeTotalAmount is not deterministic for %d/%s", tt.base, tt.period)
		}
	}
}

func TestPlanAmount_RoundsHalfUp(t *testing.T) {
	plan := &models.Plan{Tier: models.TierStandard, Period: models.PeriodMonthly, BasePrice: 5, DiscountRate: decimal.RequireFromString("0.1")}
	got, err := PlanAmount(plan)
	require.NoError(t, err)
	assert.Equal(t, int64(5), got) // 4.5 rounds up

	plan.DiscountRate = decimal.RequireFromString("0.3")
	got, err = PlanAmount(plan)
	require.NoError(t, err)
	assert.Equal(t, int64(4), got) // 3.5 rounds up
}

func TestComputeTotalAmount_Rejects(t *testing.T) {
	_, err := ComputeTotalAmount(10000, "WEEKLY")
	assert.True(t, errors.Is(err, ErrInvalidRequest))

	_, err = ComputeTotalAmount(-1, models.PeriodMonthly)
	assert.True(t, errors.Is(err, ErrInvalidRequest))

	_, err = PlanAmount(&models.Plan{Period: models.PeriodMonthly, BasePrice: 1, DiscountRate: decimal.RequireFromString("1.5")})
	assert.True(t, errors.Is(err, ErrInvalidRequest))
}

func TestParseTierAndPeriod(t *testing.T) {
	tier, err := ParseTier(" premium ")
	require.NoError(t, err)
	assert.Equal(t, models.TierPremium, tier)

	period, err := ParsePeriod("semi_annual")
	require.NoError(t, err)
	assert.Equal(t, models.PeriodSemiAnnual, period)

	_, err = ParseTier("GOLD")
	assert.ErrorIs(t, err, ErrInvalidRequest)
}

func TestCatalog_LookupAndList(t *testing.T) {
	ctx := context.Background()
	plans := repository.NewPlanRepository(dbtest.New(t))
	catalog := NewCatalog(plans, time.Minute)
	require.NoError(t, catalog.Seed(ctx))

	amount, err := catalog.ComputeTotalAmount(ctx, "STANDARD", "YEAR")
	require.NoError(t, err)
	assert.Equal(t, int64(96000), amount)

	_, err = catalog.Lookup(ctx, "STANDARD", "DAILY")
	assert.ErrorIs(t, err, ErrInvalidRequest)

	views, err := catalog.ListPlans(ctx)
	require.NoError(t, err)
	require.Len(t, views, 6)
	for _, v := range views {
		want, _ := ComputeTotalAmount(v.BasePrice, v.Period)
		assert.Equal(t, want, v.TotalAmount, "%s/%s", v.Tier, v.Period)
	}
}

func TestCatalog_PlanNotFound(t *testing.T) {
	ctx := context.Background()
	catalog := NewCatalog(repository.NewPlanRepository(dbtest.New(t)), time.Minute)

	_, err := catalog.Lookup(ctx, "PREMIUM", "MONTHLY")
	assert.ErrorIs(t, err, ErrPlanNotFound)
}

func TestCatalog_ListIsCached(t *testing.T) {
	ctx := context.Background()
	db := dbtest.New(t)
	catalog := NewCatalog(repository.NewPlanRepository(db), time.Hour)
	require.NoError(t, catalog.Seed(ctx))

	first, err := catalog.ListPlans(ctx)
	require.NoError(t, err)

	require.NoError(t, db.Where("1 = 1").Delete(&models.Plan{}).Error)
	cached, err := catalog.ListPlans(ctx)
	require.NoError(t, err)
	assert.Equal(t, len(first), len(cached))

	catalog.now = func() time.Time { return time.Now().Add(2 * time.Hour) }
	fresh, err := catalog.ListPlans(ctx)
	require.NoError(t, err)
	assert.Empty(t, fresh)
}

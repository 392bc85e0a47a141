package billing

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	"github.com/prgrms-web-devcourse-final-project/WEB4-5-NOBREAKTIME-BE-sub002/app/models"
	"github.com/prgrms-web-devcourse-final-project/WEB4-5-NOBREAKTIME-BE-sub002/app/repository"
)

// PeriodTerms are the fixed length and discount of a billing period.
type PeriodTerms struct {
	Months       int
	DiscountRate decimal.Decimal
}

var periodTerms = map[string]PeriodTerms{
	models.PeriodMonthly:    {Months: 1, DiscountRate: decimal.Zero},
	models.PeriodSemiAnnual: {Months: 6, DiscountRate: decimal.RequireFromString("0.10")},
	models.PeriodYear:       {Months: 12, DiscountRate: decimal.RequireFromString("0.20")},
}

var tierBasePrices = map[string]int64{
	models.TierStandard: 10000,
	models.TierPremium:  15000,
}

// ParseTier normalizes a tier name and rejects unknown ones.
func ParseTier(raw string) (string, error) {
	tier := strings.ToUpper(strings.TrimSpace(raw))
	if _, ok := tierBasePrices[tier]; !ok {
		return "", fmt.Errorf("%w: unknown tier %q", ErrInvalidRequest, raw)
	}
	return tier, nil
}

// ParsePeriod normalizes a period name and rejects unknown ones.
func ParsePeriod(raw string) (string, error) {
	period := strings.ToUpper(strings.TrimSpace(raw))
	if _, ok := periodTerms[period]; !ok {
		return "", fmt.Errorf("%w: unknown period %q", ErrInvalidRequest, raw)
	}
	return period, nil
}

// TermsFor returns the terms of a known period.
func TermsFor(period string) (PeriodTerms, error) {
	terms, ok := periodTerms[period]
	if !ok {
		return PeriodTerms{}, fmt.Errorf("%w: unknown period %q", ErrInvalidRequest, period)
	}
	return terms, nil
}

// ComputeTotalAmount prices a period from the monthly base price:
// round(basePrice * months * (1 - discountRate)), half away from zero.
func ComputeTotalAmount(basePrice int64, period string) (int64, error) {
	terms, err := TermsFor(period)
	if err != nil {
		return 0, err
	}
	return totalAmount(basePrice, terms.Months, terms.DiscountRate)
}

// PlanAmount prices a stored plan using its own discount rate.
func PlanAmount(plan *models.Plan) (int64, error) {
	terms, err := TermsFor(plan.Period)
	if err != nil {
		return 0, err
	}
	return totalAmount(plan.BasePrice, terms.Months, plan.DiscountRate)
}

func totalAmount(basePrice int64, months int, discount decimal.Decimal) (int64, error) {
	if basePrice < 0 {
		return 0, fmt.Errorf("%w: negative base price", ErrInvalidRequest)
	}
	if discount.IsNegative() || discount.GreaterThan(decimal.NewFromInt(1)) {
		return 0, fmt.Errorf("%w: discount rate %s out of range", ErrInvalidRequest, discount)
	}
	amount := decimal.NewFromInt(basePrice).
		Mul(decimal.NewFromInt(int64(months))).
		Mul(decimal.NewFromInt(1).Sub(discount)).
		Round(0)
	return amount.IntPart(), nil
}

// DefaultPlans is the seeded catalog: every tier for every period.
func DefaultPlans() []models.Plan {
	periods := []string{models.PeriodMonthly, models.PeriodSemiAnnual, models.PeriodYear}
	tiers := []string{models.TierStandard, models.TierPremium}

	plans := make([]models.Plan, 0, len(tiers)*len(periods))
	for _, tier := range tiers {
		for _, period := range periods {
			terms := periodTerms[period]
			plans = append(plans, models.Plan{
				Tier:         tier,
				Period:       period,
				BasePrice:    tierBasePrices[tier],
				DiscountRate: terms.DiscountRate,
				Description:  fmt.Sprintf("%s %d month(s)", tier, terms.Months),
				Benefits:     datatypes.JSON(benefitsFor(tier)),
			})
		}
	}
	return plans
}

func benefitsFor(tier string) string {
	if tier == models.TierPremium {
		return `["unlimited_videos","unlimited_wordbook","ai_feedback","priority_support"]`
	}
	return `["unlimited_videos","unlimited_wordbook"]`
}

// PlanView is a catalog entry with its computed price.
type PlanView struct {
	ID           uint           `json:"id"`
	Tier         string         `json:"tier"`
	Period       string         `json:"period"`
	Months       int            `json:"months"`
	BasePrice    int64          `json:"basePrice"`
	DiscountRate string         `json:"discountRate"`
	TotalAmount  int64          `json:"totalAmount"`
	Description  string         `json:"description"`
	Benefits     datatypes.JSON `json:"benefits"`
}

// Catalog resolves (tier, period) pairs to plans and prices them.
type Catalog struct {
	plans repository.PlanRepository
	ttl   time.Duration
	now   func() time.Time

	mu       sync.RWMutex
	cached   []PlanView
	cachedAt time.Time
}

func NewCatalog(plans repository.PlanRepository, ttl time.Duration) *Catalog {
	return &Catalog{plans: plans, ttl: ttl, now: time.Now}
}

// Lookup validates the pair and loads the matching plan.
func (c *Catalog) Lookup(ctx context.Context, tier, period string) (*models.Plan, error) {
	t, err := ParseTier(tier)
	if err != nil {
		return nil, err
	}
	p, err := ParsePeriod(period)
	if err != nil {
		return nil, err
	}
	plan, err := c.plans.GetByTierAndPeriod(ctx, t, p)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("%w: %s/%s", ErrPlanNotFound, t, p)
		}
		return nil, err
	}
	return plan, nil
}

// PlanByID loads a plan referenced by a payment.
func (c *Catalog) PlanByID(ctx context.Context, id uint) (*models.Plan, error) {
	plan, err := c.plans.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("%w: id %d", ErrPlanNotFound, id)
		}
		return nil, err
	}
	return plan, nil
}

func (c *Catalog) ComputeTotalAmount(ctx context.Context, tier, period string) (int64, error) {
	plan, err := c.Lookup(ctx, tier, period)
	if err != nil {
		return 0, err
	}
	return PlanAmount(plan)
}

// ListPlans returns the priced catalog, cached for the configured TTL.
func (c *Catalog) ListPlans(ctx context.Context) ([]PlanView, error) {
	c.mu.RLock()
	if c.cached != nil && c.now().Sub(c.cachedAt) < c.ttl {
		out := append([]PlanView(nil), c.cached...)
		c.mu.RUnlock()
		return out, nil
	}
	c.mu.RUnlock()

	plans, err := c.plans.List(ctx)
	if err != nil {
		return nil, err
	}
	views := make([]PlanView, 0, len(plans))
	for i := range plans {
		amount, err := PlanAmount(&plans[i])
		if err != nil {
			return nil, err
		}
		terms, _ := TermsFor(plans[i].Period)
		views = append(views, PlanView{
			ID:           plans[i].ID,
			Tier:         plans[i].Tier,
			Period:       plans[i].Period,
			Months:       terms.Months,
			BasePrice:    plans[i].BasePrice,
			DiscountRate: plans[i].DiscountRate.String(),
			TotalAmount:  amount,
			Description:  plans[i].Description,
			Benefits:     plans[i].Benefits,
		})
	}

	c.mu.Lock()
	c.cached = views
	c.cachedAt = c.now()
	c.mu.Unlock()
	return append([]PlanView(nil), views...), nil
}

// Seed upserts DefaultPlans.
func (c *Catalog) Seed(ctx context.Context) error {
	for _, plan := range DefaultPlans() {
		plan := plan
		if err := c.plans.Upsert(ctx, &plan); err != nil {
			return fmt.Errorf("seed plan %s/%s: %w", plan.Tier, plan.Period, err)
		}
	}
	c.mu.Lock()
	c.cached = nil
	c.mu.Unlock()
	return nil
}

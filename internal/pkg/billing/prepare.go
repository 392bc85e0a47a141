package billing

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/gofiber/fiber/v2/log"
	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/prgrms-web-devcourse-final-project/WEB4-5-NOBREAKTIME-BE-sub002/app/models"
	"github.com/prgrms-web-devcourse-final-project/WEB4-5-NOBREAKTIME-BE-sub002/app/repository"
	"github.com/prgrms-web-devcourse-final-project/WEB4-5-NOBREAKTIME-BE-sub002/internal/pkg/database"
)

const maxOrderIDAttempts = 3

var customerKeyNamespace = uuid.MustParse("6f1c2a34-5b7d-4e8f-9a0b-1c2d3e4f5a6b")

// CustomerKeyFor derives the stable gateway customer key of a member.
func CustomerKeyFor(memberID uint) string {
	return uuid.NewSHA1(customerKeyNamespace, []byte(strconv.FormatUint(uint64(memberID), 10))).String()
}

// Preparer validates a purchase, prices it once and stores the PENDING
// payment before any gateway call.
type Preparer struct {
	catalog  *Catalog
	payments repository.PaymentRepository
	tx       *database.Transactor
	ids      OrderIDGenerator
	now      func() time.Time
}

func NewPreparer(catalog *Catalog, payments repository.PaymentRepository, tx *database.Transactor, ids OrderIDGenerator) *Preparer {
	return &Preparer{catalog: catalog, payments: payments, tx: tx, ids: ids, now: time.Now}
}

func (p *Preparer) Prepare(ctx context.Context, req PrepareRequest) (*PreparedPayment, error) {
	if err := req.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidRequest, err)
	}
	plan, err := p.catalog.Lookup(ctx, req.Tier, req.Period)
	if err != nil {
		return nil, err
	}
	amount, err := PlanAmount(plan)
	if err != nil {
		return nil, err
	}
	customerKey := req.CustomerKey
	if customerKey == "" {
		customerKey = CustomerKeyFor(req.MemberID)
	}
	orderName := fmt.Sprintf("%s %s subscription", plan.Tier, plan.Period)

	for attempt := 1; attempt <= maxOrderIDAttempts; attempt++ {
		payment := &models.Payment{
			OrderID:     p.ids.NewOrderID(),
			OrderName:   orderName,
			CustomerKey: customerKey,
			PlanID:      plan.ID,
			MemberID:    req.MemberID,
			Amount:      amount,
			Currency:    models.CurrencyKRW,
			Status:      models.PaymentStatusPending,
		}

		err := p.tx.InTx(ctx, func(ctx context.Context) error {
			if err := p.payments.Create(ctx, payment); err != nil {
				return err
			}
			return p.payments.AppendHistory(ctx, &models.PaymentHistory{
				PaymentID: payment.ID,
				Status:    models.PaymentStatusPending,
				ChangedAt: p.now().UTC(),
			})
		})
		if err == nil {
			return &PreparedPayment{
				PaymentID:   payment.ID,
				OrderID:     payment.OrderID,
				OrderName:   payment.OrderName,
				Amount:      payment.Amount,
				PlanID:      plan.ID,
				Tier:        plan.Tier,
				Period:      plan.Period,
				MemberID:    req.MemberID,
				CustomerKey: customerKey,
			}, nil
		}
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			log.Warnf("[Billing] order id collision on attempt %d: %s", attempt, payment.OrderID)
			continue
		}
		return nil, fmt.Errorf("prepare payment: %w", err)
	}
	return nil, ErrDuplicateOrderID
}

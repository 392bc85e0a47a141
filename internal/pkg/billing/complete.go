package billing

import (
	"context"
	"errors"
	"fmt"
	"time"
	"unicode/utf8"

	"github.com/gofiber/fiber/v2/log"
	"gorm.io/gorm"

	"github.com/prgrms-web-devcourse-final-project/WEB4-5-NOBREAKTIME-BE-sub002/app/models"
	"github.com/prgrms-web-devcourse-final-project/WEB4-5-NOBREAKTIME-BE-sub002/app/repository"
	"github.com/prgrms-web-devcourse-final-project/WEB4-5-NOBREAKTIME-BE-sub002/internal/pkg/database"
	"github.com/prgrms-web-devcourse-final-project/WEB4-5-NOBREAKTIME-BE-sub002/internal/pkg/gateway"
)

// Completer moves a PENDING payment to its terminal state and, on success,
// replaces the member's active subscription. Repeated completions of the
// same order are no-ops that report the stored result.
type Completer struct {
	catalog       *Catalog
	payments      repository.PaymentRepository
	subscriptions repository.SubscriptionRepository
	outbox        *Outbox
	tx            *database.Transactor
	now           func() time.Time
}

func NewCompleter(
	catalog *Catalog,
	payments repository.PaymentRepository,
	subscriptions repository.SubscriptionRepository,
	outbox *Outbox,
	tx *database.Transactor,
) *Completer {
	return &Completer{
		catalog:       catalog,
		payments:      payments,
		subscriptions: subscriptions,
		outbox:        outbox,
		tx:            tx,
		now:           time.Now,
	}
}

// Complete applies a gateway outcome or failure. A failure, including one
// recorded earlier, is returned as *PaymentFailedError.
func (c *Completer) Complete(ctx context.Context, in Completion) (*MemberGrantedInfo, error) {
	if in.OrderID == "" || (in.Outcome == nil) == (in.Failure == nil) {
		return nil, fmt.Errorf("%w: completion needs an order id and exactly one outcome", ErrInvalidRequest)
	}

	payment, err := c.loadPayment(ctx, in.OrderID)
	if err != nil {
		return nil, err
	}
	plan, err := c.catalog.PlanByID(ctx, payment.PlanID)
	if err != nil {
		return nil, err
	}

	outcome, failure := in.Outcome, in.Failure
	if outcome != nil {
		if mismatch := checkOutcome(payment, outcome); mismatch != nil {
			log.Errorf("[Billing] gateway answer for %s does not match the prepared payment: %s", payment.OrderID, mismatch.Message)
			outcome, failure = nil, mismatch
		}
	}

	now := c.now().UTC()
	var (
		applied bool
		events  []models.PaymentEvent
		info    *MemberGrantedInfo
	)
	for attempt := 1; ; attempt++ {
		err = c.tx.InTx(ctx, func(ctx context.Context) error {
			var err error
			events = events[:0]
			if failure != nil {
				applied, err = c.applyFailure(ctx, payment, failure, now, &events)
				return err
			}
			applied, info, err = c.applySuccess(ctx, payment, plan, outcome, now, &events)
			return err
		})
		if !errors.Is(err, errActiveTermTaken) || attempt == maxCompleteAttempts {
			break
		}
		log.Warnf("[Billing] payment %s raced another completion for member %d, retrying", payment.OrderID, payment.MemberID)
	}
	if err != nil {
		return nil, fmt.Errorf("complete payment %s: %w", payment.OrderID, err)
	}

	if !applied {
		log.Infof("[Billing] payment %s already terminal, completion ignored", payment.OrderID)
		return c.storedResult(ctx, payment.OrderID, plan, outcome)
	}

	c.outbox.Dispatch(ctx, events)

	if failure != nil {
		log.Infof("[Billing] payment %s failed: %s", payment.OrderID, failure.Code)
		return nil, &PaymentFailedError{OrderID: payment.OrderID, Code: failure.Code, Message: failure.Message}
	}
	log.Infof("[Billing] payment %s succeeded, member %d subscribed to %s/%s until %s",
		payment.OrderID, payment.MemberID, plan.Tier, plan.Period, info.ExpiresAt.Format(time.RFC3339))
	return info, nil
}

func (c *Completer) applySuccess(
	ctx context.Context,
	payment *models.Payment,
	plan *models.Plan,
	outcome *gateway.Outcome,
	now time.Time,
	events *[]models.PaymentEvent,
) (bool, *MemberGrantedInfo, error) {
	approvedAt := now
	if outcome.ApprovedAt != nil {
		approvedAt = outcome.ApprovedAt.UTC()
	}
	changed, err := c.payments.TransitionFromPending(ctx, payment.OrderID, repository.PaymentTransition{
		Status:     models.PaymentStatusSuccess,
		PaymentKey: outcome.PaymentKey,
		BillingKey: outcome.BillingKey,
		ReceiptURL: outcome.ReceiptURL,
		ApprovedAt: &approvedAt,
	})
	if err != nil || !changed {
		return false, nil, err
	}
	if err := c.payments.AppendHistory(ctx, &models.PaymentHistory{
		PaymentID: payment.ID,
		Status:    models.PaymentStatusSuccess,
		ChangedAt: now,
	}); err != nil {
		return false, nil, err
	}

	// The previous term must stop being ACTIVE before the new one exists.
	active, err := c.subscriptions.LockActiveByMember(ctx, payment.MemberID)
	if err != nil {
		return false, nil, err
	}
	for _, sub := range active {
		status := models.SubscriptionStatusCanceled
		if !sub.ExpiredAt.After(now) {
			status = models.SubscriptionStatusExpired
		}
		if err := c.subscriptions.UpdateStatus(ctx, sub.ID, status); err != nil {
			return false, nil, err
		}
	}

	terms, err := TermsFor(plan.Period)
	if err != nil {
		return false, nil, err
	}
	sub := &models.Subscription{
		MemberID:  payment.MemberID,
		PlanID:    plan.ID,
		PaymentID: payment.ID,
		Status:    models.SubscriptionStatusActive,
		StartedAt: now,
		ExpiredAt: now.AddDate(0, terms.Months, 0),
	}
	if err := c.subscriptions.Create(ctx, sub); err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			return false, nil, fmt.Errorf("%w: %w", errActiveTermTaken, err)
		}
		return false, nil, err
	}

	event, err := c.outbox.Record(ctx, payment.ID, models.PaymentEventSucceeded, payment.OrderID, PaymentSucceeded{
		PaymentID:  payment.ID,
		MemberID:   payment.MemberID,
		OrderID:    payment.OrderID,
		OrderName:  payment.OrderName,
		Amount:     payment.Amount,
		ReceiptURL: outcome.ReceiptURL,
		ExpiresAt:  sub.ExpiredAt,
	})
	if err != nil {
		return false, nil, err
	}
	if event != nil {
		*events = append(*events, *event)
	}

	return true, grantedInfo(payment, plan, sub, outcome.ReceiptURL), nil
}

func (c *Completer) applyFailure(
	ctx context.Context,
	payment *models.Payment,
	failure *Failure,
	now time.Time,
	events *[]models.PaymentEvent,
) (bool, error) {
	changed, err := c.payments.TransitionFromPending(ctx, payment.OrderID, repository.PaymentTransition{
		Status:         models.PaymentStatusFailed,
		FailureCode:    failure.Code,
		FailureMessage: truncateMessage(failure.Message),
	})
	if err != nil || !changed {
		return false, err
	}
	if err := c.payments.AppendHistory(ctx, &models.PaymentHistory{
		PaymentID:      payment.ID,
		Status:         models.PaymentStatusFailed,
		FailureCode:    failure.Code,
		FailureMessage: truncateMessage(failure.Message),
		ChangedAt:      now,
	}); err != nil {
		return false, err
	}

	event, err := c.outbox.Record(ctx, payment.ID, models.PaymentEventFailed, payment.OrderID, PaymentFailed{
		PaymentID: payment.ID,
		MemberID:  payment.MemberID,
		OrderID:   payment.OrderID,
		OrderName: payment.OrderName,
		Code:      failure.Code,
		Message:   failure.Message,
	})
	if err != nil {
		return false, err
	}
	if event != nil {
		*events = append(*events, *event)
	}
	return true, nil
}

// storedResult reports what an earlier completion recorded.
func (c *Completer) storedResult(ctx context.Context, orderID string, plan *models.Plan, outcome *gateway.Outcome) (*MemberGrantedInfo, error) {
	payment, err := c.loadPayment(ctx, orderID)
	if err != nil {
		return nil, err
	}
	switch payment.Status {
	case models.PaymentStatusSuccess:
		sub, err := c.subscriptions.GetByPaymentID(ctx, payment.ID)
		if err != nil {
			return nil, fmt.Errorf("load subscription of payment %s: %w", orderID, err)
		}
		return grantedInfo(payment, plan, sub, payment.ReceiptURL), nil
	case models.PaymentStatusFailed:
		if outcome.Approved() {
			pc := &PostChargeInconsistencyError{
				OrderID:    orderID,
				PaymentKey: outcome.PaymentKey,
				Amount:     payment.Amount,
				Err:        fmt.Errorf("gateway approved a payment recorded as FAILED (%s)", payment.FailureCode),
			}
			log.Errorf("[Billing][POST-CHARGE] %v", pc)
			c.MarkPostCharge(ctx, orderID, outcome, pc.Err)
			return nil, pc
		}
		return nil, &PaymentFailedError{OrderID: orderID, Code: payment.FailureCode, Message: payment.FailureMessage}
	default:
		return nil, fmt.Errorf("payment %s unexpectedly still %s", orderID, payment.Status)
	}
}

// MarkPostCharge records outside any transaction that the gateway captured
// money for orderID although the payment could not be completed. A PENDING
// payment keeps its status but gains the gateway payment key; every payment
// gets a history row coded models.HistoryCodePostCharge for reconciliation.
func (c *Completer) MarkPostCharge(ctx context.Context, orderID string, outcome *gateway.Outcome, cause error) {
	if !outcome.Approved() || outcome.PaymentKey == "" {
		return
	}
	payment, err := c.loadPayment(ctx, orderID)
	if err != nil {
		log.Errorf("[Billing][POST-CHARGE] cannot mark %s (paymentKey=%s): %v", orderID, outcome.PaymentKey, err)
		return
	}
	if payment.Status == models.PaymentStatusPending {
		if _, err := c.payments.RecordCharge(ctx, orderID, outcome.PaymentKey, outcome.ApprovedAt); err != nil {
			log.Errorf("[Billing][POST-CHARGE] cannot store paymentKey %s on %s: %v", outcome.PaymentKey, orderID, err)
		}
	}
	message := fmt.Sprintf("paymentKey=%s", outcome.PaymentKey)
	if cause != nil {
		message += ": " + cause.Error()
	}
	if err := c.payments.AppendHistory(ctx, &models.PaymentHistory{
		PaymentID:      payment.ID,
		Status:         payment.Status,
		FailureCode:    models.HistoryCodePostCharge,
		FailureMessage: truncateMessage(message),
		ChangedAt:      c.now().UTC(),
	}); err != nil {
		log.Errorf("[Billing][POST-CHARGE] cannot record marker for %s: %v", orderID, err)
	}
}

// ExpireCheckout fails a PENDING payment nobody completed with
// FailureCodeCheckoutExpired. A payment that already reached a terminal
// state is left as it is.
func (c *Completer) ExpireCheckout(ctx context.Context, orderID string) error {
	_, err := c.Complete(ctx, Completion{
		OrderID: orderID,
		Failure: &Failure{Code: FailureCodeCheckoutExpired, Message: "checkout was not completed in time"},
	})
	var failed *PaymentFailedError
	if err == nil || errors.As(err, &failed) {
		return nil
	}
	return err
}

// State returns the stored result of an order without changing it.
func (c *Completer) State(ctx context.Context, orderID string) (*MemberGrantedInfo, error) {
	payment, err := c.loadPayment(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if !payment.IsTerminal() {
		return nil, fmt.Errorf("%w: payment %s is still pending", ErrInvalidRequest, orderID)
	}
	plan, err := c.catalog.PlanByID(ctx, payment.PlanID)
	if err != nil {
		return nil, err
	}
	return c.storedResult(ctx, orderID, plan, nil)
}

func (c *Completer) loadPayment(ctx context.Context, orderID string) (*models.Payment, error) {
	payment, err := c.payments.GetByOrderID(ctx, orderID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("%w: %s", ErrPaymentNotFound, orderID)
		}
		return nil, err
	}
	return payment, nil
}

func checkOutcome(payment *models.Payment, outcome *gateway.Outcome) *Failure {
	if outcome.OrderID != "" && outcome.OrderID != payment.OrderID {
		return &Failure{
			Code:    FailureCodeAmountMismatch,
			Message: fmt.Sprintf("gateway order id %s differs from %s", outcome.OrderID, payment.OrderID),
		}
	}
	if outcome.Amount != 0 && outcome.Amount != payment.Amount {
		return &Failure{
			Code:    FailureCodeAmountMismatch,
			Message: fmt.Sprintf("gateway amount %d differs from prepared amount %d", outcome.Amount, payment.Amount),
		}
	}
	return nil
}

func grantedInfo(payment *models.Payment, plan *models.Plan, sub *models.Subscription, receiptURL string) *MemberGrantedInfo {
	return &MemberGrantedInfo{
		MemberID:   payment.MemberID,
		Tier:       plan.Tier,
		Period:     plan.Period,
		OrderID:    payment.OrderID,
		PaymentID:  payment.ID,
		Amount:     payment.Amount,
		ReceiptURL: receiptURL,
		StartedAt:  sub.StartedAt,
		ExpiresAt:  sub.ExpiredAt,
	}
}

const maxFailureMessage = 500

// A success that finds no ACTIVE term locks nothing, so a concurrent success
// for the same member can commit its term first. The unique active-member
// index rejects the second insert and the completion is run again, this time
// superseding the committed term.
const maxCompleteAttempts = 2

var errActiveTermTaken = errors.New("member gained an active subscription concurrently")

// truncateMessage cuts msg to the failure_message column without splitting a
// multi-byte character.
func truncateMessage(msg string) string {
	if len(msg) <= maxFailureMessage {
		return msg
	}
	cut := maxFailureMessage
	for cut > 0 && !utf8.RuneStart(msg[cut]) {
		cut--
	}
	return msg[:cut]
}

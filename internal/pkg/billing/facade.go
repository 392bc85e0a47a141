package billing

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"

	"github.com/gofiber/fiber/v2/log"
	"gorm.io/gorm"

	"github.com/prgrms-web-devcourse-final-project/WEB4-5-NOBREAKTIME-BE-sub002/app/models"
	"github.com/prgrms-web-devcourse-final-project/WEB4-5-NOBREAKTIME-BE-sub002/app/repository"
	"github.com/prgrms-web-devcourse-final-project/WEB4-5-NOBREAKTIME-BE-sub002/internal/pkg/gateway"
)

var ErrInvalidWebhookSignature = errors.New("invalid webhook signature")

// PaymentGateway is the external charge API used between prepare and complete.
type PaymentGateway interface {
	ConfirmPayment(ctx context.Context, req gateway.ConfirmRequest) (*gateway.Outcome, error)
	ChargeBillingKey(ctx context.Context, req gateway.ChargeRequest) (*gateway.Outcome, error)
	IssueBillingKey(ctx context.Context, authKey, customerKey string) (string, error)
}

// FacadeConfig holds the redirect targets and webhook secret.
type FacadeConfig struct {
	SuccessURL    string
	FailURL       string
	WebhookSecret string
}

// Facade sequences prepare, the gateway call and complete for one attempt.
// Prepare and complete each commit their own transaction; the gateway call
// runs between them with no transaction open.
type Facade struct {
	preparer  *Preparer
	completer *Completer
	gateway   PaymentGateway
	payments  repository.PaymentRepository
	webhooks  repository.WebhookEventRepository
	cfg       FacadeConfig
}

func NewFacade(
	preparer *Preparer,
	completer *Completer,
	gw PaymentGateway,
	payments repository.PaymentRepository,
	webhooks repository.WebhookEventRepository,
	cfg FacadeConfig,
) *Facade {
	return &Facade{
		preparer:  preparer,
		completer: completer,
		gateway:   gw,
		payments:  payments,
		webhooks:  webhooks,
		cfg:       cfg,
	}
}

// ExecutePayment charges the member's billing key for the requested plan.
// When only an auth key is given a billing key is issued first.
func (f *Facade) ExecutePayment(ctx context.Context, req ExecuteRequest) (*MemberGrantedInfo, error) {
	if err := req.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidRequest, err)
	}
	prepared, err := f.preparer.Prepare(ctx, PrepareRequest{
		MemberID:    req.MemberID,
		Tier:        req.Tier,
		Period:      req.Period,
		CustomerKey: req.CustomerKey,
	})
	if err != nil {
		return nil, err
	}

	// From here on the attempt must reach completion even if the caller leaves.
	ctx = context.WithoutCancel(ctx)

	billingKey := req.BillingKey
	if billingKey == "" {
		billingKey, err = f.gateway.IssueBillingKey(ctx, req.AuthKey, prepared.CustomerKey)
		if err != nil {
			return nil, f.fail(ctx, prepared.OrderID, err)
		}
	}

	outcome, err := f.gateway.ChargeBillingKey(ctx, gateway.ChargeRequest{
		BillingKey:  billingKey,
		CustomerKey: prepared.CustomerKey,
		OrderID:     prepared.OrderID,
		OrderName:   prepared.OrderName,
		Amount:      prepared.Amount,
		Currency:    models.CurrencyKRW,
	})
	if err != nil {
		return nil, f.fail(ctx, prepared.OrderID, err)
	}
	return f.complete(ctx, prepared.OrderID, prepared.Amount, outcome)
}

// StartCheckout prepares a payment for the hosted checkout window.
func (f *Facade) StartCheckout(ctx context.Context, memberID uint, tier, period string) (*CheckoutSession, error) {
	prepared, err := f.preparer.Prepare(ctx, PrepareRequest{MemberID: memberID, Tier: tier, Period: period})
	if err != nil {
		return nil, err
	}
	return &CheckoutSession{
		OrderID:     prepared.OrderID,
		OrderName:   prepared.OrderName,
		Amount:      prepared.Amount,
		CustomerKey: prepared.CustomerKey,
		SuccessURL:  f.cfg.SuccessURL,
		FailURL:     f.cfg.FailURL,
	}, nil
}

// ConfirmCheckout approves a hosted checkout after the success redirect.
func (f *Facade) ConfirmCheckout(ctx context.Context, memberID uint, orderID, paymentKey string, amount int64) (*MemberGrantedInfo, error) {
	if strings.TrimSpace(orderID) == "" || strings.TrimSpace(paymentKey) == "" {
		return nil, fmt.Errorf("%w: orderId and paymentKey are required", ErrInvalidRequest)
	}
	payment, err := f.ownedPayment(ctx, memberID, orderID)
	if err != nil {
		return nil, err
	}
	if payment.IsTerminal() {
		return f.completer.State(ctx, orderID)
	}
	if amount != payment.Amount {
		failure := &Failure{
			Code:    FailureCodeAmountMismatch,
			Message: fmt.Sprintf("confirmed amount %d differs from prepared amount %d", amount, payment.Amount),
		}
		f.recordFailure(ctx, orderID, failure)
		return nil, fmt.Errorf("%w: %s", ErrAmountMismatch, failure.Message)
	}

	ctx = context.WithoutCancel(ctx)

	outcome, err := f.gateway.ConfirmPayment(ctx, gateway.ConfirmRequest{
		PaymentKey: paymentKey,
		OrderID:    orderID,
		Amount:     payment.Amount,
	})
	if err != nil {
		return nil, f.fail(ctx, orderID, err)
	}
	return f.complete(ctx, orderID, payment.Amount, outcome)
}

// FailCheckout records the failure reported by the fail redirect.
func (f *Facade) FailCheckout(ctx context.Context, memberID uint, orderID, code, message string) (*PaymentState, error) {
	if _, err := f.ownedPayment(ctx, memberID, orderID); err != nil {
		return nil, err
	}
	if code == "" {
		code = "PAY_PROCESS_CANCELED"
	}
	_, err := f.completer.Complete(ctx, Completion{OrderID: orderID, Failure: &Failure{Code: code, Message: message}})
	var failed *PaymentFailedError
	switch {
	case errors.As(err, &failed):
		return &PaymentState{
			OrderID:        orderID,
			Status:         models.PaymentStatusFailed,
			FailureCode:    failed.Code,
			FailureMessage: failed.Message,
		}, nil
	case err != nil:
		return nil, err
	default:
		// An earlier success wins over a late fail redirect.
		return &PaymentState{OrderID: orderID, Status: models.PaymentStatusSuccess}, nil
	}
}

// HandleWebhook applies a gateway status-change notification once.
func (f *Facade) HandleWebhook(ctx context.Context, payload []byte, signature, eventID string) error {
	valid := gateway.VerifyWebhookSignature(payload, signature, f.cfg.WebhookSecret)
	ev, parseErr := gateway.ParseWebhook(payload)

	eventID = strings.TrimSpace(eventID)
	if eventID == "" {
		sum := sha256.Sum256(payload)
		eventID = "hash:" + hex.EncodeToString(sum[:])
	}
	record := &models.BillingWebhookEvent{
		Provider:        models.BillingProviderGateway,
		ProviderEventID: eventID,
		PayloadJSON:     string(payload),
		SignatureValid:  valid,
	}
	if ev != nil {
		record.EventType = ev.EventType
		record.OrderID = ev.OrderID
	}
	if record.EventType == "" {
		record.EventType = "unknown"
	}

	created, stored, err := f.webhooks.CreateIfNotExists(ctx, record)
	if err != nil {
		return err
	}
	if !valid {
		_ = f.webhooks.MarkProcessed(ctx, stored.ID, ErrInvalidWebhookSignature.Error())
		return ErrInvalidWebhookSignature
	}
	if !created && stored.ProcessedAt != nil && stored.ProcessingError == "" {
		log.Infof("[Billing] webhook %s already processed", eventID)
		return nil
	}
	if parseErr != nil {
		_ = f.webhooks.MarkProcessed(ctx, stored.ID, parseErr.Error())
		return fmt.Errorf("%w: %v", ErrInvalidRequest, parseErr)
	}
	if !ev.Terminal() {
		return f.webhooks.MarkProcessed(ctx, stored.ID, "")
	}

	completion := Completion{OrderID: ev.OrderID, Outcome: ev.Outcome}
	if ev.Failure != nil {
		completion.Outcome = nil
		completion.Failure = &Failure{Code: ev.Failure.Code, Message: ev.Failure.Message}
	}
	_, procErr := f.completer.Complete(ctx, completion)

	var failed *PaymentFailedError
	var postCharge *PostChargeInconsistencyError
	switch {
	case procErr == nil, errors.As(procErr, &failed):
		return f.webhooks.MarkProcessed(ctx, stored.ID, "")
	case errors.Is(procErr, ErrPaymentNotFound), errors.As(procErr, &postCharge):
		return f.webhooks.MarkProcessed(ctx, stored.ID, procErr.Error())
	default:
		f.completer.MarkPostCharge(ctx, ev.OrderID, completion.Outcome, procErr)
		_ = f.webhooks.MarkProcessed(ctx, stored.ID, procErr.Error())
		return procErr
	}
}

func (f *Facade) ownedPayment(ctx context.Context, memberID uint, orderID string) (*models.Payment, error) {
	payment, err := f.payments.GetByOrderID(ctx, orderID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("%w: %s", ErrPaymentNotFound, orderID)
		}
		return nil, err
	}
	if payment.MemberID != memberID {
		return nil, fmt.Errorf("%w: %s", ErrPaymentNotFound, orderID)
	}
	return payment, nil
}

// fail records a gateway error as the terminal failure of the order and
// returns the gateway error for the caller.
func (f *Facade) fail(ctx context.Context, orderID string, gwErr error) error {
	failure := &Failure{Code: gateway.FailureCodeCallFailed, Message: gwErr.Error()}
	if declined, ok := gateway.IsDeclined(gwErr); ok {
		failure = &Failure{Code: declined.Code, Message: declined.Message}
	}

	f.recordFailure(ctx, orderID, failure)
	return gwErr
}

// recordFailure completes orderID as failed. A payment that cannot be moved
// to FAILED is logged and left for reconciliation.
func (f *Facade) recordFailure(ctx context.Context, orderID string, failure *Failure) {
	_, err := f.completer.Complete(ctx, Completion{OrderID: orderID, Failure: failure})
	var failed *PaymentFailedError
	if err != nil && !errors.As(err, &failed) {
		log.Errorf("[Billing] could not record failure of %s: %v", orderID, err)
	}
}

func (f *Facade) complete(ctx context.Context, orderID string, amount int64, outcome *gateway.Outcome) (*MemberGrantedInfo, error) {
	info, err := f.completer.Complete(ctx, Completion{OrderID: orderID, Outcome: outcome})
	if err == nil {
		return info, nil
	}

	var failed *PaymentFailedError
	var postCharge *PostChargeInconsistencyError
	if errors.As(err, &failed) || errors.As(err, &postCharge) {
		return nil, err
	}
	pc := &PostChargeInconsistencyError{
		OrderID:    orderID,
		PaymentKey: outcome.PaymentKey,
		Amount:     amount,
		Err:        err,
	}
	log.Errorf("[Billing][POST-CHARGE] %v", pc)
	f.completer.MarkPostCharge(ctx, orderID, outcome, err)
	return nil, pc
}

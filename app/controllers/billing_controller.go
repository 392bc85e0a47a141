package controllers

import (
	"errors"
	"strconv"

	"github.com/gofiber/fiber/v2"
	"gorm.io/gorm"

	"github.com/prgrms-web-devcourse-final-project/WEB4-5-NOBREAKTIME-BE-sub002/app/repository"
	"github.com/prgrms-web-devcourse-final-project/WEB4-5-NOBREAKTIME-BE-sub002/internal/pkg/billing"
	"github.com/prgrms-web-devcourse-final-project/WEB4-5-NOBREAKTIME-BE-sub002/internal/pkg/gateway"
	"github.com/prgrms-web-devcourse-final-project/WEB4-5-NOBREAKTIME-BE-sub002/internal/pkg/usercontext"
)

// BillingController serves plans, payments and the member's subscription.
type BillingController struct {
	facade        *billing.Facade
	catalog       *billing.Catalog
	subscriptions repository.SubscriptionRepository
}

func NewBillingController(facade *billing.Facade, catalog *billing.Catalog, subscriptions repository.SubscriptionRepository) *BillingController {
	return &BillingController{facade: facade, catalog: catalog, subscriptions: subscriptions}
}

type checkoutRequest struct {
	Tier   string `json:"tier"`
	Period string `json:"period"`
}

type executeRequest struct {
	Tier        string `json:"tier"`
	Period      string `json:"period"`
	CustomerKey string `json:"customerKey"`
	AuthKey     string `json:"authKey"`
	BillingKey  string `json:"billingKey"`
}

// subscriptionResponse is the member's active term.
type subscriptionResponse struct {
	SubscriptionID uint   `json:"subscriptionId"`
	Tier           string `json:"tier"`
	Period         string `json:"period"`
	Status         string `json:"status"`
	PaymentID      uint   `json:"paymentId"`
	StartedAt      string `json:"startedAt"`
	ExpiresAt      string `json:"expiresAt"`
}

// HandleListPlans handles GET /plans
func (bc *BillingController) HandleListPlans(c *fiber.Ctx) error {
	plans, err := bc.catalog.ListPlans(c.UserContext())
	if err != nil {
		return writeBillingError(c, err)
	}
	return c.JSON(fiber.Map{"plans": plans})
}

// HandleStartCheckout handles POST /payments
func (bc *BillingController) HandleStartCheckout(c *fiber.Ctx) error {
	var req checkoutRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid_request", "message": "Malformed request body"})
	}
	session, err := bc.facade.StartCheckout(c.UserContext(), usercontext.GetMemberID(c), req.Tier, req.Period)
	if err != nil {
		return writeBillingError(c, err)
	}
	return c.Status(fiber.StatusCreated).JSON(session)
}

// HandleExecutePayment handles POST /payments/billing
func (bc *BillingController) HandleExecutePayment(c *fiber.Ctx) error {
	var req executeRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid_request", "message": "Malformed request body"})
	}
	info, err := bc.facade.ExecutePayment(c.UserContext(), billing.ExecuteRequest{
		MemberID:    usercontext.GetMemberID(c),
		Tier:        req.Tier,
		Period:      req.Period,
		CustomerKey: req.CustomerKey,
		AuthKey:     req.AuthKey,
		BillingKey:  req.BillingKey,
	})
	if err != nil {
		return writeBillingError(c, err)
	}
	return c.JSON(info)
}

// HandleCheckoutSuccess handles GET /payments/success
func (bc *BillingController) HandleCheckoutSuccess(c *fiber.Ctx) error {
	amount, err := strconv.ParseInt(c.Query("amount"), 10, 64)
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid_request", "message": "amount must be an integer"})
	}
	info, err := bc.facade.ConfirmCheckout(c.UserContext(), usercontext.GetMemberID(c), c.Query("orderId"), c.Query("paymentKey"), amount)
	if err != nil {
		return writeBillingError(c, err)
	}
	return c.JSON(info)
}

// HandleCheckoutFail handles GET /payments/fail
func (bc *BillingController) HandleCheckoutFail(c *fiber.Ctx) error {
	orderID := c.Query("orderId")
	if orderID == "" {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid_request", "message": "orderId is required"})
	}
	state, err := bc.facade.FailCheckout(c.UserContext(), usercontext.GetMemberID(c), orderID, c.Query("code"), c.Query("message"))
	if err != nil {
		return writeBillingError(c, err)
	}
	return c.JSON(state)
}

// HandleWebhook handles POST /payments/webhook. Deliveries that were stored
// but cannot be applied are acknowledged so the gateway stops resending.
func (bc *BillingController) HandleWebhook(c *fiber.Ctx) error {
	payload := append([]byte(nil), c.BodyRaw()...)
	signature := c.Get(gateway.HeaderWebhookSignature)
	eventID := c.Get(gateway.HeaderWebhookDelivery)

	err := bc.facade.HandleWebhook(c.UserContext(), payload, signature, eventID)
	switch {
	case err == nil:
		return c.JSON(fiber.Map{"received": true})
	case errors.Is(err, billing.ErrInvalidWebhookSignature):
		return writeBillingError(c, err)
	case errors.Is(err, billing.ErrInvalidRequest):
		return c.JSON(fiber.Map{"received": true, "ignored": true})
	default:
		return writeBillingError(c, err)
	}
}

// HandleMySubscription handles GET /subscriptions/me
func (bc *BillingController) HandleMySubscription(c *fiber.Ctx) error {
	sub, err := bc.subscriptions.GetActiveByMember(c.UserContext(), usercontext.GetMemberID(c))
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "not_found", "message": "No active subscription"})
	}
	if err != nil {
		return writeBillingError(c, err)
	}

	resp := subscriptionResponse{
		SubscriptionID: sub.ID,
		Status:         sub.Status,
		PaymentID:      sub.PaymentID,
		StartedAt:      formatTime(sub.StartedAt),
		ExpiresAt:      formatTime(sub.ExpiredAt),
	}
	if plan, err := bc.catalog.PlanByID(c.UserContext(), sub.PlanID); err == nil {
		resp.Tier = plan.Tier
		resp.Period = plan.Period
	}
	return c.JSON(resp)
}

package controllers

import (
	"errors"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/log"

	"github.com/prgrms-web-devcourse-final-project/WEB4-5-NOBREAKTIME-BE-sub002/internal/pkg/billing"
	"github.com/prgrms-web-devcourse-final-project/WEB4-5-NOBREAKTIME-BE-sub002/internal/pkg/gateway"
)

// writeBillingError maps billing and gateway errors to an HTTP response.
func writeBillingError(c *fiber.Ctx, err error) error {
	var declined *gateway.DeclinedError
	var failed *billing.PaymentFailedError
	var postCharge *billing.PostChargeInconsistencyError

	switch {
	case errors.As(err, &postCharge):
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error":   "payment_incomplete",
			"message": "Payment was charged but could not be completed. Support has been notified.",
			"orderId": postCharge.OrderID,
		})
	case errors.As(err, &declined):
		return c.Status(fiber.StatusPaymentRequired).JSON(fiber.Map{
			"error":   "payment_declined",
			"code":    declined.Code,
			"message": declined.Message,
		})
	case errors.As(err, &failed):
		return c.Status(fiber.StatusPaymentRequired).JSON(fiber.Map{
			"error":   "payment_failed",
			"code":    failed.Code,
			"message": failed.Message,
			"orderId": failed.OrderID,
		})
	case errors.Is(err, billing.ErrInvalidRequest), errors.Is(err, billing.ErrAmountMismatch):
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid_request", "message": err.Error()})
	case errors.Is(err, billing.ErrPlanNotFound), errors.Is(err, billing.ErrPaymentNotFound):
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "not_found", "message": err.Error()})
	case errors.Is(err, billing.ErrDuplicateOrderID):
		return c.Status(fiber.StatusConflict).JSON(fiber.Map{"error": "conflict", "message": err.Error()})
	case errors.Is(err, billing.ErrInvalidWebhookSignature):
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "unauthorized", "message": err.Error()})
	case errors.Is(err, gateway.ErrGatewayCallFailed):
		return c.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{
			"error":   "gateway_unavailable",
			"code":    gateway.FailureCodeCallFailed,
			"message": "Payment provider is unavailable, please try again later",
		})
	default:
		log.Errorf("[Billing] request %s %s failed: %v", c.Method(), c.Path(), err)
		return c.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{"error": "unavailable", "message": "Please try again later"})
	}
}

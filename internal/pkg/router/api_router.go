package router

import (
	"strconv"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/limiter"

	"github.com/prgrms-web-devcourse-final-project/WEB4-5-NOBREAKTIME-BE-sub002/app/controllers"
	"github.com/prgrms-web-devcourse-final-project/WEB4-5-NOBREAKTIME-BE-sub002/internal/pkg/idempotency"
	"github.com/prgrms-web-devcourse-final-project/WEB4-5-NOBREAKTIME-BE-sub002/internal/pkg/middleware"
	"github.com/prgrms-web-devcourse-final-project/WEB4-5-NOBREAKTIME-BE-sub002/internal/pkg/usercontext"
)

// ApiRouter installs the /api/v1 billing routes.
type ApiRouter struct {
	billing *controllers.BillingController
	guard   *idempotency.Guard
	limiter limiter.Config
}

func NewApiRouter(billing *controllers.BillingController, guard *idempotency.Guard, storage fiber.Storage) *ApiRouter {
	return &ApiRouter{
		billing: billing,
		guard:   guard,
		limiter: paymentLimiterConfig(storage),
	}
}

// paymentLimiterConfig limits payment submissions per member. storage may be
// nil, in which case the limiter keeps its counters in memory.
func paymentLimiterConfig(storage fiber.Storage) limiter.Config {
	return limiter.Config{
		Max:        10,
		Expiration: time.Minute,
		Storage:    storage,
		KeyGenerator: func(c *fiber.Ctx) string {
			return "billing:limit:" + strconv.FormatUint(uint64(usercontext.GetMemberID(c)), 10)
		},
		LimitReached: func(c *fiber.Ctx) error {
			return c.Status(fiber.StatusTooManyRequests).JSON(fiber.Map{"error": "rate_limited", "message": "Too many payment requests"})
		},
	}
}

func (r *ApiRouter) InstallRouter(app *fiber.App) {
	api := app.Group("/api", middleware.MemberContextMiddleware)
	api.Get("/", func(ctx *fiber.Ctx) error {
		return ctx.Status(fiber.StatusOK).JSON(fiber.Map{
			"message": "Hello from billing api",
		})
	})

	v1 := api.Group("/v1")
	v1.Get("/plans", r.billing.HandleListPlans)
	// gateway callback, authenticated by its HMAC signature
	v1.Post("/payments/webhook", r.billing.HandleWebhook)

	payments := v1.Group("/payments", middleware.RequireMember)
	payments.Post("/", limiter.New(r.limiter), middleware.IdempotencyMiddleware(r.guard), r.billing.HandleStartCheckout)
	payments.Post("/billing", limiter.New(r.limiter), middleware.IdempotencyMiddleware(r.guard), r.billing.HandleExecutePayment)
	payments.Get("/success", r.billing.HandleCheckoutSuccess)
	payments.Get("/fail", r.billing.HandleCheckoutFail)

	v1.Get("/subscriptions/me", middleware.RequireMember, r.billing.HandleMySubscription)
}

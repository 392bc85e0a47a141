package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gofiber/contrib/swagger"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/log"
	"github.com/gofiber/fiber/v2/middleware/basicauth"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/monitor"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/gofiber/storage/redis"

	"github.com/prgrms-web-devcourse-final-project/WEB4-5-NOBREAKTIME-BE-sub002/app/controllers"
	"github.com/prgrms-web-devcourse-final-project/WEB4-5-NOBREAKTIME-BE-sub002/app/repository"
	"github.com/prgrms-web-devcourse-final-project/WEB4-5-NOBREAKTIME-BE-sub002/internal/pkg/billing"
	"github.com/prgrms-web-devcourse-final-project/WEB4-5-NOBREAKTIME-BE-sub002/internal/pkg/cache"
	"github.com/prgrms-web-devcourse-final-project/WEB4-5-NOBREAKTIME-BE-sub002/internal/pkg/database"
	"github.com/prgrms-web-devcourse-final-project/WEB4-5-NOBREAKTIME-BE-sub002/internal/pkg/env"
	"github.com/prgrms-web-devcourse-final-project/WEB4-5-NOBREAKTIME-BE-sub002/internal/pkg/gateway"
	"github.com/prgrms-web-devcourse-final-project/WEB4-5-NOBREAKTIME-BE-sub002/internal/pkg/idempotency"
	"github.com/prgrms-web-devcourse-final-project/WEB4-5-NOBREAKTIME-BE-sub002/internal/pkg/jobqueue"
	"github.com/prgrms-web-devcourse-final-project/WEB4-5-NOBREAKTIME-BE-sub002/internal/pkg/mail"
	"github.com/prgrms-web-devcourse-final-project/WEB4-5-NOBREAKTIME-BE-sub002/internal/pkg/metrics/counter"
	"github.com/prgrms-web-devcourse-final-project/WEB4-5-NOBREAKTIME-BE-sub002/internal/pkg/reconcile"
	"github.com/prgrms-web-devcourse-final-project/WEB4-5-NOBREAKTIME-BE-sub002/internal/pkg/router"
	"github.com/prgrms-web-devcourse-final-project/WEB4-5-NOBREAKTIME-BE-sub002/internal/pkg/s3export"
)

func main() {
	app, manager := NewApplication()
	manager.Start()

	go func() {
		quit := make(chan os.Signal, 1)
		signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
		<-quit
		log.Info("[Billing] shutting down")
		manager.Stop()
		if err := app.ShutdownWithTimeout(15 * time.Second); err != nil {
			log.Errorf("[Billing] shutdown: %v", err)
		}
	}()

	if err := app.Listen(fmt.Sprintf("%s:%s", env.GetEnv("APP_HOST", "localhost"), env.GetEnv("APP_PORT", "4000"))); err != nil {
		log.Fatal(err)
	}
	_ = cache.Close()
}

func NewApplication() (*fiber.App, *jobqueue.Manager) {
	env.SetupEnvFile()
	database.SetupDatabase()
	cache.SetupCache()

	repository.InitializeFactory(database.GetDB())
	repos := repository.GetGlobalRepositories()
	redisClient := cache.GetClient()

	catalog := billing.NewCatalog(repos.Plan, env.GetEnvSeconds("CATALOG_CACHE_SECONDS", 5*time.Minute))
	if env.GetEnv("BILLING_SEED_PLANS", "false") == "true" {
		if err := catalog.Seed(context.Background()); err != nil {
			log.Errorf("[Billing] seeding plans failed: %v", err)
		}
	}

	// background work: outbox -> job queue -> mail, plus reconciliation
	queue := jobqueue.NewQueue(redisClient, env.GetEnvInt("JOBQUEUE_WORKERS", 3))
	mailer, err := mail.NewMailer(mail.NewSMTPSenderFromEnv())
	if err != nil {
		log.Fatalf("[Billing] mail templates: %v", err)
	}
	jobqueue.NewNotificationHandlers(repos.Member, mailer).Register(queue)
	outcomes := counter.New(redisClient)
	outbox := billing.NewOutbox(repos.PaymentEvent, jobqueue.NewEventPublisher(queue).WithCounter(outcomes))

	tx := database.NewTransactor(database.GetDB())
	completer := billing.NewCompleter(catalog, repos.Payment, repos.Subscription, outbox, tx)

	reconciler := newReconciler(repos.Payment).WithExpirer(completer)
	scheduler, err := reconcile.NewScheduler(redisClient, reconciler, env.GetEnv("RECONCILE_CRON", reconcile.DefaultSchedule))
	if err != nil {
		log.Fatalf("[Billing] %v", err)
	}
	manager := jobqueue.NewManager(queue, outbox, jobqueue.ManagerConfigFromEnv(), scheduler)

	// payment pipeline
	ids, err := billing.NewSnowflakeOrderIDsFromEnv()
	if err != nil {
		log.Fatalf("[Billing] order ids: %v", err)
	}
	publicDomain := env.GetEnv("PUBLIC_DOMAIN", "http://localhost:4000")
	facade := billing.NewFacade(
		billing.NewPreparer(catalog, repos.Payment, tx, ids),
		completer,
		gateway.NewClientFromEnv(),
		repos.Payment,
		repos.WebhookEvent,
		billing.FacadeConfig{
			SuccessURL:    publicDomain + "/api/v1/payments/success",
			FailURL:       publicDomain + "/api/v1/payments/fail",
			WebhookSecret: env.GetEnv("GATEWAY_WEBHOOK_SECRET", ""),
		},
	)

	app := fiber.New(fiber.Config{
		BodyLimit: 1 << 20,
	})

	// recovery and logging
	app.Use(recover.New(), logger.New())

	// fiber metrics
	metricsAuth := basicauth.New(basicauth.Config{
		Users: map[string]string{
			env.GetEnv("METRICS_USER", "admin"): env.GetEnv("METRICS_PASSWORD", "admin"),
		},
	})
	app.Get("/metrics", metricsAuth, monitor.New())
	app.Get("/metrics/billing", metricsAuth, func(c *fiber.Ctx) error {
		totals, err := outcomes.Snapshot(c.UserContext())
		if err != nil {
			return c.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{"error": err.Error()})
		}
		return c.JSON(fiber.Map{"outcomes": totals})
	})

	// SWAGGER / OPENAPI
	app.Use(swagger.New(swagger.Config{
		BasePath: "/docs/api/",
		FilePath: "./public/docs/v1/openapi.yml",
		Path:     "v1",
	}))

	// ROUTER
	// limiter counters live in their own database (cache uses DB 0)
	limiterStorage := redis.New(redis.Config{
		Host:     env.GetEnv("CACHE_HOST", "localhost"),
		Port:     env.GetEnvInt("CACHE_PORT", 6379),
		Password: env.GetEnv("CACHE_PASSWORD", ""),
		Database: 2,
		Reset:    false,
	})
	guard := idempotency.NewGuard(redisClient, env.GetEnvSeconds("IDEMPOTENCY_TTL_SECONDS", 10*time.Minute)).
		WithImplicitTTL(env.GetEnvSeconds("IDEMPOTENCY_IMPLICIT_TTL_SECONDS", idempotency.DefaultImplicitTTL))
	controller := controllers.NewBillingController(facade, catalog, repos.Subscription)
	router.InstallRouter(app, router.NewApiRouter(controller, guard, limiterStorage))

	return app, manager
}

// newReconciler exports reports to S3 when S3_EXPORT_ENABLED is set and
// only logs them otherwise.
func newReconciler(payments repository.PaymentRepository) *reconcile.Reconciler {
	staleAfter := time.Duration(env.GetEnvInt("RECONCILE_STALE_MINUTES", 30)) * time.Minute

	cfg, err := s3export.LoadConfig()
	if err != nil {
		log.Errorf("[Reconcile] S3 export disabled: %v", err)
		return reconcile.NewReconciler(payments, nil, nil, staleAfter)
	}
	if !cfg.IsEnabled() {
		return reconcile.NewReconciler(payments, nil, nil, staleAfter)
	}
	client, err := s3export.NewClient(context.Background(), cfg)
	if err != nil {
		log.Errorf("[Reconcile] S3 export disabled: %v", err)
		return reconcile.NewReconciler(payments, nil, nil, staleAfter)
	}
	return reconcile.NewReconciler(payments, client, cfg.ReportKey, staleAfter)
}

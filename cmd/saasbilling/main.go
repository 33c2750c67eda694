package main

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/gofiber/fiber/v2"
	fiberlog "github.com/gofiber/fiber/v2/log"
	"github.com/gofiber/fiber/v2/middleware/basicauth"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/monitor"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/robfig/cron/v3"

	"github.com/altpay/saasbilling/app/controllers"
	"github.com/altpay/saasbilling/internal/pkg/billing"
	"github.com/altpay/saasbilling/internal/pkg/cache"
	"github.com/altpay/saasbilling/internal/pkg/config"
	"github.com/altpay/saasbilling/internal/pkg/database"
	"github.com/altpay/saasbilling/internal/pkg/env"
	"github.com/altpay/saasbilling/internal/pkg/gateway"
	"github.com/altpay/saasbilling/internal/pkg/mail"
	"github.com/altpay/saasbilling/internal/pkg/notify"
	"github.com/altpay/saasbilling/internal/pkg/router"
)

func main() {
	app := NewApplication()
	err := app.Listen(fmt.Sprintf("%s:%s", env.GetEnv("APP_HOST", "localhost"), env.GetEnv("APP_PORT", "4000")))
	log.Fatal(err)
}

func NewApplication() *fiber.App {
	env.SetupEnvFile()
	database.SetupDatabase()
	cache.SetupCache()

	cfg := config.Load()

	repo := billing.NewRepository(database.GetDB())
	notifier := notify.NewMailNotifier(mail.SendMail)
	gateways := buildRegistry(cfg)

	ledger := billing.NewLedger(repo)
	lifecycle := billing.NewLifecycle(repo, notifier, gateways, cfg.Policy)
	reconciler := billing.NewReconciler(repo, lifecycle, notifier, cfg.Policy)
	scanner := billing.NewScanner(repo, ledger, lifecycle, notifier, cfg.Policy)
	svc := billing.NewService(repo, ledger, lifecycle, gateways, notifier, cfg.Policy)

	controllers.Setup(repo, svc, reconciler, gateways, cfg)

	startScanner(scanner, cfg.ScannerCronSpec)

	// init fiber app
	app := fiber.New(fiber.Config{
		AppName: "saasbilling",
	})

	// recovery and logging
	app.Use(recover.New(), logger.New())

	// fiber metrics
	app.Get("/metrics", basicauth.New(basicauth.Config{
		Users: map[string]string{
			env.GetEnv("METRICS_USER", "admin"): env.GetEnv("METRICS_PASSWORD", "test"),
		},
	}), monitor.New())

	// ROUTER
	router.InstallRouter(app, repo)

	return app
}

// startScanner schedules the due-cycle scan. The cron spec comes from
// SCANNER_CRON; an invalid spec is fatal since silent non-renewal is worse
// than a failed start.
func startScanner(scanner *billing.Scanner, spec string) {
	c := cron.New()
	_, err := c.AddFunc(spec, func() {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Minute)
		defer cancel()
		if err := scanner.ProcessSubscriptions(ctx); err != nil {
			fiberlog.Errorf("subscription scan failed: %v", err)
		}
	})
	if err != nil {
		log.Fatalf("invalid scanner cron spec %q: %v", spec, err)
	}
	c.Start()
}

// buildRegistry constructs a client per configured gateway. Gateways without
// credentials are simply absent; subscribing against them fails with
// unknown_gateway instead of half-configured calls.
func buildRegistry(cfg *config.Config) *gateway.Registry {
	var clients []gateway.Client
	if cfg.Stripe.APIKey != "" {
		clients = append(clients, gateway.NewStripeClient(cfg.Stripe))
	}
	if cfg.Paypal.APIKey != "" {
		clients = append(clients, gateway.NewPayPalClient(cfg.Paypal))
	}
	return gateway.NewRegistry(clients...)
}

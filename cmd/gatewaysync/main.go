package main

import (
	"context"
	"log"
	"time"

	"github.com/altpay/saasbilling/internal/pkg/billing"
	"github.com/altpay/saasbilling/internal/pkg/config"
	"github.com/altpay/saasbilling/internal/pkg/database"
	"github.com/altpay/saasbilling/internal/pkg/env"
	"github.com/altpay/saasbilling/internal/pkg/gateway"
)

// gatewaysync publishes the local plan catalog to all configured payment
// gateways. Run it after editing plans or costs; it is idempotent.
func main() {
	env.SetupEnvFile()
	database.SetupDatabase()

	cfg := config.Load()

	var clients []gateway.Client
	if cfg.Stripe.APIKey != "" {
		clients = append(clients, gateway.NewStripeClient(cfg.Stripe))
	}
	if cfg.Paypal.APIKey != "" {
		clients = append(clients, gateway.NewPayPalClient(cfg.Paypal))
	}
	if len(clients) == 0 {
		log.Fatal("no gateway credentials configured, nothing to sync")
	}

	repo := billing.NewRepository(database.GetDB())
	publisher := billing.NewPublisher(repo, gateway.NewRegistry(clients...))

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()

	if err := publisher.PublishAll(ctx); err != nil {
		log.Fatalf("gateway sync failed: %v", err)
	}
	log.Println("gateway sync finished")
}

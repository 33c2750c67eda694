package router

import (
	"github.com/gofiber/fiber/v2"

	"github.com/altpay/saasbilling/internal/pkg/billing"
)

// Router is one installable route group.
type Router interface {
	InstallRouter(app *fiber.App)
}

// InstallRouter registers all route groups. Webhook routes are installed
// alongside the API routes; they carry their own authentication (gateway
// signatures, callback token) instead of the API key middleware.
func InstallRouter(app *fiber.App, repo billing.Repository) {
	setup(app, NewApiRouter(repo), NewWebhookRouter())
}

func setup(app *fiber.App, router ...Router) {
	for _, r := range router {
		r.InstallRouter(app)
	}
}

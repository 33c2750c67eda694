package router

import (
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/limiter"

	"github.com/altpay/saasbilling/app/controllers"
	"github.com/altpay/saasbilling/internal/pkg/billing"
	"github.com/altpay/saasbilling/internal/pkg/constants"
	"github.com/altpay/saasbilling/internal/pkg/middleware"
)

type ApiRouter struct {
	repo billing.Repository
}

func (h ApiRouter) InstallRouter(app *fiber.App) {
	api := app.Group(constants.APIRoute, limiter.New())
	api.Get("/", func(ctx *fiber.Ctx) error {
		return ctx.Status(fiber.StatusOK).JSON(fiber.Map{
			"message": "Hello from api",
		})
	})

	// API v1 routes
	v1 := api.Group(constants.APIv1Route)
	v1.Get("/ping", func(ctx *fiber.Ctx) error {
		return ctx.Status(fiber.StatusOK).JSON(fiber.Map{"ping": "pong"})
	})
	v1.Get("/plans", controllers.HandleListPlans)
	v1.Get("/stats", controllers.HandleStats)

	// User routes require an API key
	authed := v1.Group("", middleware.APIKeyAuthMiddleware(h.repo))
	authed.Post("/subscriptions", controllers.HandleSubscribe)
	authed.Get("/subscriptions/active", controllers.HandleActiveSubscriptions)
	authed.Delete("/subscriptions/:id", controllers.HandleUnsubscribe)
	authed.Get("/transactions", controllers.HandleListTransactions)
	authed.Get("/transactions/:id", controllers.HandleGetTransaction)
	authed.Get("/payments/:uuid", controllers.HandleGetPayment)
	authed.Get("/entitlements", controllers.HandleEntitlements)
}

func NewApiRouter(repo billing.Repository) *ApiRouter {
	return &ApiRouter{repo: repo}
}

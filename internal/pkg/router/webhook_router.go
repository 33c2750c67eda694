package router

import (
	"github.com/gofiber/fiber/v2"

	"github.com/altpay/saasbilling/app/controllers"
	"github.com/altpay/saasbilling/internal/pkg/constants"
)

type WebhookRouter struct {
}

func (h WebhookRouter) InstallRouter(app *fiber.App) {
	hooks := app.Group(constants.WebhooksRoute)
	hooks.Post(constants.StripeWebhookPath, controllers.HandleStripeWebhook)
	hooks.Post(constants.PaypalWebhookPath, controllers.HandlePaypalWebhook)
	hooks.Post(constants.PaymentCallbackPath, controllers.HandlePaymentStatusCallback)
}

func NewWebhookRouter() *WebhookRouter {
	return &WebhookRouter{}
}

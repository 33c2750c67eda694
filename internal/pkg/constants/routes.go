package constants

// Static route constants
const (
	APIRoute      = "/api"
	APIv1Route    = "/v1"
	WebhooksRoute = "/webhooks"

	StripeWebhookPath   = "/stripe"
	PaypalWebhookPath   = "/paypal"
	PaymentCallbackPath = "/payments/:uuid/status"
)

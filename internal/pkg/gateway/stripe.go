package gateway

import (
	"context"
	"fmt"

	"github.com/shopspring/decimal"
	stripe "github.com/stripe/stripe-go/v78"
	"github.com/stripe/stripe-go/v78/client"
	"github.com/stripe/stripe-go/v78/webhook"

	"github.com/altpay/saasbilling/internal/pkg/config"
)

// StripeClient publishes plans as Stripe products/prices and drives
// subscription checkout through Checkout Sessions.
type StripeClient struct {
	sc            *client.API
	webhookSecret string
	successURL    string
	cancelURL     string
}

// NewStripeClient builds a client from gateway credentials.
func NewStripeClient(auth config.GatewayAuth) *StripeClient {
	sc := &client.API{}
	sc.Init(auth.APIKey, nil)
	return &StripeClient{
		sc:            sc,
		webhookSecret: auth.WebhookSecret,
		successURL:    auth.SuccessURL,
		cancelURL:     auth.CancelURL,
	}
}

func (c *StripeClient) Name() string {
	return "stripe"
}

// CreateOrUpdateProduct publishes a plan as a Stripe product, updating it in
// place when a ref already exists.
func (c *StripeClient) CreateOrUpdateProduct(ctx context.Context, in PlanInput) (string, error) {
	if in.ProductRef != "" {
		params := &stripe.ProductParams{
			Name: stripe.String(in.Name),
		}
		if in.Description != "" {
			params.Description = stripe.String(in.Description)
		}
		prod, err := c.sc.Products.Update(in.ProductRef, params)
		if err != nil {
			return "", fmt.Errorf("%w: stripe product update: %v", ErrGateway, err)
		}
		return prod.ID, nil
	}

	params := &stripe.ProductParams{
		Name: stripe.String(in.Name),
	}
	if in.Description != "" {
		params.Description = stripe.String(in.Description)
	}
	prod, err := c.sc.Products.New(params)
	if err != nil {
		return "", fmt.Errorf("%w: stripe product create: %v", ErrGateway, err)
	}
	return prod.ID, nil
}

// CreateOrUpdatePlan publishes a plan cost as a Stripe price. Prices are
// immutable on Stripe, so a changed amount yields a fresh price id; the old
// price stays around for historic invoices and the local ref is replaced.
func (c *StripeClient) CreateOrUpdatePlan(ctx context.Context, in CostInput) (string, error) {
	desired := centsOf(in.Amount)
	if in.CostRef != "" {
		price, err := c.sc.Prices.Get(in.CostRef, nil)
		if err == nil && price.UnitAmount == desired {
			return price.ID, nil
		}
		// Amount changed or the ref went stale; fall through to create.
	}

	price, err := c.sc.Prices.New(&stripe.PriceParams{
		Product:    stripe.String(in.ProductRef),
		Currency:   stripe.String(in.Currency),
		UnitAmount: stripe.Int64(desired),
		Recurring: &stripe.PriceRecurringParams{
			Interval:      stripe.String(in.IntervalUnit),
			IntervalCount: stripe.Int64(int64(in.IntervalCount)),
		},
	})
	if err != nil {
		return "", fmt.Errorf("%w: stripe price create: %v", ErrGateway, err)
	}
	return price.ID, nil
}

func (c *StripeClient) ActivatePlan(ctx context.Context, costRef string) error {
	_, err := c.sc.Prices.Update(costRef, &stripe.PriceParams{Active: stripe.Bool(true)})
	if err != nil {
		return fmt.Errorf("%w: stripe price activate: %v", ErrGateway, err)
	}
	return nil
}

func (c *StripeClient) DeactivatePlan(ctx context.Context, costRef string) error {
	_, err := c.sc.Prices.Update(costRef, &stripe.PriceParams{Active: stripe.Bool(false)})
	if err != nil {
		return fmt.Errorf("%w: stripe price deactivate: %v", ErrGateway, err)
	}
	return nil
}

// EnsureCustomer creates a Stripe customer for the user when none is passed
// in; repeat charges reuse the mapped id.
func (c *StripeClient) EnsureCustomer(ctx context.Context, customerRef, email, name string) (string, error) {
	if customerRef != "" {
		return customerRef, nil
	}
	cust, err := c.sc.Customers.New(&stripe.CustomerParams{
		Email: stripe.String(email),
		Name:  stripe.String(name),
	})
	if err != nil {
		return "", fmt.Errorf("%w: stripe customer create: %v", ErrGateway, err)
	}
	return cust.ID, nil
}

// CreateSubscription opens a Checkout Session in subscription mode. The
// returned session id is handed to the frontend; the subscription ref
// arrives later via the checkout.session.completed webhook.
func (c *StripeClient) CreateSubscription(ctx context.Context, in SubscriptionInput) (*SubscriptionResult, error) {
	quantity := int64(in.Quantity)
	if quantity < 1 {
		quantity = 1
	}
	params := &stripe.CheckoutSessionParams{
		Mode: stripe.String(string(stripe.CheckoutSessionModeSubscription)),
		LineItems: []*stripe.CheckoutSessionLineItemParams{
			{
				Price:    stripe.String(in.CostRef),
				Quantity: stripe.Int64(quantity),
			},
		},
		SuccessURL: stripe.String(c.successURL),
		CancelURL:  stripe.String(c.cancelURL),
	}
	if in.LocalSubID != "" {
		params.ClientReferenceID = stripe.String(in.LocalSubID)
	}
	if in.CustomerRef != "" {
		params.Customer = stripe.String(in.CustomerRef)
	} else if in.Email != "" {
		params.CustomerEmail = stripe.String(in.Email)
	}

	sess, err := c.sc.CheckoutSessions.New(params)
	if err != nil {
		return nil, fmt.Errorf("%w: stripe checkout session: %v", ErrGateway, err)
	}
	return &SubscriptionResult{
		SessionID:   sess.ID,
		ApprovalURL: sess.URL,
	}, nil
}

func (c *StripeClient) CancelSubscription(ctx context.Context, subscriptionRef string) error {
	_, err := c.sc.Subscriptions.Cancel(subscriptionRef, nil)
	if err != nil {
		return fmt.Errorf("%w: stripe subscription cancel: %v", ErrGateway, err)
	}
	return nil
}

// VerifyWebhook checks the Stripe-Signature header against the endpoint
// secret.
func (c *StripeClient) VerifyWebhook(ctx context.Context, payload []byte, headers map[string]string) bool {
	sig := headers["Stripe-Signature"]
	if sig == "" || c.webhookSecret == "" {
		return false
	}
	_, err := webhook.ConstructEvent(payload, sig, c.webhookSecret)
	return err == nil
}

func centsOf(amount decimal.Decimal) int64 {
	return amount.Mul(decimal.NewFromInt(100)).Round(0).IntPart()
}

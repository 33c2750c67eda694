package gateway

import (
	"context"
	"errors"
	"time"

	"github.com/shopspring/decimal"
)

// ErrGateway marks connection-level failures talking to an external payment
// provider: network errors, timeouts and unexpected response statuses all
// wrap it. Callers treat these as "local state must not change".
var ErrGateway = errors.New("gateway error")

// ErrUnknownGateway is returned by the registry for unconfigured providers.
var ErrUnknownGateway = errors.New("unknown gateway")

// PlanInput describes a local plan being published as a gateway product.
type PlanInput struct {
	ProductRef  string // empty on first publish
	Name        string
	Description string
}

// CostInput describes a local plan cost being published as a gateway
// price/billing plan.
type CostInput struct {
	ProductRef    string
	CostRef       string // empty on first publish
	Name          string
	Description   string
	IntervalUnit  string // day|week|month|year
	IntervalCount int
	Amount        decimal.Decimal
	Currency      string
	TrialDays     int
}

// SubscriptionInput describes a subscribe intent for a gateway-billed
// subscription. LocalSubID is echoed back by the gateway in webhook events
// (Stripe client_reference_id, PayPal custom_id) so first-contact events can
// be linked to the local subscription.
type SubscriptionInput struct {
	CostRef     string
	CustomerRef string
	Email       string
	FirstName   string
	LastName    string
	Quantity    int
	LocalSubID  string
	StartTime   *time.Time
}

// SubscriptionResult carries whatever handle the gateway returns for the
// user to complete payment: PayPal returns an approval link, Stripe a
// checkout session.
type SubscriptionResult struct {
	SubscriptionRef string
	ApprovalURL     string
	SessionID       string
}

// Client is implemented once per provider. All calls are synchronous HTTP
// with network timeouts and are issued outside any open DB transaction.
type Client interface {
	Name() string
	CreateOrUpdateProduct(ctx context.Context, in PlanInput) (string, error)
	CreateOrUpdatePlan(ctx context.Context, in CostInput) (string, error)
	ActivatePlan(ctx context.Context, costRef string) error
	DeactivatePlan(ctx context.Context, costRef string) error
	CreateSubscription(ctx context.Context, in SubscriptionInput) (*SubscriptionResult, error)
	CancelSubscription(ctx context.Context, subscriptionRef string) error
	VerifyWebhook(ctx context.Context, payload []byte, headers map[string]string) bool
}

// CustomerEnsurer is implemented by clients that keep a per-user customer
// object on the gateway (Stripe). The returned ref replaces customerRef when
// the gateway had to create one.
type CustomerEnsurer interface {
	EnsureCustomer(ctx context.Context, customerRef, email, name string) (string, error)
}

// PricingUpdater is implemented by clients whose published billing plans are
// mutable in place (PayPal); pushing the current amount keeps an existing
// plan in sync after a local price change.
type PricingUpdater interface {
	UpdatePlanPricing(ctx context.Context, costRef string, in CostInput) error
}

// Registry is the compile-time mapping from gateway name to client. Clients
// are constructed once at startup from config and injected here; nothing is
// resolved reflectively at runtime.
type Registry struct {
	clients map[string]Client
}

// NewRegistry builds a registry from the given clients, keyed by Name().
func NewRegistry(clients ...Client) *Registry {
	r := &Registry{clients: make(map[string]Client, len(clients))}
	for _, c := range clients {
		if c == nil {
			continue
		}
		r.clients[c.Name()] = c
	}
	return r
}

// Get resolves a client by gateway name.
func (r *Registry) Get(name string) (Client, error) {
	c, ok := r.clients[name]
	if !ok {
		return nil, ErrUnknownGateway
	}
	return c, nil
}

// Names lists the configured gateways.
func (r *Registry) Names() []string {
	names := make([]string, 0, len(r.clients))
	for name := range r.clients {
		names = append(names, name)
	}
	return names
}

package billing

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/gofiber/fiber/v2/log"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"github.com/altpay/saasbilling/app/models"
	"github.com/altpay/saasbilling/internal/pkg/config"
	"github.com/altpay/saasbilling/internal/pkg/notify"
)

// Reconciliation errors surfaced to the HTTP layer.
var (
	ErrInvalidPaymentStatus = errors.New("invalid payment status")
	ErrPaymentNotFound      = errors.New("payment not found")
)

// SubscriptionAction is the normalized effect of a gateway webhook event on
// the local subscription, after the provider vocabulary has been mapped.
type SubscriptionAction string

const (
	ActionNone      SubscriptionAction = "none"
	ActionActivate  SubscriptionAction = "activate"
	ActionCancel    SubscriptionAction = "cancel"
	ActionTerminate SubscriptionAction = "terminate" // cancel + deactivate
	ActionExpire    SubscriptionAction = "expire"    // period ended externally
	ActionSuspend   SubscriptionAction = "suspend"   // payment failed, mark due
)

// GatewayEvent is a provider webhook delivery normalized by the transport
// layer. SubscriptionRef is the gateway's subscription id; LocalSubID is set
// when the provider echoes back our own id (Stripe client_reference_id,
// PayPal custom_id) and lets first-contact events link the two.
type GatewayEvent struct {
	Gateway         string
	ProviderEventID string
	Type            string
	SubscriptionRef string
	LocalSubID      uint
	OccurredAt      time.Time
	Payload         []byte
	SignatureValid  bool
}

// Reconciler converges local subscription state with what the payment side
// reports: crypto payment status changes and gateway webhook deliveries.
type Reconciler struct {
	repo      Repository
	lifecycle *Lifecycle
	notifier  notify.Notifier
	policy    config.Policy
}

// NewReconciler wires the reconciliation engine.
func NewReconciler(repo Repository, lifecycle *Lifecycle, notifier notify.Notifier, policy config.Policy) *Reconciler {
	return &Reconciler{repo: repo, lifecycle: lifecycle, notifier: notifier, policy: policy}
}

// ApplyPaymentStatus records a status change for a crypto payment and, once
// every payment on the transaction is paid, settles the transaction and
// activates its subscription.
func (r *Reconciler) ApplyPaymentStatus(ctx context.Context, paymentUUID, status string) error {
	if !models.IsValidPaymentStatus(status) {
		return fmt.Errorf("%w: %q", ErrInvalidPaymentStatus, status)
	}

	payment, err := r.repo.GetPaymentByUUID(paymentUUID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return ErrPaymentNotFound
		}
		return err
	}
	if payment.Status == status {
		return nil
	}

	payment.Status = status
	if err := r.repo.SavePayment(payment); err != nil {
		return err
	}

	switch status {
	case models.PaymentStatusProcessing:
		r.firePayment(r.notifier.PaymentProcessing, payment)
	case models.PaymentStatusCancelled:
		r.firePayment(r.notifier.PaymentError, payment)
	case models.PaymentStatusPaid:
		return r.settleIfCovered(ctx, payment)
	}
	return nil
}

// settleIfCovered zeroes the transaction and activates its subscription once
// every payment on the transaction is paid. The success notification waits
// for that point too: a partially paid transaction is not a success yet.
//
// The activation date is the transaction date when that still lies in the
// future (a renewal paid early keeps its scheduled window) and now otherwise
// (a late payment starts the period from today, not from the missed date).
func (r *Reconciler) settleIfCovered(ctx context.Context, payment *models.CryptoPayment) error {
	tx, err := r.repo.GetTransaction(payment.TransactionID)
	if err != nil {
		return err
	}

	payments, err := r.repo.ListPaymentsForTransaction(tx.ID)
	if err != nil {
		return err
	}
	if len(payments) == 0 {
		return nil
	}
	for _, p := range payments {
		if p.Status != models.PaymentStatusPaid {
			return nil
		}
	}

	r.firePayment(r.notifier.PaymentSuccess, payment)

	if tx.Pending() {
		tx.Amount = decimal.Zero
		if err := r.repo.SaveTransaction(tx); err != nil {
			return err
		}
	}

	sub, err := r.repo.GetSubscription(tx.SubscriptionID)
	if err != nil {
		return err
	}
	if sub.Active && !sub.Due {
		// Already reconciled; a duplicate paid notification changes nothing.
		return nil
	}

	at := time.Now()
	if tx.DateTransaction.After(at) {
		at = tx.DateTransaction
	}
	return r.lifecycle.Activate(ctx, sub, at, r.policy.NoMultipleSubscription)
}

// ProcessGatewayEvent deduplicates and applies a verified webhook delivery,
// mapping the provider event type onto a local transition.
func (r *Reconciler) ProcessGatewayEvent(ctx context.Context, event GatewayEvent) error {
	return r.process(ctx, event, eventAction(event.Gateway, event.Type))
}

// ProcessGatewayAction is ProcessGatewayEvent for event types whose effect
// depends on payload fields rather than the type alone (e.g. the status on
// Stripe's customer.subscription.updated); the transport layer decides the
// action and passes it in.
func (r *Reconciler) ProcessGatewayAction(ctx context.Context, event GatewayEvent, action SubscriptionAction) error {
	return r.process(ctx, event, action)
}

// process deduplicates the delivery, applies the action, and records the
// outcome on the stored event row. Re-delivered events are acknowledged
// without reprocessing.
func (r *Reconciler) process(ctx context.Context, event GatewayEvent, action SubscriptionAction) error {
	record := &models.GatewayWebhookEvent{
		Gateway:         event.Gateway,
		ProviderEventID: event.ProviderEventID,
		EventType:       event.Type,
		PayloadJSON:     string(event.Payload),
		SignatureValid:  event.SignatureValid,
	}
	created, record, err := r.repo.CreateWebhookEventIfNotExists(record)
	if err != nil {
		return err
	}
	if !created && record.ProcessedAt != nil {
		return nil
	}

	procErr := r.apply(ctx, event, action)
	msg := ""
	if procErr != nil {
		msg = procErr.Error()
	}
	if err := r.repo.MarkWebhookProcessed(record.ID, msg); err != nil {
		return err
	}
	return procErr
}

// apply performs the local transition. Events for subscription refs we do
// not know are logged and swallowed: a failure response would only make the
// provider redeliver forever.
func (r *Reconciler) apply(ctx context.Context, event GatewayEvent, action SubscriptionAction) error {
	if action == ActionNone {
		return nil
	}

	sub, err := r.resolveSubscription(event)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			log.Warnf("gateway %s event %s: no subscription for ref %q, skipping",
				event.Gateway, event.Type, event.SubscriptionRef)
			return nil
		}
		return err
	}

	switch action {
	case ActionActivate:
		if sub.Active && !sub.Due {
			return nil
		}
		// Same clamp as settleIfCovered: a replayed or delayed event must
		// not backdate the billing window.
		at := time.Now()
		if event.OccurredAt.After(at) {
			at = event.OccurredAt
		}
		return r.lifecycle.Activate(ctx, sub, at, r.policy.NoMultipleSubscription)

	case ActionCancel:
		return r.lifecycle.Cancel(ctx, sub)

	case ActionTerminate:
		if err := r.lifecycle.Cancel(ctx, sub); err != nil {
			return err
		}
		return r.lifecycle.Deactivate(ctx, sub, DeactivateOptions{
			SkipGatewayCancel: true,
			ActivateDefault:   true,
		})

	case ActionExpire:
		if err := r.lifecycle.Deactivate(ctx, sub, DeactivateOptions{
			SkipGatewayCancel: true,
			ActivateDefault:   true,
		}); err != nil {
			return err
		}
		r.lifecycle.fire(func(user *models.User) { r.notifier.Expired(user, sub) }, sub.UserID)
		return nil

	case ActionSuspend:
		if !sub.Active || sub.Due {
			return nil
		}
		return r.lifecycle.MarkDue(ctx, sub)
	}
	return nil
}

// resolveSubscription finds the local subscription an event refers to,
// creating the gateway link on first contact when the provider echoed our
// local id back.
func (r *Reconciler) resolveSubscription(event GatewayEvent) (*models.UserSubscription, error) {
	if event.SubscriptionRef != "" {
		gs, err := r.repo.GetGatewaySubscriptionByRef(event.Gateway, event.SubscriptionRef)
		if err == nil {
			if gs.Subscription != nil {
				return gs.Subscription, nil
			}
			return r.repo.GetSubscription(gs.SubscriptionID)
		}
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, err
		}
	}

	if event.LocalSubID == 0 {
		return nil, gorm.ErrRecordNotFound
	}
	sub, err := r.repo.GetSubscription(event.LocalSubID)
	if err != nil {
		return nil, err
	}

	if event.SubscriptionRef != "" {
		gs := &models.GatewaySubscription{
			Gateway:         event.Gateway,
			SubscriptionID:  sub.ID,
			SubscriptionRef: event.SubscriptionRef,
		}
		if err := r.repo.SaveGatewaySubscription(gs); err != nil {
			return nil, err
		}
	}
	return sub, nil
}

// eventAction maps provider event vocabulary onto local transitions.
func eventAction(gateway, eventType string) SubscriptionAction {
	switch gateway {
	case models.GatewayPaypal:
		switch eventType {
		case "BILLING.SUBSCRIPTION.ACTIVATED", "BILLING.SUBSCRIPTION.RE-ACTIVATED":
			return ActionActivate
		case "BILLING.SUBSCRIPTION.CANCELLED":
			return ActionTerminate
		case "BILLING.SUBSCRIPTION.EXPIRED":
			return ActionExpire
		case "BILLING.SUBSCRIPTION.SUSPENDED", "BILLING.SUBSCRIPTION.PAYMENT.FAILED":
			return ActionSuspend
		case "PAYMENT.SALE.COMPLETED":
			return ActionActivate
		}
	case models.GatewayStripe:
		switch eventType {
		case "checkout.session.completed":
			return ActionActivate
		case "customer.subscription.deleted":
			return ActionTerminate
		case "invoice.paid":
			return ActionActivate
		case "invoice.payment_failed":
			return ActionSuspend
		}
	}
	return ActionNone
}

// StripeSubscriptionStatusAction maps the status carried by a Stripe
// customer.subscription.updated event onto a local transition.
func StripeSubscriptionStatusAction(status string) SubscriptionAction {
	switch status {
	case "active", "trialing":
		return ActionActivate
	case "past_due":
		return ActionSuspend
	case "canceled", "unpaid", "incomplete_expired":
		return ActionTerminate
	default:
		return ActionNone
	}
}

func (r *Reconciler) firePayment(hook func(*models.User, *models.CryptoPayment), payment *models.CryptoPayment) {
	user, err := r.repo.GetUser(payment.UserID)
	if err != nil {
		log.Errorf("notification skipped, user %d lookup failed: %v", payment.UserID, err)
		return
	}
	hook(user, payment)
}

package billing

import (
	"context"
	"errors"
	"time"

	"github.com/gofiber/fiber/v2/log"
	"gorm.io/gorm"

	"github.com/altpay/saasbilling/app/models"
	"github.com/altpay/saasbilling/internal/pkg/config"
	"github.com/altpay/saasbilling/internal/pkg/gateway"
	"github.com/altpay/saasbilling/internal/pkg/notify"
)

// Lifecycle owns the subscription state transitions. Every transition
// commits its field updates atomically per subscription row and fires the
// matching notification hook; notification failures are logged, never
// raised.
type Lifecycle struct {
	repo     Repository
	notifier notify.Notifier
	gateways *gateway.Registry
	policy   config.Policy
}

// DeactivateOptions controls side effects of a deactivation.
type DeactivateOptions struct {
	// ActivateDefault flips the user onto the configured fallback plan
	// after deactivation.
	ActivateDefault bool
	// SkipGatewayCancel is set when the gateway itself reported the
	// cancellation; calling back into the gateway would be redundant.
	SkipGatewayCancel bool
}

// NewLifecycle wires the state machine with its collaborators.
func NewLifecycle(repo Repository, notifier notify.Notifier, gateways *gateway.Registry, policy config.Policy) *Lifecycle {
	return &Lifecycle{repo: repo, notifier: notifier, gateways: gateways, policy: policy}
}

// Activate marks the subscription active and recomputes its billing window
// from the given date. Re-activating with the same date is a no-op in
// effect: the window is recomputed, never extended.
//
// With noMultiple set, every other active subscription of the user is
// deactivated first. The active set is re-queried inside the transaction so
// a racing activation cannot leave two subscriptions active.
func (l *Lifecycle) Activate(ctx context.Context, sub *models.UserSubscription, at time.Time, noMultiple bool) error {
	cost := sub.PlanCost
	if cost == nil {
		var err error
		cost, err = l.repo.GetPlanCost(sub.PlanCostID)
		if err != nil {
			return err
		}
		sub.PlanCost = cost
	}

	err := l.repo.Transaction(func(repo Repository) error {
		if noMultiple {
			others, err := repo.ListActiveSubscriptions(sub.UserID)
			if err != nil {
				return err
			}
			for i := range others {
				other := &others[i]
				if other.ID == sub.ID {
					continue
				}
				other.Active = false
				other.Due = false
				if err := repo.SaveSubscription(other); err != nil {
					return err
				}
			}
		}

		next := cost.NextBillingDatetime(at)
		end := next
		start := at
		sub.Active = true
		sub.Cancelled = false
		sub.Due = false
		sub.DateBillingStart = &start
		sub.DateBillingNext = &next
		sub.DateBillingEnd = &end
		return repo.SaveSubscription(sub)
	})
	if err != nil {
		return err
	}

	l.fire(func(user *models.User) { l.notifier.Activate(user, sub) }, sub.UserID)
	return nil
}

// Deactivate marks the subscription inactive. For gateway-managed
// subscriptions the external subscription is cancelled first; a gateway
// failure propagates and leaves local state untouched, so an inactive local
// row always corresponds to an actually-cancelled external subscription.
func (l *Lifecycle) Deactivate(ctx context.Context, sub *models.UserSubscription, opts DeactivateOptions) error {
	if sub.IsGatewayManaged() && !opts.SkipGatewayCancel {
		if err := l.cancelExternal(ctx, sub); err != nil {
			return err
		}
	}

	err := l.repo.Transaction(func(repo Repository) error {
		sub.Active = false
		sub.Due = false
		return repo.SaveSubscription(sub)
	})
	if err != nil {
		return err
	}

	l.fire(func(user *models.User) { l.notifier.Deactivate(user, sub) }, sub.UserID)

	if opts.ActivateDefault && l.policy.DefaultFallbackPlanCostID != 0 {
		if err := l.activateFallback(ctx, sub.UserID); err != nil {
			log.Errorf("fallback activation for user %d failed: %v", sub.UserID, err)
		}
	}
	return nil
}

// MarkDue flags a renewal that could not be settled automatically without
// deactivating the subscription. The due flag keeps the scanner from
// re-charging until the pending payment resolves.
func (l *Lifecycle) MarkDue(ctx context.Context, sub *models.UserSubscription) error {
	err := l.repo.Transaction(func(repo Repository) error {
		sub.Due = true
		return repo.SaveSubscription(sub)
	})
	if err != nil {
		return err
	}

	l.fire(func(user *models.User) { l.notifier.Overdue(user, sub) }, sub.UserID)
	return nil
}

// Cancel suppresses future auto-renewal scanning without necessarily
// deactivating: a gateway-driven cancellation stays active until the
// external period actually ends.
func (l *Lifecycle) Cancel(ctx context.Context, sub *models.UserSubscription) error {
	return l.repo.Transaction(func(repo Repository) error {
		sub.Cancelled = true
		return repo.SaveSubscription(sub)
	})
}

func (l *Lifecycle) cancelExternal(ctx context.Context, sub *models.UserSubscription) error {
	gs, err := l.repo.GetGatewaySubscriptionForLocal(sub.Reference, sub.ID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			// Never published to the gateway; nothing to cancel.
			return nil
		}
		return err
	}
	if gs.SubscriptionRef == "" {
		return nil
	}

	client, err := l.gateways.Get(sub.Reference)
	if err != nil {
		return err
	}
	return client.CancelSubscription(ctx, gs.SubscriptionRef)
}

// fire runs a notification hook best-effort.
func (l *Lifecycle) fire(hook func(*models.User), userID uint) {
	user, err := l.repo.GetUser(userID)
	if err != nil {
		log.Errorf("notification skipped, user %d lookup failed: %v", userID, err)
		return
	}
	hook(user)
}

func (l *Lifecycle) activateFallback(ctx context.Context, userID uint) error {
	costID := l.policy.DefaultFallbackPlanCostID
	fallback, err := l.repo.FindSubscriptionByUserAndCost(userID, costID)
	if err != nil {
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			return err
		}
		fallback = &models.UserSubscription{
			UserID:     userID,
			PlanCostID: costID,
			Reference:  models.ReferenceNone,
			Quantity:   1,
		}
		if err := l.repo.SaveSubscription(fallback); err != nil {
			return err
		}
	}
	if fallback.Active {
		return nil
	}
	return l.Activate(ctx, fallback, time.Now(), false)
}

package billing

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/altpay/saasbilling/app/models"
	"github.com/altpay/saasbilling/internal/pkg/config"
	"github.com/altpay/saasbilling/internal/pkg/gateway"
	"github.com/altpay/saasbilling/internal/pkg/notify"
)

// Subscribe errors surfaced to the HTTP layer.
var (
	ErrPlanCostNotFound     = errors.New("plan cost not found")
	ErrQuantityTooLow       = errors.New("quantity below plan minimum")
	ErrPendingPayment       = errors.New("a pending payment already exists")
	ErrAlreadySubscribed    = errors.New("subscription already active")
	ErrPlanNotPublished     = errors.New("plan cost not published to gateway")
	ErrNotSubscriptionOwner = errors.New("subscription does not belong to user")
)

// SubscribeResult is the outcome of a subscribe request. Exactly one of the
// payment paths is populated: Payment for crypto checkout, ApprovalURL /
// SessionID for gateway checkout, none when credit covered the charge and
// the subscription activated immediately.
type SubscribeResult struct {
	Subscription *models.UserSubscription      `json:"subscription"`
	Transaction  *models.SubscriptionTransaction `json:"transaction,omitempty"`
	Payment      *models.CryptoPayment         `json:"payment,omitempty"`
	ApprovalURL  string                        `json:"approval_url,omitempty"`
	SessionID    string                        `json:"session_id,omitempty"`
}

// Service is the subscribe/unsubscribe entry point used by the HTTP layer.
// It ties the ledger, the lifecycle and the gateway clients together.
type Service struct {
	repo      Repository
	ledger    *Ledger
	lifecycle *Lifecycle
	gateways  *gateway.Registry
	notifier  notify.Notifier
	policy    config.Policy

	// now is swapped in tests.
	now func() time.Time
}

// NewService wires the subscription service.
func NewService(repo Repository, ledger *Ledger, lifecycle *Lifecycle, gateways *gateway.Registry, notifier notify.Notifier, policy config.Policy) *Service {
	return &Service{
		repo:      repo,
		ledger:    ledger,
		lifecycle: lifecycle,
		gateways:  gateways,
		notifier:  notifier,
		policy:    policy,
		now:       time.Now,
	}
}

// Subscribe starts a subscription to the given plan cost. gatewayName selects
// the payment path: "stripe" or "paypal" hand off to the external gateway
// and return a checkout handle; anything else goes through the crypto ledger
// path, with currency naming the coin (empty means last-used or default).
func (s *Service) Subscribe(ctx context.Context, userID, planCostID uint, gatewayName, currency string, quantity int) (*SubscribeResult, error) {
	user, err := s.repo.GetUser(userID)
	if err != nil {
		return nil, err
	}
	cost, err := s.repo.GetPlanCost(planCostID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrPlanCostNotFound
		}
		return nil, err
	}

	minQuantity := 1
	if cost.Plan != nil && cost.Plan.MinQuantity > 1 {
		minQuantity = cost.Plan.MinQuantity
	}
	if quantity < 1 {
		quantity = minQuantity
	}
	if quantity < minQuantity {
		return nil, fmt.Errorf("%w: got %d, minimum %d", ErrQuantityTooLow, quantity, minQuantity)
	}

	pending, err := s.repo.HasPendingCryptoTransaction(userID)
	if err != nil {
		return nil, err
	}
	if pending {
		return nil, ErrPendingPayment
	}

	switch gatewayName {
	case models.GatewayStripe, models.GatewayPaypal:
		return s.subscribeGateway(ctx, user, cost, gatewayName, quantity)
	default:
		return s.subscribeCrypto(ctx, user, cost, currency, quantity)
	}
}

// subscribeGateway creates an inactive subscription and hands checkout to
// the external gateway. Activation happens when the gateway's webhook
// confirms the subscription.
func (s *Service) subscribeGateway(ctx context.Context, user *models.User, cost *models.PlanCost, gatewayName string, quantity int) (*SubscribeResult, error) {
	client, err := s.gateways.Get(gatewayName)
	if err != nil {
		return nil, err
	}

	gc, err := s.repo.GetGatewayCost(gatewayName, cost.ID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrPlanNotPublished
		}
		return nil, err
	}
	if gc.CostRef == "" {
		return nil, ErrPlanNotPublished
	}

	sub, err := s.resolveSubscription(user.ID, cost, gatewayName, quantity)
	if err != nil {
		return nil, err
	}

	customerRef := ""
	if cust, err := s.repo.GetGatewayCustomer(gatewayName, user.ID); err == nil {
		customerRef = cust.CustomerID
	} else if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, err
	}
	if ensurer, ok := client.(gateway.CustomerEnsurer); ok {
		ref, err := ensurer.EnsureCustomer(ctx, customerRef, user.Email,
			strings.TrimSpace(user.FirstName+" "+user.LastName))
		if err != nil {
			return nil, err
		}
		if ref != "" && ref != customerRef {
			if err := s.repo.SaveGatewayCustomer(&models.GatewayCustomer{
				Gateway:    gatewayName,
				UserID:     user.ID,
				CustomerID: ref,
			}); err != nil {
				return nil, err
			}
			customerRef = ref
		}
	}

	res, err := client.CreateSubscription(ctx, gateway.SubscriptionInput{
		CostRef:     gc.CostRef,
		CustomerRef: customerRef,
		Email:       user.Email,
		FirstName:   user.FirstName,
		LastName:    user.LastName,
		Quantity:    quantity,
		LocalSubID:  strconv.FormatUint(uint64(sub.ID), 10),
	})
	if err != nil {
		return nil, err
	}

	if res.SubscriptionRef != "" {
		link := &models.GatewaySubscription{
			Gateway:         gatewayName,
			SubscriptionID:  sub.ID,
			SubscriptionRef: res.SubscriptionRef,
		}
		if existing, err := s.repo.GetGatewaySubscriptionForLocal(gatewayName, sub.ID); err == nil {
			existing.SubscriptionRef = res.SubscriptionRef
			link = existing
		} else if !errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, err
		}
		if err := s.repo.SaveGatewaySubscription(link); err != nil {
			return nil, err
		}
	}

	s.notifier.New(user, sub)
	return &SubscribeResult{
		Subscription: sub,
		ApprovalURL:  res.ApprovalURL,
		SessionID:    res.SessionID,
	}, nil
}

// subscribeCrypto settles the first charge against the ledger. Credit may
// cover it entirely and activate immediately; otherwise a payment request is
// opened and the subscription waits for reconciliation.
func (s *Service) subscribeCrypto(ctx context.Context, user *models.User, cost *models.PlanCost, currency string, quantity int) (*SubscribeResult, error) {
	now := s.now()

	chosen, err := resolveCryptoCurrency(s.repo, s.policy, user.ID, strings.ToUpper(currency))
	if err != nil {
		return nil, err
	}

	sub, err := s.resolveSubscription(user.ID, cost, chosen, quantity)
	if err != nil {
		return nil, err
	}

	if s.policy.NoMultipleSubscription {
		if err := s.retireActives(ctx, user.ID, sub.ID, now); err != nil {
			return nil, err
		}
	}

	charge := chargeFor(s.policy, cost, quantity)
	tx, err := s.ledger.Settle(user.ID, sub.ID, charge, now)
	if err != nil {
		return nil, err
	}

	result := &SubscribeResult{Subscription: sub, Transaction: tx}
	if !tx.Pending() {
		if err := s.lifecycle.Activate(ctx, sub, now, s.policy.NoMultipleSubscription); err != nil {
			return nil, err
		}
		return result, nil
	}

	payment, err := createPaymentRequest(s.repo, s.policy, sub, tx)
	if err != nil {
		return nil, err
	}
	result.Payment = payment
	s.notifier.New(user, sub)
	return result, nil
}

// resolveSubscription reuses the user's previous subscription row for the
// same plan cost when policy allows, otherwise creates a fresh inactive row.
// An already-active, non-due subscription for the cost rejects the request.
func (s *Service) resolveSubscription(userID uint, cost *models.PlanCost, reference string, quantity int) (*models.UserSubscription, error) {
	if s.policy.ReusePreviousSubscription {
		existing, err := s.repo.FindSubscriptionByUserAndCost(userID, cost.ID)
		if err == nil {
			if existing.Active && !existing.Due {
				return nil, ErrAlreadySubscribed
			}
			existing.Reference = reference
			existing.Quantity = quantity
			existing.Cancelled = false
			existing.PlanCost = cost
			if err := s.repo.SaveSubscription(existing); err != nil {
				return nil, err
			}
			return existing, nil
		}
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, err
		}
	}

	sub := &models.UserSubscription{
		UserID:     userID,
		PlanCostID: cost.ID,
		Reference:  reference,
		Quantity:   quantity,
		PlanCost:   cost,
	}
	if err := s.repo.SaveSubscription(sub); err != nil {
		return nil, err
	}
	return sub, nil
}

// retireActives deactivates the user's other active subscriptions and
// credits the unused remainder of their periods back to the ledger.
func (s *Service) retireActives(ctx context.Context, userID, keepID uint, now time.Time) error {
	actives, err := s.repo.ListActiveSubscriptions(userID)
	if err != nil {
		return err
	}
	for i := range actives {
		active := &actives[i]
		if active.ID == keepID {
			continue
		}
		if balance := active.UnusedDailyBalance(now); balance.IsPositive() {
			credit := &models.SubscriptionTransaction{
				UUID:            uuid.NewString(),
				UserID:          userID,
				SubscriptionID:  active.ID,
				Amount:          balance.Neg(),
				DateTransaction: now,
			}
			if err := s.repo.SaveTransaction(credit); err != nil {
				return err
			}
		}
		if err := s.lifecycle.Deactivate(ctx, active, DeactivateOptions{}); err != nil {
			return err
		}
	}
	return nil
}

// Unsubscribe ends a subscription immediately. The unused remainder of the
// period is credited back for ledger-billed subscriptions; gateway-billed
// ones are cancelled at the gateway, which owns any proration.
func (s *Service) Unsubscribe(ctx context.Context, userID, subscriptionID uint) error {
	sub, err := s.repo.GetSubscription(subscriptionID)
	if err != nil {
		return err
	}
	if sub.UserID != userID {
		return ErrNotSubscriptionOwner
	}

	if err := s.lifecycle.Cancel(ctx, sub); err != nil {
		return err
	}
	if !sub.Active {
		return nil
	}

	if !sub.IsGatewayManaged() {
		if balance := sub.UnusedDailyBalance(s.now()); balance.IsPositive() {
			credit := &models.SubscriptionTransaction{
				UUID:            uuid.NewString(),
				UserID:          userID,
				SubscriptionID:  sub.ID,
				Amount:          balance.Neg(),
				DateTransaction: s.now(),
			}
			if err := s.repo.SaveTransaction(credit); err != nil {
				return err
			}
		}
	}

	return s.lifecycle.Deactivate(ctx, sub, DeactivateOptions{ActivateDefault: true})
}

// ActiveSubscriptions lists the user's active subscriptions.
func (s *Service) ActiveSubscriptions(userID uint) ([]models.UserSubscription, error) {
	return s.repo.ListActiveSubscriptions(userID)
}

// Transactions lists the user's ledger history, newest first.
func (s *Service) Transactions(userID uint) ([]models.SubscriptionTransaction, error) {
	return s.repo.ListUserTransactions(userID)
}

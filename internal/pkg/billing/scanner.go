package billing

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/gofiber/fiber/v2/log"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"github.com/altpay/saasbilling/app/models"
	"github.com/altpay/saasbilling/internal/pkg/config"
	"github.com/altpay/saasbilling/internal/pkg/notify"
)

// Scanner drives the periodic renewal batch: it expires subscriptions whose
// paid period lapsed without a settled renewal and raises renewal charges for
// subscriptions entering the due window. Cancelled subscriptions leave both
// scans; their deactivation happens on the unsubscribe or webhook path.
// Gateway-managed subscriptions are excluded too; their lifecycle arrives via
// webhooks.
type Scanner struct {
	repo      Repository
	ledger    *Ledger
	lifecycle *Lifecycle
	notifier  notify.Notifier
	policy    config.Policy

	// now is swapped in tests.
	now func() time.Time
}

// NewScanner wires the due-cycle scanner.
func NewScanner(repo Repository, ledger *Ledger, lifecycle *Lifecycle, notifier notify.Notifier, policy config.Policy) *Scanner {
	return &Scanner{
		repo:      repo,
		ledger:    ledger,
		lifecycle: lifecycle,
		notifier:  notifier,
		policy:    policy,
		now:       time.Now,
	}
}

// ProcessSubscriptions runs one scan pass. A failure on one subscription is
// logged and does not stall the rest of the batch; the next pass retries
// whatever is still in scope.
func (s *Scanner) ProcessSubscriptions(ctx context.Context) error {
	now := s.now()

	expired, err := s.repo.ListExpiredSubscriptions(now, models.ExternallyManagedGateways)
	if err != nil {
		return fmt.Errorf("expired scan: %w", err)
	}
	for i := range expired {
		sub := &expired[i]
		if err := s.expire(ctx, sub); err != nil {
			log.Errorf("expiring subscription %d failed: %v", sub.ID, err)
		}
	}

	cutoff := now.Add(time.Duration(s.policy.DueScanWindowDays) * 24 * time.Hour)
	due, err := s.repo.ListDueSubscriptions(cutoff, models.ExternallyManagedGateways)
	if err != nil {
		return fmt.Errorf("due scan: %w", err)
	}
	for i := range due {
		sub := &due[i]
		if err := s.renew(ctx, sub); err != nil {
			log.Errorf("renewing subscription %d failed: %v", sub.ID, err)
		}
	}
	return nil
}

// expire deactivates a subscription whose paid period ended without a
// settled renewal, dropping the user onto the fallback plan when one is
// configured.
func (s *Scanner) expire(ctx context.Context, sub *models.UserSubscription) error {
	err := s.lifecycle.Deactivate(ctx, sub, DeactivateOptions{ActivateDefault: true})
	if err != nil {
		return err
	}
	s.lifecycle.fire(func(user *models.User) { s.notifier.Expired(user, sub) }, sub.UserID)
	return nil
}

// renew raises the renewal charge. Credit may cover it entirely, in which
// case the new billing period starts on schedule; otherwise the subscription
// is marked due and a payment request is generated.
func (s *Scanner) renew(ctx context.Context, sub *models.UserSubscription) error {
	cost := sub.PlanCost
	if cost == nil {
		var err error
		cost, err = s.repo.GetPlanCost(sub.PlanCostID)
		if err != nil {
			return err
		}
		sub.PlanCost = cost
	}
	if sub.DateBillingNext == nil {
		return fmt.Errorf("subscription %d has no next billing date", sub.ID)
	}
	dueDate := *sub.DateBillingNext

	// Renewals picked up ahead of their date get an upcoming-renewal notice;
	// the due flag keeps this to one notice per cycle.
	if dueDate.After(s.now()) {
		s.lifecycle.fire(func(user *models.User) { s.notifier.Due(user, sub) }, sub.UserID)
	}

	charge := chargeFor(s.policy, cost, sub.Quantity)
	tx, err := s.ledger.Settle(sub.UserID, sub.ID, charge, dueDate)
	if err != nil {
		return err
	}

	if !tx.Pending() {
		at := s.now()
		if dueDate.After(at) {
			at = dueDate
		}
		return s.lifecycle.Activate(ctx, sub, at, false)
	}

	if err := s.lifecycle.MarkDue(ctx, sub); err != nil {
		return err
	}
	_, err = createPaymentRequest(s.repo, s.policy, sub, tx)
	return err
}

// chargeFor is the charge for one billing period: the plan cost, multiplied
// by the seat count when quantity pricing is enabled.
func chargeFor(policy config.Policy, cost *models.PlanCost, quantity int) decimal.Decimal {
	charge := cost.Cost
	if policy.ExtraCostMultiply && quantity > 1 {
		charge = charge.Mul(decimal.NewFromInt(int64(quantity)))
	}
	return charge
}

// resolveCryptoCurrency picks the currency for a new payment request: the
// requested one when given, else the user's last payment currency, else the
// configured default.
func resolveCryptoCurrency(repo Repository, policy config.Policy, userID uint, requested string) (string, error) {
	if requested != "" && requested != models.ReferenceNone {
		return requested, nil
	}
	currency, err := repo.LastCryptoCurrency(userID)
	if err != nil && !errors.Is(err, gorm.ErrRecordNotFound) {
		return "", err
	}
	if currency == "" {
		currency = policy.DefaultCryptoCurrency
	}
	if currency == "" {
		currency = models.DefaultCrypto
	}
	return currency, nil
}

// createPaymentRequest opens a crypto payment for the pending amount of a
// transaction. The currency follows the subscription's reference, the user's
// last payment, or the configured default, in that order.
func createPaymentRequest(repo Repository, policy config.Policy, sub *models.UserSubscription, tx *models.SubscriptionTransaction) (*models.CryptoPayment, error) {
	currency, err := resolveCryptoCurrency(repo, policy, sub.UserID, sub.Reference)
	if err != nil {
		return nil, err
	}

	title := "Subscription payment"
	if cost := sub.PlanCost; cost != nil && cost.Plan != nil {
		title = cost.Plan.PlanName
	}

	payment := &models.CryptoPayment{
		UUID:          uuid.NewString(),
		TransactionID: tx.ID,
		UserID:        sub.UserID,
		Currency:      currency,
		FiatAmount:    tx.Amount,
		Status:        models.PaymentStatusNew,
		Title:         title,
		Description:   fmt.Sprintf("Subscription payment due %s", tx.DateTransaction.Format("2006-01-02")),
	}
	if cost := sub.PlanCost; cost != nil {
		payment.FiatCurrency = cost.Currency
	}
	if err := repo.SavePayment(payment); err != nil {
		return nil, err
	}
	return payment, nil
}

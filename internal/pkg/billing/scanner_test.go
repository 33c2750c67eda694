package billing

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/altpay/saasbilling/app/models"
	"github.com/altpay/saasbilling/internal/pkg/config"
	"github.com/altpay/saasbilling/internal/pkg/gateway"
)

type scannerFixture struct {
	repo     *fakeRepository
	notifier *fakeNotifier
	scanner  *Scanner
	user     *models.User
	cost     *models.PlanCost
	now      time.Time
}

func newScannerFixture(t *testing.T, policy config.Policy) *scannerFixture {
	t.Helper()
	if policy.DueScanWindowDays == 0 {
		policy.DueScanWindowDays = 7
	}
	repo := newFakeRepository()
	notifier := &fakeNotifier{}
	lc := NewLifecycle(repo, notifier, gateway.NewRegistry(), policy)
	scanner := NewScanner(repo, NewLedger(repo), lc, notifier, policy)

	now := time.Date(2024, 6, 1, 8, 0, 0, 0, time.UTC)
	scanner.now = func() time.Time { return now }

	return &scannerFixture{
		repo:     repo,
		notifier: notifier,
		scanner:  scanner,
		user:     repo.addUser(&models.User{Email: "a@example.com"}),
		cost:     monthlyCost(repo, "10"),
		now:      now,
	}
}

func (fx *scannerFixture) addSub(t *testing.T, mutate func(*models.UserSubscription)) *models.UserSubscription {
	t.Helper()
	next := fx.now.Add(24 * time.Hour)
	sub := &models.UserSubscription{
		UserID:          fx.user.ID,
		PlanCostID:      fx.cost.ID,
		Active:          true,
		Reference:       "BITCOIN",
		Quantity:        1,
		DateBillingNext: &next,
		DateBillingEnd:  &next,
		PlanCost:        fx.cost,
	}
	if mutate != nil {
		mutate(sub)
	}
	require.NoError(t, fx.repo.SaveSubscription(sub))
	return sub
}

func TestScannerExpiresLapsedSubscriptions(t *testing.T) {
	fx := newScannerFixture(t, config.Policy{})
	past := fx.now.Add(-time.Hour)
	sub := fx.addSub(t, func(s *models.UserSubscription) {
		s.DateBillingEnd = &past
		s.DateBillingNext = &past
	})

	require.NoError(t, fx.scanner.ProcessSubscriptions(context.Background()))

	lapsed := fx.repo.subs[sub.ID]
	assert.False(t, lapsed.Active)
	assert.Len(t, fx.notifier.expired, 1)
	assert.Len(t, fx.notifier.deactivated, 1)
	// The expiry removes it from the due scan: no renewal is opened for a
	// subscription whose period already ended.
	assert.False(t, lapsed.Due)
	assert.Empty(t, fx.repo.payments)
}

func TestScannerLeavesCancelledSubscriptionsAlone(t *testing.T) {
	fx := newScannerFixture(t, config.Policy{})
	past := fx.now.Add(-time.Hour)
	sub := fx.addSub(t, func(s *models.UserSubscription) {
		s.Cancelled = true
		s.DateBillingEnd = &past
		s.DateBillingNext = &past
	})

	require.NoError(t, fx.scanner.ProcessSubscriptions(context.Background()))

	// Cancellation is handled on the unsubscribe and webhook paths; the
	// batch neither expires nor renews a cancelled subscription.
	assert.True(t, fx.repo.subs[sub.ID].Active)
	assert.False(t, fx.repo.subs[sub.ID].Due)
	assert.Empty(t, fx.notifier.expired)
	assert.Empty(t, fx.repo.payments)
}

func TestScannerSkipsGatewayManagedSubscriptions(t *testing.T) {
	fx := newScannerFixture(t, config.Policy{})
	past := fx.now.Add(-time.Hour)
	expired := fx.addSub(t, func(s *models.UserSubscription) {
		s.Reference = models.GatewayStripe
		s.DateBillingEnd = &past
	})
	due := fx.addSub(t, func(s *models.UserSubscription) {
		s.Reference = models.GatewayPaypal
		s.DateBillingNext = &past
	})

	require.NoError(t, fx.scanner.ProcessSubscriptions(context.Background()))

	assert.True(t, fx.repo.subs[expired.ID].Active, "gateway lifecycle arrives via webhooks")
	assert.False(t, fx.repo.subs[due.ID].Due)
	assert.Empty(t, fx.repo.payments)
}

func TestScannerRenewalWithoutCreditMarksDue(t *testing.T) {
	fx := newScannerFixture(t, config.Policy{})
	sub := fx.addSub(t, nil)

	require.NoError(t, fx.scanner.ProcessSubscriptions(context.Background()))

	assert.True(t, fx.repo.subs[sub.ID].Due)
	assert.Equal(t, []uint{sub.ID}, fx.notifier.due, "upcoming renewal is announced")
	assert.Len(t, fx.notifier.overdue, 1)

	require.Len(t, fx.repo.payments, 1)
	for _, p := range fx.repo.payments {
		assert.Equal(t, "BITCOIN", p.Currency)
		assert.Equal(t, "10", p.FiatAmount.String())
		assert.Equal(t, models.PaymentStatusNew, p.Status)
		assert.Equal(t, "USD", p.FiatCurrency)
	}
}

func TestScannerRenewalIsIdempotent(t *testing.T) {
	fx := newScannerFixture(t, config.Policy{})
	fx.addSub(t, nil)

	require.NoError(t, fx.scanner.ProcessSubscriptions(context.Background()))
	require.NoError(t, fx.scanner.ProcessSubscriptions(context.Background()))

	assert.Len(t, fx.repo.payments, 1, "due subscriptions are not re-charged")
	assert.Len(t, fx.notifier.overdue, 1)
	assert.Len(t, fx.notifier.due, 1, "one renewal notice per cycle")
}

func TestScannerRenewalCoveredByCredit(t *testing.T) {
	fx := newScannerFixture(t, config.Policy{})
	sub := fx.addSub(t, nil)
	addCredit(t, fx.repo, fx.user.ID, sub.ID, "-10")
	dueDate := *sub.DateBillingNext

	require.NoError(t, fx.scanner.ProcessSubscriptions(context.Background()))

	renewed := fx.repo.subs[sub.ID]
	assert.True(t, renewed.Active)
	assert.False(t, renewed.Due)
	assert.Equal(t, dueDate, *renewed.DateBillingStart, "new period starts at the scheduled date")
	assert.Equal(t, fx.cost.NextBillingDatetime(dueDate), *renewed.DateBillingNext)
	assert.Empty(t, fx.repo.payments)
}

func TestScannerQuantityPricing(t *testing.T) {
	fx := newScannerFixture(t, config.Policy{ExtraCostMultiply: true})
	fx.addSub(t, func(s *models.UserSubscription) { s.Quantity = 3 })

	require.NoError(t, fx.scanner.ProcessSubscriptions(context.Background()))

	require.Len(t, fx.repo.payments, 1)
	for _, p := range fx.repo.payments {
		assert.Equal(t, "30", p.FiatAmount.String())
	}
}

func TestScannerIgnoresSubscriptionsOutsideWindow(t *testing.T) {
	fx := newScannerFixture(t, config.Policy{})
	far := fx.now.Add(10 * 24 * time.Hour)
	sub := fx.addSub(t, func(s *models.UserSubscription) {
		s.DateBillingNext = &far
		s.DateBillingEnd = &far
	})

	require.NoError(t, fx.scanner.ProcessSubscriptions(context.Background()))

	assert.False(t, fx.repo.subs[sub.ID].Due)
	assert.Empty(t, fx.repo.payments)
}

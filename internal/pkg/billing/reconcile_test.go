package billing

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/altpay/saasbilling/app/models"
	"github.com/altpay/saasbilling/internal/pkg/config"
	"github.com/altpay/saasbilling/internal/pkg/gateway"
)

type reconcileFixture struct {
	repo       *fakeRepository
	notifier   *fakeNotifier
	reconciler *Reconciler
	user       *models.User
	cost       *models.PlanCost
	sub        *models.UserSubscription
}

func newReconcileFixture(t *testing.T, policy config.Policy) *reconcileFixture {
	t.Helper()
	repo := newFakeRepository()
	notifier := &fakeNotifier{}
	lc := NewLifecycle(repo, notifier, gateway.NewRegistry(), policy)

	user := repo.addUser(&models.User{Email: "a@example.com"})
	cost := monthlyCost(repo, "10")
	sub := &models.UserSubscription{UserID: user.ID, PlanCostID: cost.ID, Reference: "BITCOIN"}
	require.NoError(t, repo.SaveSubscription(sub))

	return &reconcileFixture{
		repo:       repo,
		notifier:   notifier,
		reconciler: NewReconciler(repo, lc, notifier, policy),
		user:       user,
		cost:       cost,
		sub:        sub,
	}
}

func (fx *reconcileFixture) addPendingPayment(t *testing.T, txAmount string, txDate time.Time) (*models.SubscriptionTransaction, *models.CryptoPayment) {
	t.Helper()
	tx := &models.SubscriptionTransaction{
		UUID:            uuid.NewString(),
		UserID:          fx.user.ID,
		SubscriptionID:  fx.sub.ID,
		Amount:          dec(txAmount),
		DateTransaction: txDate,
	}
	require.NoError(t, fx.repo.SaveTransaction(tx))

	payment := &models.CryptoPayment{
		UUID:          uuid.NewString(),
		TransactionID: tx.ID,
		UserID:        fx.user.ID,
		Currency:      "BITCOIN",
		FiatAmount:    tx.Amount,
		Status:        models.PaymentStatusNew,
	}
	require.NoError(t, fx.repo.SavePayment(payment))
	return tx, payment
}

func TestApplyPaymentStatusValidation(t *testing.T) {
	fx := newReconcileFixture(t, config.Policy{})

	err := fx.reconciler.ApplyPaymentStatus(context.Background(), "any", "settled")
	assert.ErrorIs(t, err, ErrInvalidPaymentStatus)

	err = fx.reconciler.ApplyPaymentStatus(context.Background(), "missing", models.PaymentStatusPaid)
	assert.ErrorIs(t, err, ErrPaymentNotFound)
}

func TestApplyPaymentStatusProcessing(t *testing.T) {
	fx := newReconcileFixture(t, config.Policy{})
	_, payment := fx.addPendingPayment(t, "10", time.Now())

	require.NoError(t, fx.reconciler.ApplyPaymentStatus(context.Background(), payment.UUID, models.PaymentStatusProcessing))

	assert.Equal(t, models.PaymentStatusProcessing, payment.Status)
	assert.Equal(t, []string{payment.UUID}, fx.notifier.paymentProc)
	assert.False(t, fx.sub.Active, "processing does not activate")
}

func TestApplyPaymentStatusPaidActivates(t *testing.T) {
	fx := newReconcileFixture(t, config.Policy{})
	txDate := time.Now().Add(-time.Hour)
	tx, payment := fx.addPendingPayment(t, "10", txDate)

	require.NoError(t, fx.reconciler.ApplyPaymentStatus(context.Background(), payment.UUID, models.PaymentStatusPaid))

	assert.True(t, tx.Amount.IsZero(), "transaction settled")
	assert.True(t, fx.sub.Active)
	assert.False(t, fx.sub.Due)
	assert.Equal(t, []string{payment.UUID}, fx.notifier.paymentOK)
	// Past-dated transaction: period starts now, not at the missed date.
	assert.WithinDuration(t, time.Now(), *fx.sub.DateBillingStart, 5*time.Second)
}

func TestApplyPaymentStatusPaidKeepsFutureSchedule(t *testing.T) {
	fx := newReconcileFixture(t, config.Policy{})
	txDate := time.Now().Add(48 * time.Hour)
	_, payment := fx.addPendingPayment(t, "10", txDate)

	require.NoError(t, fx.reconciler.ApplyPaymentStatus(context.Background(), payment.UUID, models.PaymentStatusPaid))

	assert.True(t, fx.sub.Active)
	assert.Equal(t, txDate, *fx.sub.DateBillingStart, "early payment keeps the scheduled renewal date")
}

func TestApplyPaymentStatusWaitsForAllPayments(t *testing.T) {
	fx := newReconcileFixture(t, config.Policy{})
	tx, payment := fx.addPendingPayment(t, "10", time.Now())

	second := &models.CryptoPayment{
		UUID:          uuid.NewString(),
		TransactionID: tx.ID,
		UserID:        fx.user.ID,
		Currency:      "BITCOIN",
		FiatAmount:    dec("5"),
		Status:        models.PaymentStatusNew,
	}
	require.NoError(t, fx.repo.SavePayment(second))

	require.NoError(t, fx.reconciler.ApplyPaymentStatus(context.Background(), payment.UUID, models.PaymentStatusPaid))
	assert.False(t, fx.sub.Active, "one unpaid payment keeps the subscription waiting")
	assert.Empty(t, fx.notifier.paymentOK, "a partially paid transaction is not a success yet")

	require.NoError(t, fx.reconciler.ApplyPaymentStatus(context.Background(), second.UUID, models.PaymentStatusPaid))
	assert.True(t, fx.sub.Active)
	assert.Equal(t, []string{second.UUID}, fx.notifier.paymentOK)
}

func TestApplyPaymentStatusCancelledNotifies(t *testing.T) {
	fx := newReconcileFixture(t, config.Policy{})
	_, payment := fx.addPendingPayment(t, "10", time.Now())

	require.NoError(t, fx.reconciler.ApplyPaymentStatus(context.Background(), payment.UUID, models.PaymentStatusCancelled))

	assert.Equal(t, []string{payment.UUID}, fx.notifier.paymentError)
	assert.False(t, fx.sub.Active)
}

func webhookEvent(gatewayName, eventID, eventType, ref string) GatewayEvent {
	return GatewayEvent{
		Gateway:         gatewayName,
		ProviderEventID: eventID,
		Type:            eventType,
		SubscriptionRef: ref,
		Payload:         []byte("{}"),
		SignatureValid:  true,
	}
}

func linkGatewaySub(t *testing.T, repo *fakeRepository, gatewayName string, sub *models.UserSubscription, ref string) {
	t.Helper()
	require.NoError(t, repo.SaveGatewaySubscription(&models.GatewaySubscription{
		Gateway: gatewayName, SubscriptionID: sub.ID, SubscriptionRef: ref,
	}))
}

func TestProcessGatewayEventActivates(t *testing.T) {
	fx := newReconcileFixture(t, config.Policy{})
	fx.sub.Reference = models.GatewayPaypal
	linkGatewaySub(t, fx.repo, models.GatewayPaypal, fx.sub, "I-123")

	event := webhookEvent(models.GatewayPaypal, "WH-1", "BILLING.SUBSCRIPTION.ACTIVATED", "I-123")
	require.NoError(t, fx.reconciler.ProcessGatewayEvent(context.Background(), event))

	assert.True(t, fx.sub.Active)
	assert.Len(t, fx.notifier.activated, 1)
}

func TestProcessGatewayEventDoesNotBackdateActivation(t *testing.T) {
	fx := newReconcileFixture(t, config.Policy{})
	fx.sub.Reference = models.GatewayPaypal
	linkGatewaySub(t, fx.repo, models.GatewayPaypal, fx.sub, "I-123")

	event := webhookEvent(models.GatewayPaypal, "WH-8", "BILLING.SUBSCRIPTION.ACTIVATED", "I-123")
	event.OccurredAt = time.Now().Add(-48 * time.Hour)
	require.NoError(t, fx.reconciler.ProcessGatewayEvent(context.Background(), event))

	require.True(t, fx.sub.Active)
	assert.WithinDuration(t, time.Now(), *fx.sub.DateBillingStart, 5*time.Second,
		"a delayed delivery starts the period from today")
}

func TestProcessGatewayEventDeduplicates(t *testing.T) {
	fx := newReconcileFixture(t, config.Policy{})
	fx.sub.Reference = models.GatewayPaypal
	linkGatewaySub(t, fx.repo, models.GatewayPaypal, fx.sub, "I-123")

	event := webhookEvent(models.GatewayPaypal, "WH-1", "BILLING.SUBSCRIPTION.ACTIVATED", "I-123")
	require.NoError(t, fx.reconciler.ProcessGatewayEvent(context.Background(), event))
	require.NoError(t, fx.reconciler.ProcessGatewayEvent(context.Background(), event))

	assert.Len(t, fx.notifier.activated, 1, "replayed delivery processed at most once")
	assert.Len(t, fx.repo.webhookEvents, 1)
}

func TestProcessGatewayEventUnknownRefIsNoop(t *testing.T) {
	fx := newReconcileFixture(t, config.Policy{})

	event := webhookEvent(models.GatewayPaypal, "WH-9", "BILLING.SUBSCRIPTION.ACTIVATED", "I-unknown")
	require.NoError(t, fx.reconciler.ProcessGatewayEvent(context.Background(), event))

	assert.False(t, fx.sub.Active)
	require.Len(t, fx.repo.webhookEvents, 1)
	for _, stored := range fx.repo.webhookEvents {
		assert.NotNil(t, stored.ProcessedAt, "event is still recorded and acknowledged")
	}
}

func TestProcessGatewayEventLinksByLocalID(t *testing.T) {
	fx := newReconcileFixture(t, config.Policy{})
	fx.sub.Reference = models.GatewayStripe

	event := webhookEvent(models.GatewayStripe, "evt_1", "checkout.session.completed", "sub_ext")
	event.LocalSubID = fx.sub.ID
	require.NoError(t, fx.reconciler.ProcessGatewayEvent(context.Background(), event))

	assert.True(t, fx.sub.Active)
	gs, err := fx.repo.GetGatewaySubscriptionByRef(models.GatewayStripe, "sub_ext")
	require.NoError(t, err)
	assert.Equal(t, fx.sub.ID, gs.SubscriptionID, "first contact links the external ref")
}

func TestProcessGatewayEventSuspendMarksDue(t *testing.T) {
	fx := newReconcileFixture(t, config.Policy{})
	fx.sub.Reference = models.GatewayPaypal
	fx.sub.Active = true
	linkGatewaySub(t, fx.repo, models.GatewayPaypal, fx.sub, "I-123")

	event := webhookEvent(models.GatewayPaypal, "WH-2", "BILLING.SUBSCRIPTION.SUSPENDED", "I-123")
	require.NoError(t, fx.reconciler.ProcessGatewayEvent(context.Background(), event))

	assert.True(t, fx.sub.Due)
	assert.True(t, fx.sub.Active)
}

func TestProcessGatewayEventTerminate(t *testing.T) {
	fx := newReconcileFixture(t, config.Policy{})
	fx.sub.Reference = models.GatewayPaypal
	fx.sub.Active = true
	linkGatewaySub(t, fx.repo, models.GatewayPaypal, fx.sub, "I-123")

	event := webhookEvent(models.GatewayPaypal, "WH-3", "BILLING.SUBSCRIPTION.CANCELLED", "I-123")
	require.NoError(t, fx.reconciler.ProcessGatewayEvent(context.Background(), event))

	assert.True(t, fx.sub.Cancelled)
	assert.False(t, fx.sub.Active)
}

func TestStripeSubscriptionStatusAction(t *testing.T) {
	assert.Equal(t, ActionActivate, StripeSubscriptionStatusAction("active"))
	assert.Equal(t, ActionActivate, StripeSubscriptionStatusAction("trialing"))
	assert.Equal(t, ActionSuspend, StripeSubscriptionStatusAction("past_due"))
	assert.Equal(t, ActionTerminate, StripeSubscriptionStatusAction("canceled"))
	assert.Equal(t, ActionTerminate, StripeSubscriptionStatusAction("unpaid"))
	assert.Equal(t, ActionNone, StripeSubscriptionStatusAction("incomplete"))
}

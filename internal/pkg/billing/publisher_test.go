package billing

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/altpay/saasbilling/app/models"
	"github.com/altpay/saasbilling/internal/pkg/gateway"
)

type publisherFixture struct {
	repo   *fakeRepository
	paypal *fakeGatewayClient
	pub    *Publisher
	plan   *models.SubscriptionPlan
	cost   *models.PlanCost
}

func newPublisherFixture(t *testing.T) *publisherFixture {
	t.Helper()
	repo := newFakeRepository()
	paypal := &fakeGatewayClient{name: models.GatewayPaypal}

	plan := &models.SubscriptionPlan{ID: 910, PlanName: "Pro", PlanDescription: "Pro plan"}
	cost := repo.addCost(&models.PlanCost{
		PlanID:           plan.ID,
		RecurrenceUnit:   models.RecurrenceMonth,
		RecurrencePeriod: 1,
		Cost:             dec("9.99"),
		Currency:         "USD",
		Plan:             plan,
	})
	plan.Costs = []models.PlanCost{*cost}

	return &publisherFixture{
		repo:   repo,
		paypal: paypal,
		pub:    NewPublisher(repo, gateway.NewRegistry(paypal)),
		plan:   plan,
		cost:   cost,
	}
}

func TestPublishAllCreatesAndActivates(t *testing.T) {
	fx := newPublisherFixture(t)

	require.NoError(t, fx.pub.PublishAll(context.Background()))

	gp, err := fx.repo.GetGatewayPlan(models.GatewayPaypal, fx.plan.ID)
	require.NoError(t, err)
	assert.Equal(t, "prod_Pro", gp.PlanRef)

	gc, err := fx.repo.GetGatewayCost(models.GatewayPaypal, fx.cost.ID)
	require.NoError(t, err)
	assert.NotEmpty(t, gc.CostRef)
	assert.Equal(t, []string{gc.CostRef}, fx.paypal.activatedRefs, "a fresh plan is activated")
	assert.Empty(t, fx.paypal.pricingUpdates)
}

func TestPublishAllPushesPricingToExistingPlan(t *testing.T) {
	fx := newPublisherFixture(t)
	require.NoError(t, fx.repo.SaveGatewayPlan(&models.GatewayPlan{
		Gateway: models.GatewayPaypal, PlanID: fx.plan.ID, PlanRef: "prod_Pro",
	}))
	require.NoError(t, fx.repo.SaveGatewayCost(&models.GatewayCost{
		Gateway: models.GatewayPaypal, CostID: fx.cost.ID, CostRef: "P-42",
	}))

	require.NoError(t, fx.pub.PublishAll(context.Background()))

	assert.Equal(t, []string{"P-42"}, fx.paypal.pricingUpdates,
		"an in-place plan update carries the current amount")
	assert.Empty(t, fx.paypal.activatedRefs, "already-published plans are not re-activated")

	gc, err := fx.repo.GetGatewayCost(models.GatewayPaypal, fx.cost.ID)
	require.NoError(t, err)
	assert.Equal(t, "P-42", gc.CostRef, "the ref is never recreated on update")
}

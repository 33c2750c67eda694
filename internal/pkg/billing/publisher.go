package billing

import (
	"context"
	"errors"
	"fmt"

	"github.com/gofiber/fiber/v2/log"
	"gorm.io/gorm"

	"github.com/altpay/saasbilling/app/models"
	"github.com/altpay/saasbilling/internal/pkg/gateway"
)

// Publisher mirrors the local plan catalog to the external gateways so users
// can be subscribed against gateway-native products and prices.
type Publisher struct {
	repo     Repository
	gateways *gateway.Registry
}

// NewPublisher wires the catalog publisher.
func NewPublisher(repo Repository, gateways *gateway.Registry) *Publisher {
	return &Publisher{repo: repo, gateways: gateways}
}

// PublishAll pushes every plan and cost to every configured gateway. A
// failure on one plan is logged and does not stop the rest; the sync is
// re-runnable.
func (p *Publisher) PublishAll(ctx context.Context) error {
	plans, err := p.repo.ListPlans()
	if err != nil {
		return fmt.Errorf("listing plans: %w", err)
	}

	for _, name := range p.gateways.Names() {
		client, err := p.gateways.Get(name)
		if err != nil {
			return err
		}
		for i := range plans {
			if err := p.publishPlan(ctx, client, &plans[i]); err != nil {
				log.Errorf("publishing plan %d to %s failed: %v", plans[i].ID, name, err)
			}
		}
	}
	return nil
}

// publishPlan ensures the product and all its prices exist on the gateway,
// creating the mirror rows on first publish and updating in place after.
func (p *Publisher) publishPlan(ctx context.Context, client gateway.Client, plan *models.SubscriptionPlan) error {
	gp, err := p.repo.GetGatewayPlan(client.Name(), plan.ID)
	if err != nil {
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			return err
		}
		gp = &models.GatewayPlan{Gateway: client.Name(), PlanID: plan.ID}
	}

	ref, err := client.CreateOrUpdateProduct(ctx, gateway.PlanInput{
		ProductRef:  gp.PlanRef,
		Name:        plan.PlanName,
		Description: plan.PlanDescription,
	})
	if err != nil {
		return err
	}
	if ref != gp.PlanRef {
		gp.PlanRef = ref
		if err := p.repo.SaveGatewayPlan(gp); err != nil {
			return err
		}
	}

	for i := range plan.Costs {
		cost := &plan.Costs[i]
		if err := p.publishCost(ctx, client, plan, gp.PlanRef, cost); err != nil {
			return fmt.Errorf("cost %d: %w", cost.ID, err)
		}
	}
	return nil
}

func (p *Publisher) publishCost(ctx context.Context, client gateway.Client, plan *models.SubscriptionPlan, productRef string, cost *models.PlanCost) error {
	gc, err := p.repo.GetGatewayCost(client.Name(), cost.ID)
	if err != nil {
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			return err
		}
		gc = &models.GatewayCost{Gateway: client.Name(), CostID: cost.ID}
	}

	in := gateway.CostInput{
		ProductRef:    productRef,
		CostRef:       gc.CostRef,
		Name:          fmt.Sprintf("%s (%d %s)", plan.PlanName, cost.RecurrencePeriod, cost.RecurrenceUnit),
		Description:   plan.PlanDescription,
		IntervalUnit:  cost.RecurrenceUnit,
		IntervalCount: cost.RecurrencePeriod,
		Amount:        cost.Cost,
		Currency:      cost.Currency,
		TrialDays:     plan.TrialDays,
	}

	firstPublish := gc.CostRef == ""
	ref, err := client.CreateOrUpdatePlan(ctx, in)
	if err != nil {
		return err
	}
	if ref != gc.CostRef {
		gc.CostRef = ref
		if err := p.repo.SaveGatewayCost(gc); err != nil {
			return err
		}
		firstPublish = true
	}

	if firstPublish {
		return client.ActivatePlan(ctx, gc.CostRef)
	}

	// An unchanged ref means the gateway plan was updated in place. Plans
	// that support mutable pricing get the current amount pushed too, so a
	// local price change reaches subscribers billed on the old scheme.
	if up, ok := client.(gateway.PricingUpdater); ok {
		return up.UpdatePlanPricing(ctx, gc.CostRef, in)
	}
	return nil
}

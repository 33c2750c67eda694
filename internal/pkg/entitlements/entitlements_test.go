package entitlements

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"

	"github.com/altpay/saasbilling/app/models"
)

func sub(active, due bool, cost string, quantity int, planName string) models.UserSubscription {
	return models.UserSubscription{
		Active:   active,
		Due:      due,
		Quantity: quantity,
		PlanCost: &models.PlanCost{
			Cost: decimal.RequireFromString(cost),
			Plan: &models.SubscriptionPlan{ID: 1, PlanName: planName},
		},
	}
}

func TestResolveNoActiveSubscription(t *testing.T) {
	e := Resolve(nil)
	assert.Equal(t, LevelFree, e.Level)
	assert.Equal(t, 1, e.Seats)

	e = Resolve([]models.UserSubscription{sub(false, false, "10", 1, "Pro")})
	assert.Equal(t, LevelFree, e.Level, "inactive subscriptions grant nothing")
}

func TestResolvePicksMostValuablePlan(t *testing.T) {
	e := Resolve([]models.UserSubscription{
		sub(true, false, "10", 1, "Pro"),
		sub(true, false, "50", 3, "Business"),
	})
	assert.Equal(t, LevelPaid, e.Level)
	assert.Equal(t, "Business", e.PlanName)
	assert.Equal(t, 3, e.Seats)
}

func TestResolveDueDropsToGrace(t *testing.T) {
	next := time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC)
	s := sub(true, true, "10", 1, "Pro")
	s.DateBillingNext = &next

	e := Resolve([]models.UserSubscription{s})
	assert.Equal(t, LevelGrace, e.Level)
	assert.True(t, e.Due)
	assert.Equal(t, "Pro", e.PlanName, "plan is kept during the grace window")
	assert.Equal(t, next, *e.RenewsAt)
}

func TestResolveZeroCostPlanIsFree(t *testing.T) {
	e := Resolve([]models.UserSubscription{sub(true, false, "0", 1, "Starter")})
	assert.Equal(t, LevelFree, e.Level)
	assert.Equal(t, "Starter", e.PlanName)
}

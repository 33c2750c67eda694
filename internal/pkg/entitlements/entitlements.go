package entitlements

import (
	"time"

	"github.com/altpay/saasbilling/app/models"
)

type Level string

const (
	LevelFree  Level = "free"
	LevelPaid  Level = "paid"
	LevelGrace Level = "grace"
)

// Entitlements is what a user's subscriptions currently grant. Downstream
// services query the billing API for this instead of interpreting raw
// subscription rows themselves.
type Entitlements struct {
	Level    Level      `json:"level"`
	PlanID   uint       `json:"plan_id,omitempty"`
	PlanName string     `json:"plan_name,omitempty"`
	Seats    int        `json:"seats"`
	Due      bool       `json:"due"`
	RenewsAt *time.Time `json:"renews_at,omitempty"`
}

// Resolve picks the most valuable active subscription and derives the grant
// from it. A due subscription keeps its plan but drops to grace until the
// outstanding payment clears; no active subscription means free.
func Resolve(subs []models.UserSubscription) Entitlements {
	var best *models.UserSubscription
	for i := range subs {
		s := &subs[i]
		if !s.Active || s.PlanCost == nil {
			continue
		}
		if best == nil || s.PlanCost.Cost.GreaterThan(best.PlanCost.Cost) {
			best = s
		}
	}
	if best == nil {
		return Entitlements{Level: LevelFree, Seats: 1}
	}

	e := Entitlements{
		Level:    LevelPaid,
		Seats:    best.Quantity,
		Due:      best.Due,
		RenewsAt: best.DateBillingNext,
	}
	if best.PlanCost.Cost.IsZero() {
		e.Level = LevelFree
	} else if best.Due {
		e.Level = LevelGrace
	}
	if best.PlanCost.Plan != nil {
		e.PlanID = best.PlanCost.Plan.ID
		e.PlanName = best.PlanCost.Plan.PlanName
	}
	if e.Seats < 1 {
		e.Seats = 1
	}
	return e
}

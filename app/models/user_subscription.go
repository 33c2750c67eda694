package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// Gateway references a UserSubscription can carry. Crypto subscriptions use
// the currency code (e.g. "BITCOIN") as reference; "none" marks a
// subscription that never went through a payment path (default plans).
const (
	GatewayStripe  = "stripe"
	GatewayPaypal  = "paypal"
	ReferenceNone  = "none"
	DefaultCrypto  = "BITCOIN"
)

// ExternallyManagedGateways are reconciled through their own webhooks and are
// excluded from the due-cycle scans.
var ExternallyManagedGateways = []string{GatewayStripe, GatewayPaypal}

// UserSubscription ties a user to a plan cost and carries the full billing
// lifecycle state. Rows are never deleted; expiry, cancellation and
// unsubscribe only flip the soft-state flags.
type UserSubscription struct {
	ID               uint       `gorm:"primaryKey" json:"id"`
	UserID           uint       `gorm:"not null;index:idx_user_subscriptions_user_active,priority:1" json:"user_id"`
	PlanCostID       uint       `gorm:"not null;index" json:"plan_cost_id"`
	Active           bool       `gorm:"not null;default:false;index:idx_user_subscriptions_user_active,priority:2" json:"active"`
	Cancelled        bool       `gorm:"not null;default:false;index" json:"cancelled"`
	Due              bool       `gorm:"not null;default:false;index" json:"due"`
	Reference        string     `gorm:"type:varchar(32);not null;default:'none';index" json:"reference"`
	Quantity         int        `gorm:"not null;default:1" json:"quantity"`
	DateBillingStart *time.Time `gorm:"type:datetime(6)" json:"date_billing_start,omitempty"`
	DateBillingNext  *time.Time `gorm:"type:datetime(6);index" json:"date_billing_next,omitempty"`
	DateBillingEnd   *time.Time `gorm:"type:datetime(6);index" json:"date_billing_end,omitempty"`
	CreatedAt        time.Time  `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt        time.Time  `gorm:"autoUpdateTime" json:"updated_at"`

	User     *User     `gorm:"foreignKey:UserID" json:"user,omitempty"`
	PlanCost *PlanCost `gorm:"foreignKey:PlanCostID" json:"plan_cost,omitempty"`
}

// IsGatewayManaged reports whether the subscription is billed by an external
// gateway rather than by the local scanner.
func (s *UserSubscription) IsGatewayManaged() bool {
	for _, g := range ExternallyManagedGateways {
		if s.Reference == g {
			return true
		}
	}
	return false
}

// UnusedDailyBalance is the value of the remaining whole days in the current
// billing period, rounded to cents. It is credited back to the user when a
// subscription is replaced or unsubscribed before its period ends.
func (s *UserSubscription) UnusedDailyBalance(now time.Time) decimal.Decimal {
	if s.PlanCost == nil || s.DateBillingNext == nil {
		return decimal.Zero
	}
	remaining := int(s.DateBillingNext.Sub(now).Hours() / 24)
	if remaining <= 0 {
		return decimal.Zero
	}
	return s.PlanCost.DailyCost().Mul(decimal.NewFromInt(int64(remaining))).Round(2)
}

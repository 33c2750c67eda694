package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// Recurrence units supported by PlanCost.
const (
	RecurrenceDay   = "day"
	RecurrenceWeek  = "week"
	RecurrenceMonth = "month"
	RecurrenceYear  = "year"
)

// Average calendar lengths used for billing math. A "month" is the mean
// Gregorian month so that monthly plans stay aligned over years.
const (
	daysPerMonth = 30.4368
	daysPerYear  = 365.2425
)

// SubscriptionPlan is a subscription tier. Pricing lives on PlanCost so a
// plan can carry several billing-cycle variants.
type SubscriptionPlan struct {
	ID              uint      `gorm:"primaryKey" json:"id"`
	PlanName        string    `gorm:"type:varchar(128);not null" json:"plan_name"`
	PlanDescription string    `gorm:"type:text" json:"plan_description"`
	TrialDays       int       `gorm:"not null;default:0" json:"trial_days"`
	MinQuantity     int       `gorm:"not null;default:1" json:"min_quantity"`
	IsDefault       bool      `gorm:"not null;default:false;index" json:"is_default"`
	CreatedAt       time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt       time.Time `gorm:"autoUpdateTime" json:"updated_at"`

	Costs []PlanCost `gorm:"foreignKey:PlanID" json:"costs,omitempty"`
}

// PlanCost is one priced billing-cycle variant of a plan.
type PlanCost struct {
	ID               uint            `gorm:"primaryKey" json:"id"`
	PlanID           uint            `gorm:"not null;index" json:"plan_id"`
	RecurrenceUnit   string          `gorm:"type:varchar(16);not null;default:'month'" json:"recurrence_unit"`
	RecurrencePeriod int             `gorm:"not null;default:1" json:"recurrence_period"`
	Cost             decimal.Decimal `gorm:"type:decimal(19,4);not null" json:"cost"`
	Currency         string          `gorm:"type:varchar(8);not null;default:'USD'" json:"currency"`
	CreatedAt        time.Time       `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt        time.Time       `gorm:"autoUpdateTime" json:"updated_at"`

	Plan *SubscriptionPlan `gorm:"foreignKey:PlanID" json:"plan,omitempty"`
}

// PeriodDays returns the billing period length in (fractional) days.
func (c *PlanCost) PeriodDays() float64 {
	period := c.RecurrencePeriod
	if period < 1 {
		period = 1
	}
	switch c.RecurrenceUnit {
	case RecurrenceDay:
		return float64(period)
	case RecurrenceWeek:
		return float64(period) * 7
	case RecurrenceYear:
		return float64(period) * daysPerYear
	default:
		return float64(period) * daysPerMonth
	}
}

// NextBillingDatetime returns the end of the billing period that starts at
// the given time.
func (c *PlanCost) NextBillingDatetime(from time.Time) time.Time {
	return from.Add(time.Duration(c.PeriodDays() * 24 * float64(time.Hour)))
}

// DailyCost is the plan cost spread over the billing period, used when
// crediting unused time back to a user.
func (c *PlanCost) DailyCost() decimal.Decimal {
	days := decimal.NewFromFloat(c.PeriodDays())
	if days.IsZero() {
		return decimal.Zero
	}
	return c.Cost.DivRound(days, 8)
}

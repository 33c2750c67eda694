package models

import "time"

// GatewayPlan mirrors a local SubscriptionPlan to an external gateway
// product. An empty PlanRef means the plan has not been published yet; once
// set it is only ever updated in place.
type GatewayPlan struct {
	ID        uint      `gorm:"primaryKey" json:"id"`
	Gateway   string    `gorm:"type:varchar(20);not null;index:ux_gateway_plans,unique,priority:1" json:"gateway"`
	PlanID    uint      `gorm:"not null;index:ux_gateway_plans,unique,priority:2" json:"plan_id"`
	PlanRef   string    `gorm:"type:varchar(191);not null;default:''" json:"plan_ref"`
	CreatedAt time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt time.Time `gorm:"autoUpdateTime" json:"updated_at"`

	Plan *SubscriptionPlan `gorm:"foreignKey:PlanID" json:"plan,omitempty"`
}

// GatewayCost mirrors a local PlanCost to an external price/billing-plan.
type GatewayCost struct {
	ID        uint      `gorm:"primaryKey" json:"id"`
	Gateway   string    `gorm:"type:varchar(20);not null;index:ux_gateway_costs,unique,priority:1" json:"gateway"`
	CostID    uint      `gorm:"not null;index:ux_gateway_costs,unique,priority:2" json:"cost_id"`
	CostRef   string    `gorm:"type:varchar(191);not null;default:'';index" json:"cost_ref"`
	CreatedAt time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt time.Time `gorm:"autoUpdateTime" json:"updated_at"`

	Cost *PlanCost `gorm:"foreignKey:CostID" json:"cost,omitempty"`
}

// GatewaySubscription links a local UserSubscription to the external
// subscription the gateway bills.
type GatewaySubscription struct {
	ID              uint      `gorm:"primaryKey" json:"id"`
	Gateway         string    `gorm:"type:varchar(20);not null;index:ux_gateway_subscriptions,unique,priority:1" json:"gateway"`
	SubscriptionID  uint      `gorm:"not null;index:ux_gateway_subscriptions,unique,priority:2" json:"subscription_id"`
	SubscriptionRef string    `gorm:"type:varchar(191);not null;default:'';index" json:"subscription_ref"`
	CreatedAt       time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt       time.Time `gorm:"autoUpdateTime" json:"updated_at"`

	Subscription *UserSubscription `gorm:"foreignKey:SubscriptionID" json:"subscription,omitempty"`
}

// GatewayCustomer caches the external customer id created for a user so
// repeat charges reuse the same gateway customer.
type GatewayCustomer struct {
	ID         uint      `gorm:"primaryKey" json:"id"`
	Gateway    string    `gorm:"type:varchar(20);not null;index:ux_gateway_customers,unique,priority:1" json:"gateway"`
	UserID     uint      `gorm:"not null;index:ux_gateway_customers,unique,priority:2" json:"user_id"`
	CustomerID string    `gorm:"type:varchar(191);not null" json:"customer_id"`
	CreatedAt  time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt  time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// SubscriptionTransaction is a ledger entry for a subscription charge. The
// sign of Amount encodes direction: positive is still owed by the user,
// negative is credit owed back to the user, zero is fully settled.
type SubscriptionTransaction struct {
	ID              uint            `gorm:"primaryKey" json:"id"`
	UUID            string          `gorm:"type:char(36);not null;uniqueIndex" json:"uuid"`
	UserID          uint            `gorm:"not null;index:idx_subscription_transactions_user_amount,priority:1" json:"user_id"`
	SubscriptionID  uint            `gorm:"not null;index" json:"subscription_id"`
	Amount          decimal.Decimal `gorm:"type:decimal(19,4);not null;index:idx_subscription_transactions_user_amount,priority:2" json:"amount"`
	DateTransaction time.Time       `gorm:"type:datetime(6);not null" json:"date_transaction"`
	CreatedAt       time.Time       `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt       time.Time       `gorm:"autoUpdateTime" json:"updated_at"`

	Subscription   *UserSubscription `gorm:"foreignKey:SubscriptionID" json:"subscription,omitempty"`
	CryptoPayments []CryptoPayment   `gorm:"foreignKey:TransactionID" json:"crypto_payments,omitempty"`
}

// Pending reports whether the transaction still awaits payment.
func (t *SubscriptionTransaction) Pending() bool {
	return t.Amount.IsPositive()
}

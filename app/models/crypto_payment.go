package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// Crypto payment states. A payment moves new -> processing -> paid, or is
// cancelled at any point before paid.
const (
	PaymentStatusNew        = "new"
	PaymentStatusProcessing = "processing"
	PaymentStatusPaid       = "paid"
	PaymentStatusCancelled  = "cancelled"
)

// CryptoPayment is a single pay-as-you-go payment attempt against a
// subscription transaction. A transaction may accumulate several payments
// before it is fully covered (retry-to-pay).
type CryptoPayment struct {
	ID            uint            `gorm:"primaryKey" json:"id"`
	UUID          string          `gorm:"type:char(36);not null;uniqueIndex" json:"uuid"`
	TransactionID uint            `gorm:"not null;index" json:"transaction_id"`
	UserID        uint            `gorm:"not null;index" json:"user_id"`
	Currency      string          `gorm:"type:varchar(32);not null" json:"currency"`
	FiatAmount    decimal.Decimal `gorm:"type:decimal(19,4);not null" json:"fiat_amount"`
	FiatCurrency  string          `gorm:"type:varchar(8);not null;default:'USD'" json:"fiat_currency"`
	Status        string          `gorm:"type:varchar(16);not null;default:'new';index" json:"status"`
	Title         string          `gorm:"type:varchar(191)" json:"title"`
	Description   string          `gorm:"type:text" json:"description"`
	Address       string          `gorm:"type:varchar(128)" json:"address"`
	CreatedAt     time.Time       `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt     time.Time       `gorm:"autoUpdateTime" json:"updated_at"`

	Transaction *SubscriptionTransaction `gorm:"foreignKey:TransactionID" json:"transaction,omitempty"`
}

// IsValidPaymentStatus guards status updates coming in over the wire.
func IsValidPaymentStatus(status string) bool {
	switch status {
	case PaymentStatusNew, PaymentStatusProcessing, PaymentStatusPaid, PaymentStatusCancelled:
		return true
	default:
		return false
	}
}

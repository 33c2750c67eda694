package billing

import (
	"time"

	"github.com/altpay/saasbilling/app/models"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Ledger settles new subscription charges against the credit a user carries
// from earlier billing periods. Credit lives as negative transaction amounts;
// settling consumes credit oldest-first and records the remainder as a new
// transaction.
type Ledger struct {
	repo Repository
}

// NewLedger creates a ledger over the given repository.
func NewLedger(repo Repository) *Ledger {
	return &Ledger{repo: repo}
}

// Settle offsets amount against the user's outstanding credit and records
// the resulting transaction for the subscription. The returned transaction
// amount is zero when the charge was fully covered (or the charge was not
// positive to begin with), in which case the caller activates immediately.
//
// Every credit row touched and the new transaction commit atomically; no
// value is created or destroyed across the offset.
func (l *Ledger) Settle(userID, subscriptionID uint, amount decimal.Decimal, transactionDate time.Time) (*models.SubscriptionTransaction, error) {
	var result *models.SubscriptionTransaction

	err := l.repo.Transaction(func(repo Repository) error {
		remaining := amount
		if remaining.IsPositive() {
			credits, err := repo.ListCreditTransactions(userID)
			if err != nil {
				return err
			}
			for i := range credits {
				credit := &credits[i]
				remaining = remaining.Add(credit.Amount)
				if remaining.Sign() <= 0 {
					// Credit covered the rest of the charge; keep any
					// leftover on the credit row.
					credit.Amount = remaining
					if err := repo.SaveTransaction(credit); err != nil {
						return err
					}
					remaining = decimal.Zero
					break
				}
				credit.Amount = decimal.Zero
				if err := repo.SaveTransaction(credit); err != nil {
					return err
				}
			}
		} else {
			remaining = decimal.Zero
		}

		tx := &models.SubscriptionTransaction{
			UUID:            uuid.NewString(),
			UserID:          userID,
			SubscriptionID:  subscriptionID,
			Amount:          remaining,
			DateTransaction: transactionDate,
		}
		if err := repo.SaveTransaction(tx); err != nil {
			return err
		}
		result = tx
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

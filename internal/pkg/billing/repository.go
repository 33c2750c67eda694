package billing

import (
	"time"

	"github.com/altpay/saasbilling/app/models"
	"gorm.io/gorm"
)

// Repository provides the DB operations used by the billing core. The
// lifecycle, ledger, reconciler and scanner all run against this interface;
// tests substitute an in-memory fake.
type Repository interface {
	GetUser(id uint) (*models.User, error)
	GetUserByAPIKeyHash(hash string) (*models.User, error)

	GetPlanCost(id uint) (*models.PlanCost, error)
	ListPlans() ([]models.SubscriptionPlan, error)

	GetSubscription(id uint) (*models.UserSubscription, error)
	SaveSubscription(sub *models.UserSubscription) error
	ListActiveSubscriptions(userID uint) ([]models.UserSubscription, error)
	FindSubscriptionByUserAndCost(userID, costID uint) (*models.UserSubscription, error)
	ListExpiredSubscriptions(now time.Time, excludedRefs []string) ([]models.UserSubscription, error)
	ListDueSubscriptions(cutoff time.Time, excludedRefs []string) ([]models.UserSubscription, error)

	GetTransaction(id uint) (*models.SubscriptionTransaction, error)
	GetTransactionByUUID(uuid string) (*models.SubscriptionTransaction, error)
	SaveTransaction(tx *models.SubscriptionTransaction) error
	ListUserTransactions(userID uint) ([]models.SubscriptionTransaction, error)
	ListCreditTransactions(userID uint) ([]models.SubscriptionTransaction, error)
	HasPendingCryptoTransaction(userID uint) (bool, error)

	GetPaymentByUUID(uuid string) (*models.CryptoPayment, error)
	SavePayment(payment *models.CryptoPayment) error
	ListPaymentsForTransaction(transactionID uint) ([]models.CryptoPayment, error)
	LastCryptoCurrency(userID uint) (string, error)

	GetGatewaySubscriptionByRef(gateway, subscriptionRef string) (*models.GatewaySubscription, error)
	GetGatewaySubscriptionForLocal(gateway string, subscriptionID uint) (*models.GatewaySubscription, error)
	SaveGatewaySubscription(gs *models.GatewaySubscription) error
	GetGatewayPlan(gateway string, planID uint) (*models.GatewayPlan, error)
	SaveGatewayPlan(gp *models.GatewayPlan) error
	GetGatewayCost(gateway string, costID uint) (*models.GatewayCost, error)
	SaveGatewayCost(gc *models.GatewayCost) error
	GetGatewayCustomer(gateway string, userID uint) (*models.GatewayCustomer, error)
	SaveGatewayCustomer(gc *models.GatewayCustomer) error

	CreateWebhookEventIfNotExists(event *models.GatewayWebhookEvent) (bool, *models.GatewayWebhookEvent, error)
	MarkWebhookProcessed(id uint, processingError string) error

	// Transaction runs fn against a repository bound to one DB transaction.
	// Lifecycle transitions use it so field updates and saves commit as a
	// single atomic unit per subscription row.
	Transaction(fn func(Repository) error) error
}

type gormRepository struct {
	db *gorm.DB
}

// NewRepository creates a billing repository backed by GORM.
func NewRepository(db *gorm.DB) Repository {
	return &gormRepository{db: db}
}

func (r *gormRepository) GetUser(id uint) (*models.User, error) {
	var u models.User
	if err := r.db.First(&u, id).Error; err != nil {
		return nil, err
	}
	return &u, nil
}

func (r *gormRepository) GetUserByAPIKeyHash(hash string) (*models.User, error) {
	var u models.User
	if err := r.db.Where("api_key_hash = ?", hash).First(&u).Error; err != nil {
		return nil, err
	}
	return &u, nil
}

func (r *gormRepository) GetPlanCost(id uint) (*models.PlanCost, error) {
	var c models.PlanCost
	if err := r.db.Preload("Plan").First(&c, id).Error; err != nil {
		return nil, err
	}
	return &c, nil
}

func (r *gormRepository) ListPlans() ([]models.SubscriptionPlan, error) {
	var plans []models.SubscriptionPlan
	err := r.db.Preload("Costs").Order("id").Find(&plans).Error
	return plans, err
}

func (r *gormRepository) GetSubscription(id uint) (*models.UserSubscription, error) {
	var s models.UserSubscription
	if err := r.db.Preload("PlanCost").Preload("PlanCost.Plan").First(&s, id).Error; err != nil {
		return nil, err
	}
	return &s, nil
}

func (r *gormRepository) SaveSubscription(sub *models.UserSubscription) error {
	return r.db.Omit("User", "PlanCost").Save(sub).Error
}

func (r *gormRepository) ListActiveSubscriptions(userID uint) ([]models.UserSubscription, error) {
	var subs []models.UserSubscription
	err := r.db.Preload("PlanCost.Plan").
		Where("user_id = ? AND active = ?", userID, true).
		Order("id").
		Find(&subs).Error
	return subs, err
}

func (r *gormRepository) FindSubscriptionByUserAndCost(userID, costID uint) (*models.UserSubscription, error) {
	var s models.UserSubscription
	err := r.db.Preload("PlanCost").
		Where("user_id = ? AND plan_cost_id = ?", userID, costID).
		Order("id DESC").
		First(&s).Error
	if err != nil {
		return nil, err
	}
	return &s, nil
}

func (r *gormRepository) ListExpiredSubscriptions(now time.Time, excludedRefs []string) ([]models.UserSubscription, error) {
	var subs []models.UserSubscription
	q := r.db.Preload("PlanCost").
		Where("active = ? AND cancelled = ? AND date_billing_end <= ?", true, false, now)
	if len(excludedRefs) > 0 {
		q = q.Where("reference NOT IN ?", excludedRefs)
	}
	err := q.Order("id").Find(&subs).Error
	return subs, err
}

func (r *gormRepository) ListDueSubscriptions(cutoff time.Time, excludedRefs []string) ([]models.UserSubscription, error) {
	var subs []models.UserSubscription
	q := r.db.Preload("PlanCost").Preload("PlanCost.Plan").
		Where("active = ? AND cancelled = ? AND due = ? AND date_billing_next <= ?", true, false, false, cutoff)
	if len(excludedRefs) > 0 {
		q = q.Where("reference NOT IN ?", excludedRefs)
	}
	err := q.Order("id").Find(&subs).Error
	return subs, err
}

func (r *gormRepository) GetTransaction(id uint) (*models.SubscriptionTransaction, error) {
	var t models.SubscriptionTransaction
	if err := r.db.Preload("CryptoPayments").First(&t, id).Error; err != nil {
		return nil, err
	}
	return &t, nil
}

func (r *gormRepository) GetTransactionByUUID(uuid string) (*models.SubscriptionTransaction, error) {
	var t models.SubscriptionTransaction
	if err := r.db.Preload("CryptoPayments").Where("uuid = ?", uuid).First(&t).Error; err != nil {
		return nil, err
	}
	return &t, nil
}

func (r *gormRepository) SaveTransaction(tx *models.SubscriptionTransaction) error {
	return r.db.Omit("Subscription", "CryptoPayments").Save(tx).Error
}

func (r *gormRepository) ListUserTransactions(userID uint) ([]models.SubscriptionTransaction, error) {
	var txs []models.SubscriptionTransaction
	err := r.db.Preload("CryptoPayments").
		Where("user_id = ?", userID).
		Order("id DESC").
		Find(&txs).Error
	return txs, err
}

func (r *gormRepository) ListCreditTransactions(userID uint) ([]models.SubscriptionTransaction, error) {
	var txs []models.SubscriptionTransaction
	err := r.db.Where("user_id = ? AND amount < 0", userID).
		Order("id").
		Find(&txs).Error
	return txs, err
}

func (r *gormRepository) HasPendingCryptoTransaction(userID uint) (bool, error) {
	var count int64
	err := r.db.Model(&models.SubscriptionTransaction{}).
		Joins("JOIN crypto_payments ON crypto_payments.transaction_id = subscription_transactions.id").
		Where("subscription_transactions.user_id = ? AND subscription_transactions.amount > 0", userID).
		Where("crypto_payments.status IN ?", []string{models.PaymentStatusNew, models.PaymentStatusProcessing}).
		Count(&count).Error
	return count > 0, err
}

func (r *gormRepository) GetPaymentByUUID(uuid string) (*models.CryptoPayment, error) {
	var p models.CryptoPayment
	if err := r.db.Preload("Transaction").Where("uuid = ?", uuid).First(&p).Error; err != nil {
		return nil, err
	}
	return &p, nil
}

func (r *gormRepository) SavePayment(payment *models.CryptoPayment) error {
	return r.db.Omit("Transaction").Save(payment).Error
}

func (r *gormRepository) ListPaymentsForTransaction(transactionID uint) ([]models.CryptoPayment, error) {
	var payments []models.CryptoPayment
	err := r.db.Where("transaction_id = ?", transactionID).Order("id").Find(&payments).Error
	return payments, err
}

func (r *gormRepository) LastCryptoCurrency(userID uint) (string, error) {
	var p models.CryptoPayment
	err := r.db.Where("user_id = ?", userID).Order("id DESC").First(&p).Error
	if err != nil {
		return "", err
	}
	return p.Currency, nil
}

func (r *gormRepository) GetGatewaySubscriptionByRef(gateway, subscriptionRef string) (*models.GatewaySubscription, error) {
	var gs models.GatewaySubscription
	err := r.db.Preload("Subscription").Preload("Subscription.PlanCost").
		Where("gateway = ? AND subscription_ref = ?", gateway, subscriptionRef).
		First(&gs).Error
	if err != nil {
		return nil, err
	}
	return &gs, nil
}

func (r *gormRepository) GetGatewaySubscriptionForLocal(gateway string, subscriptionID uint) (*models.GatewaySubscription, error) {
	var gs models.GatewaySubscription
	err := r.db.Where("gateway = ? AND subscription_id = ?", gateway, subscriptionID).
		First(&gs).Error
	if err != nil {
		return nil, err
	}
	return &gs, nil
}

func (r *gormRepository) SaveGatewaySubscription(gs *models.GatewaySubscription) error {
	return r.db.Omit("Subscription").Save(gs).Error
}

func (r *gormRepository) GetGatewayPlan(gateway string, planID uint) (*models.GatewayPlan, error) {
	var gp models.GatewayPlan
	err := r.db.Where("gateway = ? AND plan_id = ?", gateway, planID).First(&gp).Error
	if err != nil {
		return nil, err
	}
	return &gp, nil
}

func (r *gormRepository) SaveGatewayPlan(gp *models.GatewayPlan) error {
	return r.db.Omit("Plan").Save(gp).Error
}

func (r *gormRepository) GetGatewayCost(gateway string, costID uint) (*models.GatewayCost, error) {
	var gc models.GatewayCost
	err := r.db.Where("gateway = ? AND cost_id = ?", gateway, costID).First(&gc).Error
	if err != nil {
		return nil, err
	}
	return &gc, nil
}

func (r *gormRepository) SaveGatewayCost(gc *models.GatewayCost) error {
	return r.db.Omit("Cost").Save(gc).Error
}

func (r *gormRepository) GetGatewayCustomer(gateway string, userID uint) (*models.GatewayCustomer, error) {
	var gc models.GatewayCustomer
	err := r.db.Where("gateway = ? AND user_id = ?", gateway, userID).First(&gc).Error
	if err != nil {
		return nil, err
	}
	return &gc, nil
}

func (r *gormRepository) SaveGatewayCustomer(gc *models.GatewayCustomer) error {
	return r.db.Save(gc).Error
}

func (r *gormRepository) CreateWebhookEventIfNotExists(event *models.GatewayWebhookEvent) (bool, *models.GatewayWebhookEvent, error) {
	tx := r.db.Where("gateway = ? AND provider_event_id = ?", event.Gateway, event.ProviderEventID).
		FirstOrCreate(event)
	if tx.Error != nil {
		return false, nil, tx.Error
	}
	return tx.RowsAffected > 0, event, nil
}

func (r *gormRepository) MarkWebhookProcessed(id uint, processingError string) error {
	now := time.Now()
	updates := map[string]interface{}{
		"processed_at":     &now,
		"processing_error": processingError,
	}
	return r.db.Model(&models.GatewayWebhookEvent{}).Where("id = ?", id).Updates(updates).Error
}

func (r *gormRepository) Transaction(fn func(Repository) error) error {
	return r.db.Transaction(func(tx *gorm.DB) error {
		return fn(&gormRepository{db: tx})
	})
}

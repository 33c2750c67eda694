package billing

import (
	"sort"
	"time"

	"gorm.io/gorm"

	"github.com/altpay/saasbilling/app/models"
)

// fakeRepository is an in-memory Repository for tests. Transactions are not
// rolled back; tests that need failure isolation assert on state directly.
type fakeRepository struct {
	users         map[uint]*models.User
	costs         map[uint]*models.PlanCost
	subs          map[uint]*models.UserSubscription
	txs           map[uint]*models.SubscriptionTransaction
	payments      map[uint]*models.CryptoPayment
	gatewaySubs   map[uint]*models.GatewaySubscription
	gatewayPlans  map[uint]*models.GatewayPlan
	gatewayCosts  map[uint]*models.GatewayCost
	gatewayCusts  map[uint]*models.GatewayCustomer
	webhookEvents map[uint]*models.GatewayWebhookEvent

	nextID uint
}

func newFakeRepository() *fakeRepository {
	return &fakeRepository{
		users:         make(map[uint]*models.User),
		costs:         make(map[uint]*models.PlanCost),
		subs:          make(map[uint]*models.UserSubscription),
		txs:           make(map[uint]*models.SubscriptionTransaction),
		payments:      make(map[uint]*models.CryptoPayment),
		gatewaySubs:   make(map[uint]*models.GatewaySubscription),
		gatewayPlans:  make(map[uint]*models.GatewayPlan),
		gatewayCosts:  make(map[uint]*models.GatewayCost),
		gatewayCusts:  make(map[uint]*models.GatewayCustomer),
		webhookEvents: make(map[uint]*models.GatewayWebhookEvent),
	}
}

func (f *fakeRepository) id() uint {
	f.nextID++
	return f.nextID
}

func (f *fakeRepository) addUser(u *models.User) *models.User {
	if u.ID == 0 {
		u.ID = f.id()
	}
	f.users[u.ID] = u
	return u
}

func (f *fakeRepository) addCost(c *models.PlanCost) *models.PlanCost {
	if c.ID == 0 {
		c.ID = f.id()
	}
	f.costs[c.ID] = c
	return c
}

func (f *fakeRepository) GetUser(id uint) (*models.User, error) {
	u, ok := f.users[id]
	if !ok {
		return nil, gorm.ErrRecordNotFound
	}
	return u, nil
}

func (f *fakeRepository) GetUserByAPIKeyHash(hash string) (*models.User, error) {
	for _, u := range f.users {
		if u.APIKeyHash == hash {
			return u, nil
		}
	}
	return nil, gorm.ErrRecordNotFound
}

func (f *fakeRepository) GetPlanCost(id uint) (*models.PlanCost, error) {
	c, ok := f.costs[id]
	if !ok {
		return nil, gorm.ErrRecordNotFound
	}
	return c, nil
}

func (f *fakeRepository) ListPlans() ([]models.SubscriptionPlan, error) {
	seen := make(map[uint]*models.SubscriptionPlan)
	var out []models.SubscriptionPlan
	for _, c := range f.costs {
		if c.Plan == nil {
			continue
		}
		if _, ok := seen[c.Plan.ID]; ok {
			continue
		}
		seen[c.Plan.ID] = c.Plan
		plan := *c.Plan
		out = append(out, plan)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (f *fakeRepository) GetSubscription(id uint) (*models.UserSubscription, error) {
	s, ok := f.subs[id]
	if !ok {
		return nil, gorm.ErrRecordNotFound
	}
	if s.PlanCost == nil {
		s.PlanCost = f.costs[s.PlanCostID]
	}
	return s, nil
}

func (f *fakeRepository) SaveSubscription(sub *models.UserSubscription) error {
	if sub.ID == 0 {
		sub.ID = f.id()
	}
	f.subs[sub.ID] = sub
	return nil
}

func (f *fakeRepository) sortedSubs() []*models.UserSubscription {
	out := make([]*models.UserSubscription, 0, len(f.subs))
	for _, s := range f.subs {
		out = append(out, s)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func (f *fakeRepository) ListActiveSubscriptions(userID uint) ([]models.UserSubscription, error) {
	var out []models.UserSubscription
	for _, s := range f.sortedSubs() {
		if s.UserID == userID && s.Active {
			out = append(out, *s)
		}
	}
	return out, nil
}

func (f *fakeRepository) FindSubscriptionByUserAndCost(userID, costID uint) (*models.UserSubscription, error) {
	subs := f.sortedSubs()
	for i := len(subs) - 1; i >= 0; i-- {
		if subs[i].UserID == userID && subs[i].PlanCostID == costID {
			return subs[i], nil
		}
	}
	return nil, gorm.ErrRecordNotFound
}

func excludedRef(ref string, excluded []string) bool {
	for _, e := range excluded {
		if ref == e {
			return true
		}
	}
	return false
}

func (f *fakeRepository) ListExpiredSubscriptions(now time.Time, excludedRefs []string) ([]models.UserSubscription, error) {
	var out []models.UserSubscription
	for _, s := range f.sortedSubs() {
		if !s.Active || s.Cancelled || s.DateBillingEnd == nil {
			continue
		}
		if s.DateBillingEnd.After(now) || excludedRef(s.Reference, excludedRefs) {
			continue
		}
		out = append(out, *s)
	}
	return out, nil
}

func (f *fakeRepository) ListDueSubscriptions(cutoff time.Time, excludedRefs []string) ([]models.UserSubscription, error) {
	var out []models.UserSubscription
	for _, s := range f.sortedSubs() {
		if !s.Active || s.Cancelled || s.Due || s.DateBillingNext == nil {
			continue
		}
		if s.DateBillingNext.After(cutoff) || excludedRef(s.Reference, excludedRefs) {
			continue
		}
		out = append(out, *s)
	}
	return out, nil
}

func (f *fakeRepository) GetTransaction(id uint) (*models.SubscriptionTransaction, error) {
	t, ok := f.txs[id]
	if !ok {
		return nil, gorm.ErrRecordNotFound
	}
	return t, nil
}

func (f *fakeRepository) GetTransactionByUUID(uuid string) (*models.SubscriptionTransaction, error) {
	for _, t := range f.txs {
		if t.UUID == uuid {
			return t, nil
		}
	}
	return nil, gorm.ErrRecordNotFound
}

func (f *fakeRepository) SaveTransaction(tx *models.SubscriptionTransaction) error {
	if tx.ID == 0 {
		tx.ID = f.id()
	}
	f.txs[tx.ID] = tx
	return nil
}

func (f *fakeRepository) sortedTxs() []*models.SubscriptionTransaction {
	out := make([]*models.SubscriptionTransaction, 0, len(f.txs))
	for _, t := range f.txs {
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func (f *fakeRepository) ListUserTransactions(userID uint) ([]models.SubscriptionTransaction, error) {
	var out []models.SubscriptionTransaction
	txs := f.sortedTxs()
	for i := len(txs) - 1; i >= 0; i-- {
		if txs[i].UserID == userID {
			out = append(out, *txs[i])
		}
	}
	return out, nil
}

func (f *fakeRepository) ListCreditTransactions(userID uint) ([]models.SubscriptionTransaction, error) {
	var out []models.SubscriptionTransaction
	for _, t := range f.sortedTxs() {
		if t.UserID == userID && t.Amount.IsNegative() {
			out = append(out, *t)
		}
	}
	return out, nil
}

func (f *fakeRepository) HasPendingCryptoTransaction(userID uint) (bool, error) {
	for _, p := range f.payments {
		if p.UserID != userID {
			continue
		}
		if p.Status != models.PaymentStatusNew && p.Status != models.PaymentStatusProcessing {
			continue
		}
		if t, ok := f.txs[p.TransactionID]; ok && t.Amount.IsPositive() {
			return true, nil
		}
	}
	return false, nil
}

func (f *fakeRepository) GetPaymentByUUID(uuid string) (*models.CryptoPayment, error) {
	for _, p := range f.payments {
		if p.UUID == uuid {
			return p, nil
		}
	}
	return nil, gorm.ErrRecordNotFound
}

func (f *fakeRepository) SavePayment(payment *models.CryptoPayment) error {
	if payment.ID == 0 {
		payment.ID = f.id()
	}
	f.payments[payment.ID] = payment
	return nil
}

func (f *fakeRepository) ListPaymentsForTransaction(transactionID uint) ([]models.CryptoPayment, error) {
	var out []models.CryptoPayment
	ids := make([]uint, 0, len(f.payments))
	for id := range f.payments {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	for _, id := range ids {
		if f.payments[id].TransactionID == transactionID {
			out = append(out, *f.payments[id])
		}
	}
	return out, nil
}

func (f *fakeRepository) LastCryptoCurrency(userID uint) (string, error) {
	var last *models.CryptoPayment
	for _, p := range f.payments {
		if p.UserID != userID {
			continue
		}
		if last == nil || p.ID > last.ID {
			last = p
		}
	}
	if last == nil {
		return "", gorm.ErrRecordNotFound
	}
	return last.Currency, nil
}

func (f *fakeRepository) GetGatewaySubscriptionByRef(gateway, subscriptionRef string) (*models.GatewaySubscription, error) {
	for _, gs := range f.gatewaySubs {
		if gs.Gateway == gateway && gs.SubscriptionRef == subscriptionRef {
			if gs.Subscription == nil {
				gs.Subscription = f.subs[gs.SubscriptionID]
			}
			return gs, nil
		}
	}
	return nil, gorm.ErrRecordNotFound
}

func (f *fakeRepository) GetGatewaySubscriptionForLocal(gateway string, subscriptionID uint) (*models.GatewaySubscription, error) {
	for _, gs := range f.gatewaySubs {
		if gs.Gateway == gateway && gs.SubscriptionID == subscriptionID {
			return gs, nil
		}
	}
	return nil, gorm.ErrRecordNotFound
}

func (f *fakeRepository) SaveGatewaySubscription(gs *models.GatewaySubscription) error {
	if gs.ID == 0 {
		gs.ID = f.id()
	}
	f.gatewaySubs[gs.ID] = gs
	return nil
}

func (f *fakeRepository) GetGatewayPlan(gateway string, planID uint) (*models.GatewayPlan, error) {
	for _, gp := range f.gatewayPlans {
		if gp.Gateway == gateway && gp.PlanID == planID {
			return gp, nil
		}
	}
	return nil, gorm.ErrRecordNotFound
}

func (f *fakeRepository) SaveGatewayPlan(gp *models.GatewayPlan) error {
	if gp.ID == 0 {
		gp.ID = f.id()
	}
	f.gatewayPlans[gp.ID] = gp
	return nil
}

func (f *fakeRepository) GetGatewayCost(gateway string, costID uint) (*models.GatewayCost, error) {
	for _, gc := range f.gatewayCosts {
		if gc.Gateway == gateway && gc.CostID == costID {
			return gc, nil
		}
	}
	return nil, gorm.ErrRecordNotFound
}

func (f *fakeRepository) SaveGatewayCost(gc *models.GatewayCost) error {
	if gc.ID == 0 {
		gc.ID = f.id()
	}
	f.gatewayCosts[gc.ID] = gc
	return nil
}

func (f *fakeRepository) GetGatewayCustomer(gateway string, userID uint) (*models.GatewayCustomer, error) {
	for _, gc := range f.gatewayCusts {
		if gc.Gateway == gateway && gc.UserID == userID {
			return gc, nil
		}
	}
	return nil, gorm.ErrRecordNotFound
}

func (f *fakeRepository) SaveGatewayCustomer(gc *models.GatewayCustomer) error {
	if gc.ID == 0 {
		gc.ID = f.id()
	}
	f.gatewayCusts[gc.ID] = gc
	return nil
}

func (f *fakeRepository) CreateWebhookEventIfNotExists(event *models.GatewayWebhookEvent) (bool, *models.GatewayWebhookEvent, error) {
	for _, e := range f.webhookEvents {
		if e.Gateway == event.Gateway && e.ProviderEventID == event.ProviderEventID {
			return false, e, nil
		}
	}
	if event.ID == 0 {
		event.ID = f.id()
	}
	f.webhookEvents[event.ID] = event
	return true, event, nil
}

func (f *fakeRepository) MarkWebhookProcessed(id uint, processingError string) error {
	e, ok := f.webhookEvents[id]
	if !ok {
		return gorm.ErrRecordNotFound
	}
	now := time.Now()
	e.ProcessedAt = &now
	e.ProcessingError = processingError
	return nil
}

func (f *fakeRepository) Transaction(fn func(Repository) error) error {
	return fn(f)
}

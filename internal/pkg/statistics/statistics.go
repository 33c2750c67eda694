package statistics

import (
	"log"
	"strconv"
	"sync"
	"time"

	"github.com/altpay/saasbilling/app/models"
	"github.com/altpay/saasbilling/internal/pkg/cache"
	"github.com/altpay/saasbilling/internal/pkg/database"
)

const (
	CacheKeyActiveSubs   = "statistics:subscriptions:active"
	CacheKeyDueSubs      = "statistics:subscriptions:due"
	CacheKeyOpenPayments = "statistics:payments:open"
	CacheKeyUsers        = "statistics:users:total"
	CacheExpiration      = 30 * time.Minute
)

// StatisticsData sind die aggregierten Abrechnungszahlen fuer /stats
type StatisticsData struct {
	ActiveSubscriptions int `json:"active_subscriptions"`
	DueSubscriptions    int `json:"due_subscriptions"`
	OpenPayments        int `json:"open_payments"`
	TotalUsers          int `json:"total_users"`
}

var (
	lastCacheUpdate     time.Time
	cacheUpdateMutex    sync.Mutex
	cacheUpdateInterval = 5 * time.Minute
)

func shouldUpdateCache() bool {
	cacheUpdateMutex.Lock()
	defer cacheUpdateMutex.Unlock()
	return time.Since(lastCacheUpdate) > cacheUpdateInterval
}

// UpdateCacheIfNeeded aktualisiert den Cache, wenn noetig
func UpdateCacheIfNeeded() {
	if shouldUpdateCache() {
		cacheUpdateMutex.Lock()
		defer cacheUpdateMutex.Unlock()

		if err := UpdateStatisticsCache(); err != nil {
			log.Printf("Fehler beim Aktualisieren des Statistik-Caches: %v", err)
		} else {
			lastCacheUpdate = time.Now()
		}
	}
}

// UpdateStatisticsCache recounts all statistics and stores them in the cache.
func UpdateStatisticsCache() error {
	db := database.GetDB()

	var activeSubs int64
	if err := db.Model(&models.UserSubscription{}).Where("active = ?", true).Count(&activeSubs).Error; err != nil {
		return err
	}

	var dueSubs int64
	if err := db.Model(&models.UserSubscription{}).Where("active = ? AND due = ?", true, true).Count(&dueSubs).Error; err != nil {
		return err
	}

	var openPayments int64
	if err := db.Model(&models.CryptoPayment{}).
		Where("status IN ?", []string{models.PaymentStatusNew, models.PaymentStatusProcessing}).
		Count(&openPayments).Error; err != nil {
		return err
	}

	var totalUsers int64
	if err := db.Model(&models.User{}).Count(&totalUsers).Error; err != nil {
		return err
	}

	for key, value := range map[string]int64{
		CacheKeyActiveSubs:   activeSubs,
		CacheKeyDueSubs:      dueSubs,
		CacheKeyOpenPayments: openPayments,
		CacheKeyUsers:        totalUsers,
	} {
		if err := cache.Set(key, strconv.FormatInt(value, 10), CacheExpiration); err != nil {
			log.Printf("Error caching %s: %v", key, err)
			return err
		}
	}

	return nil
}

func cachedCount(key string) int {
	val, err := cache.Get(key)
	if err != nil {
		return 0
	}
	count, err := strconv.ParseInt(val, 10, 64)
	if err != nil {
		return 0
	}
	return int(count)
}

// GetStatisticsData returns the cached billing aggregates, refreshing the
// cache first when it has gone stale.
func GetStatisticsData() StatisticsData {
	UpdateCacheIfNeeded()

	return StatisticsData{
		ActiveSubscriptions: cachedCount(CacheKeyActiveSubs),
		DueSubscriptions:    cachedCount(CacheKeyDueSubs),
		OpenPayments:        cachedCount(CacheKeyOpenPayments),
		TotalUsers:          cachedCount(CacheKeyUsers),
	}
}

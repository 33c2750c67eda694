package cache

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/altpay/saasbilling/internal/pkg/env"
	"github.com/redis/go-redis/v9"
)

var (
	client *redis.Client
	ctx    = context.Background()
)

// SetupCache initializes the Redis connection. The cache holds the
// gateway-customer-id mapping and the last cryptocurrency a user paid with;
// both are recoverable from the database, so a cold cache is never fatal.
func SetupCache() {
	host := env.GetEnv("CACHE_HOST", "localhost")
	port := env.GetEnv("CACHE_PORT", "6379")

	client = redis.NewClient(&redis.Options{
		Addr:     fmt.Sprintf("%s:%s", host, port),
		Password: "",
		DB:       0,
	})

	pong, err := client.Ping(ctx).Result()
	if err != nil {
		log.Printf("Warning: Could not connect to cache: %v", err)
	} else {
		log.Printf("Successfully connected to cache: %s", pong)
	}
}

// GetClient returns the Redis client instance
func GetClient() *redis.Client {
	if client == nil {
		SetupCache()
	}
	return client
}

// Set stores a value in the cache with the given key and expiration time
func Set(key string, value interface{}, expiration time.Duration) error {
	return GetClient().Set(ctx, key, value, expiration).Err()
}

// Get retrieves a value from the cache by key
func Get(key string) (string, error) {
	return GetClient().Get(ctx, key).Result()
}

// Delete removes a value from the cache by key
func Delete(key string) error {
	return GetClient().Del(ctx, key).Err()
}

// CustomerKey is the cache key for a user's gateway customer id.
func CustomerKey(gateway string, userID uint) string {
	return fmt.Sprintf("billing:customer:%s:%d", gateway, userID)
}

// LastCryptoKey is the cache key for the last currency a user paid with.
func LastCryptoKey(userID uint) string {
	return fmt.Sprintf("billing:last_crypto:%d", userID)
}

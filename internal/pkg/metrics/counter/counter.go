package counter

import (
	"context"
	"strconv"

	"github.com/altpay/saasbilling/internal/pkg/cache"
)

const (
	webhooksReceivedKey = "billing:counters:webhooks:received"
	webhooksRejectedKey = "billing:counters:webhooks:rejected"
	paymentCallbacksKey = "billing:counters:payments:callbacks"
)

// AddWebhookReceived increments the received counter for a gateway in Redis
func AddWebhookReceived(gateway string) error {
	ctx := context.Background()
	return cache.GetClient().HIncrBy(ctx, webhooksReceivedKey, gateway, 1).Err()
}

// AddWebhookRejected increments the rejected counter for a gateway. Rejected
// deliveries failed signature verification or carried a malformed payload.
func AddWebhookRejected(gateway string) error {
	ctx := context.Background()
	return cache.GetClient().HIncrBy(ctx, webhooksRejectedKey, gateway, 1).Err()
}

// AddPaymentCallback increments the processor callback counter per status
func AddPaymentCallback(status string) error {
	ctx := context.Background()
	return cache.GetClient().HIncrBy(ctx, paymentCallbacksKey, status, 1).Err()
}

// Snapshot returns all counters, grouped by counter name then field.
func Snapshot() (map[string]map[string]int64, error) {
	ctx := context.Background()
	rdb := cache.GetClient()

	out := make(map[string]map[string]int64, 3)
	for name, key := range map[string]string{
		"webhooks_received": webhooksReceivedKey,
		"webhooks_rejected": webhooksRejectedKey,
		"payment_callbacks": paymentCallbacksKey,
	} {
		data, err := rdb.HGetAll(ctx, key).Result()
		if err != nil {
			return nil, err
		}
		fields := make(map[string]int64, len(data))
		for field, raw := range data {
			n, perr := strconv.ParseInt(raw, 10, 64)
			if perr != nil {
				continue
			}
			fields[field] = n
		}
		out[name] = fields
	}
	return out, nil
}

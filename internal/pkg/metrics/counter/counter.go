package counter

import (
	"context"
	"strconv"

	"github.com/zuri-app/zuri/internal/pkg/cache"
)

const webhookOutcomesKey = "webhook:counters:outcomes"

// AddWebhookOutcome increments the delivery counter for a reconciler outcome
// (applied, duplicate, orphan, stale, ignored, failed) in Redis.
func AddWebhookOutcome(outcome string) error {
	ctx := context.Background()
	return cache.GetClient().HIncrBy(ctx, webhookOutcomesKey, outcome, 1).Err()
}

// WebhookOutcomeTotals returns the accumulated per-outcome delivery counts.
func WebhookOutcomeTotals() (map[string]int64, error) {
	ctx := context.Background()
	raw, err := cache.GetClient().HGetAll(ctx, webhookOutcomesKey).Result()
	if err != nil {
		return nil, err
	}

	totals := make(map[string]int64, len(raw))
	for outcome, value := range raw {
		n, err := strconv.ParseInt(value, 10, 64)
		if err != nil {
			continue
		}
		totals[outcome] = n
	}
	return totals, nil
}

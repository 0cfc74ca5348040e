package billing

import (
	"strings"

	"github.com/zuri-app/zuri/app/models"
	"github.com/zuri-app/zuri/internal/pkg/entitlements"
)

func normalizePlan(plan string) string {
	return string(entitlements.Normalize(plan))
}

func normalizeStatus(status string) string {
	s := strings.ToLower(strings.TrimSpace(status))
	if s == "" {
		return models.SubscriptionStatusActive
	}
	return s
}

func isEntitlingStatus(status string) bool {
	switch strings.ToLower(strings.TrimSpace(status)) {
	case models.SubscriptionStatusActive, models.SubscriptionStatusTrialing, models.SubscriptionStatusPastDue:
		return true
	default:
		return false
	}
}

// bestEntitledPlan derives a user's effective plan from their subscriptions:
// the highest-ranked plan among entitling subscriptions, free when none
// entitle. This is the single source of truth for User.Plan.
func bestEntitledPlan(subs []models.Subscription) string {
	best := string(entitlements.PlanFree)
	for _, sub := range subs {
		if !isEntitlingStatus(sub.Status) {
			continue
		}
		candidate := normalizePlan(sub.Plan)
		if entitlements.Rank(entitlements.Plan(candidate)) > entitlements.Rank(entitlements.Plan(best)) {
			best = candidate
		}
	}
	return best
}

// bestEntitledPlanWith derives the effective plan as bestEntitledPlan would
// after the given subscription state lands, replacing any stored row for the
// same provider subscription.
func bestEntitledPlanWith(updated *models.Subscription, subs []models.Subscription) string {
	merged := make([]models.Subscription, 0, len(subs)+1)
	replaced := false
	for _, sub := range subs {
		if sub.Provider == updated.Provider && sub.ProviderSubscriptionID == updated.ProviderSubscriptionID {
			merged = append(merged, *updated)
			replaced = true
			continue
		}
		merged = append(merged, sub)
	}
	if !replaced {
		merged = append(merged, *updated)
	}
	return bestEntitledPlan(merged)
}

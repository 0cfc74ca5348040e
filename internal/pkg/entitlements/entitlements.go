package entitlements

import "strings"

type Plan string

const (
	PlanFree    Plan = "free"
	PlanPro     Plan = "pro"
	PlanPremium Plan = "premium"
)

// Unlimited marks a quota without a monthly cap.
const Unlimited = -1

// PlanInfo is the public catalog entry for one plan tier.
type PlanInfo struct {
	Plan             Plan     `json:"plan"`
	Name             string   `json:"name"`
	MonthlyPriceBRL  float64  `json:"monthly_price_brl"`
	MessagesPerMonth int      `json:"messages_per_month"`
	Transcription    bool     `json:"transcription"`
	Features         []string `json:"features"`
}

var catalog = []PlanInfo{
	{
		Plan:             PlanFree,
		Name:             "Gratuito",
		MonthlyPriceBRL:  0,
		MessagesPerMonth: 10,
		Transcription:    false,
		Features:         []string{"10 mensagens por mês", "Suporte básico", "Acesso limitado"},
	},
	{
		Plan:             PlanPro,
		Name:             "Pro",
		MonthlyPriceBRL:  29.90,
		MessagesPerMonth: 500,
		Transcription:    true,
		Features:         []string{"500 mensagens por mês", "Transcrição de áudio", "Suporte prioritário", "Histórico completo"},
	},
	{
		Plan:             PlanPremium,
		Name:             "Premium",
		MonthlyPriceBRL:  79.90,
		MessagesPerMonth: Unlimited,
		Transcription:    true,
		Features:         []string{"Mensagens ilimitadas", "Transcrição ilimitada", "Suporte VIP 24/7", "API personalizada", "Análises avançadas"},
	},
}

// Catalog returns all plan tiers in ascending rank order.
func Catalog() []PlanInfo {
	out := make([]PlanInfo, len(catalog))
	copy(out, catalog)
	return out
}

// Lookup resolves a plan name to its catalog entry. Unknown names miss
// instead of falling back to free.
func Lookup(plan string) (PlanInfo, bool) {
	p := strings.ToLower(strings.TrimSpace(plan))
	for _, info := range catalog {
		if string(info.Plan) == p {
			return info, true
		}
	}
	return PlanInfo{}, false
}

// Normalize maps arbitrary plan strings onto a known plan, defaulting to free.
func Normalize(plan string) Plan {
	switch strings.ToLower(strings.TrimSpace(plan)) {
	case string(PlanPro):
		return PlanPro
	case string(PlanPremium):
		return PlanPremium
	default:
		return PlanFree
	}
}

// Rank orders plans by entitlement level, free lowest.
func Rank(plan Plan) int {
	switch plan {
	case PlanPremium:
		return 2
	case PlanPro:
		return 1
	default:
		return 0
	}
}

// MessageQuota returns the monthly chat message allowance for a plan.
// Unlimited is returned for plans without a cap.
func MessageQuota(plan Plan) int {
	if info, ok := Lookup(string(plan)); ok {
		return info.MessagesPerMonth
	}
	return 10
}

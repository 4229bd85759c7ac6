/**
 * @description
 * This file maps subscription tiers to daily resource quotas. The free tier's
 * limits come from configuration; premium and family are unlimited on every
 * gated resource. Study time is never gated, so it has no quota entry.
 */
package app

import "github.com/tutorhub/usage-service/internal/domain"

// PlanQuotas resolves a plan tier into its per-resource daily quotas.
type PlanQuotas struct {
	freeAIQueries int64
	freeTests     int64
}

// NewPlanQuotas builds the tier-to-quota mapping from the configured free-tier
// limits.
func NewPlanQuotas(freeAIQueries, freeTests int64) PlanQuotas {
	return PlanQuotas{freeAIQueries: freeAIQueries, freeTests: freeTests}
}

// For returns the entitlements a plan grants.
func (p PlanQuotas) For(plan domain.PlanTier) domain.Entitlements {
	switch plan {
	case domain.PlanPremium, domain.PlanFamily:
		return domain.NewEntitlements(plan, map[domain.ResourceType]domain.Quota{
			domain.ResourceAIQuery:        domain.UnlimitedQuota(),
			domain.ResourceTestGeneration: domain.UnlimitedQuota(),
		})
	default:
		return domain.NewEntitlements(domain.PlanFree, map[domain.ResourceType]domain.Quota{
			domain.ResourceAIQuery:        domain.LimitedQuota(p.freeAIQueries),
			domain.ResourceTestGeneration: domain.LimitedQuota(p.freeTests),
		})
	}
}

// UpgradeHint names the cheapest tier that removes the daily limit. Surfaced
// alongside quota denials.
func (p PlanQuotas) UpgradeHint() domain.PlanTier {
	return domain.PlanPremium
}

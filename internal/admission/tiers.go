package admission

import "github.com/tradepost/tradepost-messaging/internal/models"

// Unlimited is the sentinel for tiers without a daily ceiling. It is never a
// "large number" — callers must check for it explicitly.
const Unlimited = -1

// Limits are the per-tier daily quotas and content-size ceiling.
type Limits struct {
	MessagesPerDay int
	ThreadsPerDay  int
	MaxContentLen  int
}

var tierTable = map[models.Tier]Limits{
	models.TierFree:       {MessagesPerDay: 10, ThreadsPerDay: 3, MaxContentLen: 500},
	models.TierStarter:    {MessagesPerDay: 50, ThreadsPerDay: 10, MaxContentLen: 2000},
	models.TierPro:        {MessagesPerDay: Unlimited, ThreadsPerDay: Unlimited, MaxContentLen: 10000},
	models.TierEnterprise: {MessagesPerDay: Unlimited, ThreadsPerDay: Unlimited, MaxContentLen: 50000},
}

// LimitsFor returns the quota table entry for a tier. Unknown tiers fall back
// to free, the most restrictive.
func LimitsFor(tier models.Tier) Limits {
	if l, ok := tierTable[tier]; ok {
		return l
	}
	return tierTable[models.TierFree]
}

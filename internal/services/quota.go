package services

import (
	"time"

	"github.com/stylistio/tryon-backend/internal/types"
)

type QuotaSnapshot struct {
	Total     int        `json:"total"`
	Used      int        `json:"used"`
	Remaining int        `json:"remaining"`
	RenewsAt  *time.Time `json:"renews_at,omitempty"`
}

// QuotaRemaining computes the remaining free allowance from a profile
// snapshot. The check-then-increment window is not transactional; under
// concurrent submissions a user can exceed quota by one at the margin.
func QuotaRemaining(p *types.Profile) int {
	if p == nil {
		return 0
	}
	remaining := p.FreeGenerationTotal - p.FreeGenerationUsed
	if remaining < 0 {
		return 0
	}
	return remaining
}

func BuildQuotaSnapshot(p *types.Profile) QuotaSnapshot {
	if p == nil {
		return QuotaSnapshot{}
	}
	return QuotaSnapshot{
		Total:     p.FreeGenerationTotal,
		Used:      p.FreeGenerationUsed,
		Remaining: QuotaRemaining(p),
		RenewsAt:  p.QuotaRenewsAt,
	}
}

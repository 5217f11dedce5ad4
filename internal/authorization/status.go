package authorization

import (
	"time"

	"github.com/sheikh-saqib/budget-compliance-engine/internal/models"
	"github.com/shopspring/decimal"
)

const ExpiryWindow = 48 * time.Hour

// Level2Threshold is the requested amount above which a second approval
// level is required.
var Level2Threshold = decimal.NewFromInt(50_000_000)

func RequiredLevel(amount decimal.Decimal) int {
	if amount.GreaterThan(Level2Threshold) {
		return 2
	}
	return 1
}

// EffectiveStatus is the status every reader must use: a PENDING request
// past its expiry reads as EXPIRED whatever storage says.
func EffectiveStatus(a models.SpendingAuthorization, now time.Time) models.AuthorizationStatus {
	if a.Status == models.AuthorizationPending && now.After(a.ExpiresAt) {
		return models.AuthorizationExpired
	}
	return a.Status
}

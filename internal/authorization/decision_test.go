package authorization

import (
	"errors"
	"testing"
	"time"

	"github.com/sheikh-saqib/budget-compliance-engine/internal/availability"
	"github.com/sheikh-saqib/budget-compliance-engine/internal/models"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
)

func d(v string) decimal.Decimal { return decimal.RequireFromString(v) }

func TestDecide_ThresholdBoundaries(t *testing.T) {
	snap := availability.Compute(d("100"), d("0"), d("70"))
	policy := availability.BudgetPolicy{WarningThreshold: d("80"), BlockThreshold: d("100"), AllowOverride: true}

	ok := Decide(snap, d("5"), policy)
	assert.Equal(t, StatusOK, ok.Status)
	assert.True(t, ok.Allowed)
	assert.False(t, ok.RequiresApproval)
	assert.True(t, ok.NewUtilization.Equal(d("75")))

	warn := Decide(snap, d("15"), policy)
	assert.Equal(t, StatusWarning, warn.Status)
	assert.True(t, warn.Allowed)
	assert.False(t, warn.RequiresApproval)
	assert.True(t, warn.NewUtilization.Equal(d("85")))
	assert.NotEmpty(t, warn.Message)

	over := Decide(snap, d("35"), policy)
	assert.Equal(t, StatusOverBudget, over.Status)
	assert.False(t, over.Allowed)
	assert.True(t, over.RequiresApproval)
	assert.Equal(t, models.ApprovalBudgetOverride, over.ApprovalType)
	assert.True(t, over.OverAmount.Equal(d("5")))
	assert.True(t, over.NewUtilization.Equal(d("105")))
	assert.Contains(t, over.Message, "5.00")
	assert.NoError(t, over.Err())
}

func TestDecide_ThresholdExceeded(t *testing.T) {
	snap := availability.Compute(d("100"), d("10"), d("70"))
	policy := availability.BudgetPolicy{WarningThreshold: d("80"), BlockThreshold: d("95"), AllowOverride: false}

	got := Decide(snap, d("18"), policy)
	assert.Equal(t, StatusThresholdExceeded, got.Status)
	assert.False(t, got.Allowed)
	assert.True(t, got.RequiresApproval)
	assert.Equal(t, models.ApprovalBudgetThreshold, got.ApprovalType)
	assert.NoError(t, got.Err())

	// spending exactly the available amount hits a 100% block threshold
	got = Decide(snap, d("20"), availability.DefaultPolicy)
	assert.Equal(t, StatusThresholdExceeded, got.Status)
}

func TestDecide_OverBudgetWithoutOverrideIsBlocked(t *testing.T) {
	snap := availability.Compute(d("100"), d("0"), d("70"))
	policy := availability.BudgetPolicy{WarningThreshold: d("80"), BlockThreshold: d("100"), AllowOverride: false}

	got := Decide(snap, d("35"), policy)
	assert.Equal(t, StatusOverBudget, got.Status)
	assert.False(t, got.Allowed)
	assert.False(t, got.RequiresApproval)
	assert.Empty(t, got.ApprovalType)
	assert.True(t, errors.Is(got.Err(), models.ErrBudgetBlocked))
}

func TestDecide_NoBudget(t *testing.T) {
	got := Decide(availability.Snapshot{}, d("1"), availability.DefaultPolicy)
	assert.Equal(t, StatusNoBudget, got.Status)
	assert.False(t, got.Allowed)
	assert.False(t, got.RequiresApproval)
	assert.True(t, errors.Is(got.Err(), models.ErrBudgetBlocked))
}

func TestRequiredLevel(t *testing.T) {
	assert.Equal(t, 1, RequiredLevel(d("1000")))
	assert.Equal(t, 1, RequiredLevel(d("50000000")))
	assert.Equal(t, 2, RequiredLevel(d("50000000.01")))
}

func TestEffectiveStatus(t *testing.T) {
	expires := time.Date(2025, 5, 3, 12, 0, 0, 0, time.UTC)
	a := models.SpendingAuthorization{Status: models.AuthorizationPending, ExpiresAt: expires}

	assert.Equal(t, models.AuthorizationPending, EffectiveStatus(a, expires))
	assert.Equal(t, models.AuthorizationExpired, EffectiveStatus(a, expires.Add(time.Nanosecond)))

	a.Status = models.AuthorizationApproved
	assert.Equal(t, models.AuthorizationApproved, EffectiveStatus(a, expires.Add(time.Hour)))
}

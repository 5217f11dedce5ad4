package availability

import (
	"context"
	"errors"
	"fmt"

	interfaces "github.com/sheikh-saqib/budget-compliance-engine/internal/interfaces"
	"github.com/sheikh-saqib/budget-compliance-engine/internal/models"
	"github.com/shopspring/decimal"
)

// BudgetPolicy holds the thresholds, in percent of allocation, that the
// spending decision compares post-spend utilization against.
type BudgetPolicy struct {
	WarningThreshold decimal.Decimal `json:"warning_threshold"`
	BlockThreshold   decimal.Decimal `json:"block_threshold"`
	AllowOverride    bool            `json:"allow_override"`
}

// DefaultPolicy applies when a fiscal year has no period rows.
var DefaultPolicy = BudgetPolicy{
	WarningThreshold: decimal.NewFromInt(80),
	BlockThreshold:   decimal.NewFromInt(100),
	AllowOverride:    true,
}

// PolicyResolver reads the policy of a fiscal year and company from the
// period store. The first period row of the year carries it.
type PolicyResolver struct {
	store interfaces.PeriodStore
}

func NewPolicyResolver(store interfaces.PeriodStore) *PolicyResolver {
	return &PolicyResolver{store: store}
}

func (r *PolicyResolver) Resolve(ctx context.Context, fiscalYear int, companyID string) (BudgetPolicy, error) {
	p, err := r.store.FirstPeriodOfYear(ctx, fiscalYear, companyID)
	if errors.Is(err, models.ErrNotFound) {
		return DefaultPolicy, nil
	}
	if err != nil {
		return BudgetPolicy{}, fmt.Errorf("resolve policy %d@%s: %w", fiscalYear, companyID, err)
	}
	return PolicyFromPeriod(p), nil
}

// PolicyFromPeriod falls back to the default per threshold left at zero.
func PolicyFromPeriod(p models.BudgetPeriod) BudgetPolicy {
	policy := BudgetPolicy{
		WarningThreshold: p.WarningThreshold,
		BlockThreshold:   p.BlockThreshold,
		AllowOverride:    p.AllowOverride,
	}
	if policy.WarningThreshold.IsZero() {
		policy.WarningThreshold = DefaultPolicy.WarningThreshold
	}
	if policy.BlockThreshold.IsZero() {
		policy.BlockThreshold = DefaultPolicy.BlockThreshold
	}
	return policy
}

package authorization

import (
	"fmt"

	"github.com/sheikh-saqib/budget-compliance-engine/internal/availability"
	"github.com/sheikh-saqib/budget-compliance-engine/internal/models"
	"github.com/shopspring/decimal"
)

type DecisionStatus string

const (
	StatusNoBudget          DecisionStatus = "NO_BUDGET"
	StatusOverBudget        DecisionStatus = "OVER_BUDGET"
	StatusThresholdExceeded DecisionStatus = "THRESHOLD_EXCEEDED"
	StatusWarning           DecisionStatus = "WARNING"
	StatusOK                DecisionStatus = "OK"
)

// Decision classifies a prospective spend. It is advisory: the ledger does
// not re-check it.
type Decision struct {
	Status             DecisionStatus            `json:"status"`
	Allowed            bool                      `json:"allowed"`
	RequiresApproval   bool                      `json:"requires_approval"`
	ApprovalType       models.ApprovalType       `json:"approval_type,omitempty"`
	Message            string                    `json:"message"`
	Amount             decimal.Decimal           `json:"amount"`
	Available          decimal.Decimal           `json:"available"`
	OverAmount         decimal.Decimal           `json:"over_amount"`
	CurrentUtilization decimal.Decimal           `json:"current_utilization"`
	NewUtilization     decimal.Decimal           `json:"new_utilization"`
	Policy             availability.BudgetPolicy `json:"policy"`
}

// Err returns models.ErrBudgetBlocked when the spend is refused with no
// approval path, and nil otherwise.
func (d Decision) Err() error {
	if d.Allowed || d.RequiresApproval {
		return nil
	}
	return fmt.Errorf("%s: %w", d.Message, models.ErrBudgetBlocked)
}

// Decide is pure. Checks run in order: missing row, amount above available,
// block threshold, warning threshold.
func Decide(snap availability.Snapshot, amount decimal.Decimal, policy availability.BudgetPolicy) Decision {
	d := Decision{
		Amount:             amount,
		Available:          snap.Available,
		OverAmount:         decimal.Zero,
		CurrentUtilization: snap.UtilizationPercent,
		NewUtilization:     decimal.Zero,
		Policy:             policy,
	}
	if !snap.Found {
		d.Status = StatusNoBudget
		d.Message = "no budget found for this item; spending is not allowed"
		return d
	}

	used := snap.Spent.Add(snap.Committed).Add(amount)
	d.NewUtilization = availability.Utilization(used, snap.Allocated)

	switch {
	case amount.GreaterThan(snap.Available):
		d.Status = StatusOverBudget
		d.OverAmount = amount.Sub(snap.Available)
		if policy.AllowOverride {
			d.RequiresApproval = true
			d.ApprovalType = models.ApprovalBudgetOverride
			d.Message = fmt.Sprintf("amount %s exceeds available budget %s by %s (utilization would be %s%%); override approval required",
				amount.StringFixed(2), snap.Available.StringFixed(2), d.OverAmount.StringFixed(2), d.NewUtilization.StringFixed(2))
		} else {
			d.Message = fmt.Sprintf("amount %s exceeds available budget %s by %s (utilization would be %s%%); overrides are not allowed",
				amount.StringFixed(2), snap.Available.StringFixed(2), d.OverAmount.StringFixed(2), d.NewUtilization.StringFixed(2))
		}
	case d.NewUtilization.GreaterThanOrEqual(policy.BlockThreshold):
		d.Status = StatusThresholdExceeded
		d.RequiresApproval = true
		d.ApprovalType = models.ApprovalBudgetThreshold
		d.Message = fmt.Sprintf("utilization would reach %s%%, at or above the %s%% block threshold; approval required (available %s)",
			d.NewUtilization.StringFixed(2), policy.BlockThreshold.String(), snap.Available.StringFixed(2))
	case d.NewUtilization.GreaterThanOrEqual(policy.WarningThreshold):
		d.Status = StatusWarning
		d.Allowed = true
		d.Message = fmt.Sprintf("utilization would reach %s%%, above the %s%% warning threshold (available %s)",
			d.NewUtilization.StringFixed(2), policy.WarningThreshold.String(), snap.Available.StringFixed(2))
	default:
		d.Status = StatusOK
		d.Allowed = true
		d.Message = fmt.Sprintf("budget available: %s (utilization would be %s%%)",
			snap.Available.StringFixed(2), d.NewUtilization.StringFixed(2))
	}
	return d
}

package alert

import (
	"context"
	"fmt"

	"github.com/sheikh-saqib/budget-compliance-engine/internal/availability"
	"github.com/sheikh-saqib/budget-compliance-engine/internal/config"
	"github.com/sheikh-saqib/budget-compliance-engine/internal/ledger"
	"github.com/sheikh-saqib/budget-compliance-engine/internal/models"
	"github.com/shopspring/decimal"
)

// Monitor raises threshold alerts from the balances recorded on each
// transaction. It skips a target that already has an unresolved alert of
// the same type.
type Monitor struct {
	engine    *Engine
	policies  *availability.PolicyResolver
	companyID string
}

func NewMonitor(engine *Engine, policies *availability.PolicyResolver, companyID string) *Monitor {
	return &Monitor{engine: engine, policies: policies, companyID: companyID}
}

// Classify picks the alert a snapshot deserves, if any.
func Classify(snap availability.Snapshot, policy availability.BudgetPolicy) (models.AlertType, models.Severity, decimal.Decimal, bool) {
	switch {
	case snap.IsOverBudget:
		return models.AlertOverBudget, models.SeverityCritical, decimal.NewFromInt(100), true
	case snap.UtilizationPercent.GreaterThanOrEqual(policy.BlockThreshold):
		return models.AlertBlockThreshold, models.SeverityHigh, policy.BlockThreshold, true
	case snap.UtilizationPercent.GreaterThanOrEqual(policy.WarningThreshold):
		return models.AlertWarningThreshold, models.SeverityMedium, policy.WarningThreshold, true
	}
	return "", "", decimal.Zero, false
}

func (m *Monitor) TransactionRecorded(ctx context.Context, tx models.BudgetTransaction) {
	if err := m.evaluate(ctx, tx); err != nil {
		config.LogError(m.engine.logger, moduleName, "TransactionRecorded", "threshold evaluation failed", tx.ID, err)
	}
}

func (m *Monitor) evaluate(ctx context.Context, tx models.BudgetTransaction) error {
	after := tx.BalancesAfter()
	snap := availability.Compute(after.Allocated, after.Committed, after.Spent)

	policy, err := m.policies.Resolve(ctx, tx.FiscalYear, m.companyID)
	if err != nil {
		return err
	}
	alertType, severity, threshold, ok := Classify(snap, policy)
	if !ok {
		return nil
	}

	existing, err := m.engine.store.ListAlerts(ctx, models.AlertFilter{
		BudgetEstimateID: tx.BudgetEstimateID,
		FundSourceID:     tx.FundSourceID,
		AlertType:        alertType,
		Limit:            1,
	})
	if err != nil {
		return err
	}
	if len(existing) > 0 {
		return nil
	}

	_, err = m.engine.CreateBudgetAlert(ctx, models.SystemActor, CreateParams{
		AlertType:        alertType,
		Severity:         severity,
		BudgetEstimateID: tx.BudgetEstimateID,
		FundSourceID:     tx.FundSourceID,
		FiscalYear:       tx.FiscalYear,
		ThresholdPercent: threshold,
		CurrentPercent:   snap.UtilizationPercent,
		AllocatedAmount:  snap.Allocated,
		CommittedAmount:  snap.Committed,
		SpentAmount:      snap.Spent,
		AvailableAmount:  snap.Available,
		Message:          message(alertType, tx.Target(), snap, threshold),
	})
	return err
}

func message(t models.AlertType, target models.BudgetTarget, snap availability.Snapshot, threshold decimal.Decimal) string {
	if t == models.AlertOverBudget {
		return fmt.Sprintf("%s is over budget by %s (utilization %s%%)",
			target, snap.Available.Neg().StringFixed(2), snap.UtilizationPercent.StringFixed(2))
	}
	return fmt.Sprintf("%s utilization %s%% reached the %s%% threshold (available %s)",
		target, snap.UtilizationPercent.StringFixed(2), threshold.String(), snap.Available.StringFixed(2))
}

var _ ledger.Observer = (*Monitor)(nil)

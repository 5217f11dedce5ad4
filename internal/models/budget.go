package models

import (
	"time"

	"github.com/shopspring/decimal"
)

type BudgetType string

const (
	BudgetTypeRevenue BudgetType = "REVENUE"
	BudgetTypeExpense BudgetType = "EXPENSE"
)

type EstimateStatus string

const (
	EstimateStatusDraft     EstimateStatus = "DRAFT"
	EstimateStatusExecuting EstimateStatus = "EXECUTING"
	EstimateStatusClosed    EstimateStatus = "CLOSED"
)

// FundSource is a named pool of allocated money for a fiscal year.
// RemainingAmount always equals AllocatedAmount - SpentAmount at rest.
type FundSource struct {
	ID              string          `json:"id"`
	Code            string          `json:"code"`
	Name            string          `json:"name"`
	Type            string          `json:"type"`
	FiscalYear      int             `json:"fiscal_year"`
	AllocatedAmount decimal.Decimal `json:"allocated_amount"`
	SpentAmount     decimal.Decimal `json:"spent_amount"`
	RemainingAmount decimal.Decimal `json:"remaining_amount"`
	Status          string          `json:"status"`
	UpdatedAt       time.Time       `json:"updated_at"`
}

func (f FundSource) Balances() Balances {
	return Balances{Allocated: f.AllocatedAmount, Committed: decimal.Zero, Spent: f.SpentAmount}
}

// BudgetEstimate is a line-item plan tracking allocated vs committed vs spent.
type BudgetEstimate struct {
	ID              string          `json:"id"`
	ItemCode        string          `json:"item_code"`
	ItemName        string          `json:"item_name"`
	BudgetType      BudgetType      `json:"budget_type"`
	FundSourceID    string          `json:"fund_source_id,omitempty"`
	FiscalYear      int             `json:"fiscal_year"`
	AllocatedAmount decimal.Decimal `json:"allocated_amount"`
	CommittedAmount decimal.Decimal `json:"committed_amount"`
	SpentAmount     decimal.Decimal `json:"spent_amount"`
	Status          EstimateStatus  `json:"status"`
	UpdatedAt       time.Time       `json:"updated_at"`
}

func (e BudgetEstimate) Balances() Balances {
	return Balances{Allocated: e.AllocatedAmount, Committed: e.CommittedAmount, Spent: e.SpentAmount}
}

// Balances is the running state of one ledger row.
type Balances struct {
	Allocated decimal.Decimal `json:"allocated"`
	Committed decimal.Decimal `json:"committed"`
	Spent     decimal.Decimal `json:"spent"`
}

// Available may be negative; that is the over-budget signal.
func (b Balances) Available() decimal.Decimal {
	return b.Allocated.Sub(b.Committed).Sub(b.Spent)
}

type TargetKind string

const (
	TargetBudgetEstimate TargetKind = "BUDGET_ESTIMATE"
	TargetFundSource     TargetKind = "FUND_SOURCE"
)

// BudgetTarget names the single ledger row an operation acts on.
type BudgetTarget struct {
	Kind TargetKind `json:"kind"`
	ID   string     `json:"id"`
}

// TargetOf prefers the estimate when both references are present; the fund
// source of an estimate is a reference, not the row being mutated.
func TargetOf(budgetEstimateID, fundSourceID string) (BudgetTarget, bool) {
	switch {
	case budgetEstimateID != "":
		return BudgetTarget{Kind: TargetBudgetEstimate, ID: budgetEstimateID}, true
	case fundSourceID != "":
		return BudgetTarget{Kind: TargetFundSource, ID: fundSourceID}, true
	}
	return BudgetTarget{}, false
}

func (t BudgetTarget) String() string {
	return string(t.Kind) + ":" + t.ID
}

// EstimateFilter narrows budget estimate listings.
type EstimateFilter struct {
	FiscalYear int
	Statuses   []EstimateStatus
}

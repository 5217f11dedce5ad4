package models

import (
	"time"

	"github.com/shopspring/decimal"
)

type TransactionType string

const (
	TransactionCommitment  TransactionType = "COMMITMENT"
	TransactionSpending    TransactionType = "SPENDING"
	TransactionReversal    TransactionType = "REVERSAL"
	TransactionTransferIn  TransactionType = "TRANSFER_IN"
	TransactionTransferOut TransactionType = "TRANSFER_OUT"
)

func (t TransactionType) Valid() bool {
	switch t {
	case TransactionCommitment, TransactionSpending, TransactionReversal,
		TransactionTransferIn, TransactionTransferOut:
		return true
	}
	return false
}

// BudgetTransaction is an immutable, append-only movement against one
// ledger row. The Budget* fields snapshot the row after the movement.
// Corrections are new REVERSAL rows, never edits.
type BudgetTransaction struct {
	ID               string          `json:"id"`
	BudgetEstimateID string          `json:"budget_estimate_id,omitempty"`
	FundSourceID     string          `json:"fund_source_id,omitempty"`
	TransactionType  TransactionType `json:"transaction_type"`
	TransactionDate  time.Time       `json:"transaction_date"`
	VoucherID        string          `json:"voucher_id,omitempty"`
	DocNo            string          `json:"doc_no,omitempty"`
	Amount           decimal.Decimal `json:"amount"`
	BudgetAllocated  decimal.Decimal `json:"budget_allocated"`
	BudgetCommitted  decimal.Decimal `json:"budget_committed"`
	BudgetSpent      decimal.Decimal `json:"budget_spent"`
	BudgetAvailable  decimal.Decimal `json:"budget_available"`
	AuthorizationID  string          `json:"authorization_id,omitempty"`
	FiscalYear       int             `json:"fiscal_year"`
	Period           int             `json:"period"`
	Description      string          `json:"description,omitempty"`
	CreatedBy        string          `json:"created_by"`
	CreatedAt        time.Time       `json:"created_at"`
}

// Target returns the row this transaction was applied to.
func (t BudgetTransaction) Target() BudgetTarget {
	target, _ := TargetOf(t.BudgetEstimateID, t.FundSourceID)
	return target
}

// BalancesAfter returns the snapshot stored on the transaction.
func (t BudgetTransaction) BalancesAfter() Balances {
	return Balances{Allocated: t.BudgetAllocated, Committed: t.BudgetCommitted, Spent: t.BudgetSpent}
}

// TransactionFilter narrows transaction listings; results are returned in
// commit order.
type TransactionFilter struct {
	BudgetEstimateID string
	FundSourceID     string
	FiscalYear       int
	Limit            int
	Offset           int
}

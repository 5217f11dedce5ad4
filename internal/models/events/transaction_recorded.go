package events

import (
	"time"

	"github.com/shopspring/decimal"
)

type TransactionRecorded struct {
	TransactionID    string          `json:"transaction_id"`
	BudgetEstimateID string          `json:"budget_estimate_id,omitempty"`
	FundSourceID     string          `json:"fund_source_id,omitempty"`
	TransactionType  string          `json:"transaction_type"`
	Amount           decimal.Decimal `json:"amount"`
	Allocated        decimal.Decimal `json:"allocated"`
	Committed        decimal.Decimal `json:"committed"`
	Spent            decimal.Decimal `json:"spent"`
	Available        decimal.Decimal `json:"available"`
	AuthorizationID  string          `json:"authorization_id,omitempty"`
	FiscalYear       int             `json:"fiscal_year"`
	Period           int             `json:"period"`
	OccurredAt       time.Time       `json:"occurred_at"`
}

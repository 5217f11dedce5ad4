package events

import (
	"time"

	"github.com/shopspring/decimal"
)

type AlertRaised struct {
	AlertID          string          `json:"alert_id"`
	AlertType        string          `json:"alert_type"`
	Severity         string          `json:"severity"`
	BudgetEstimateID string          `json:"budget_estimate_id,omitempty"`
	FundSourceID     string          `json:"fund_source_id,omitempty"`
	CurrentPercent   decimal.Decimal `json:"current_percent"`
	ThresholdPercent decimal.Decimal `json:"threshold_percent"`
	Message          string          `json:"message"`
	OccurredAt       time.Time       `json:"occurred_at"`
}

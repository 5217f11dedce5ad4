package models

import (
	"time"

	"github.com/shopspring/decimal"
)

type Severity string

const (
	SeverityLow      Severity = "LOW"
	SeverityMedium   Severity = "MEDIUM"
	SeverityHigh     Severity = "HIGH"
	SeverityCritical Severity = "CRITICAL"
)

// Rank orders severities for listings: CRITICAL first, unknown values last.
func (s Severity) Rank() int {
	switch s {
	case SeverityCritical:
		return 0
	case SeverityHigh:
		return 1
	case SeverityMedium:
		return 2
	}
	return 3
}

type AlertStatus string

const (
	AlertActive       AlertStatus = "ACTIVE"
	AlertAcknowledged AlertStatus = "ACKNOWLEDGED"
	AlertResolved     AlertStatus = "RESOLVED"
)

type AlertType string

const (
	AlertWarningThreshold AlertType = "WARNING_THRESHOLD"
	AlertBlockThreshold   AlertType = "BLOCK_THRESHOLD"
	AlertOverBudget       AlertType = "OVER_BUDGET"
)

// BudgetAlert is a threshold-crossing notice with a snapshot of the metrics
// that triggered it.
type BudgetAlert struct {
	ID               string          `json:"id"`
	AlertType        AlertType       `json:"alert_type"`
	Severity         Severity        `json:"severity"`
	BudgetEstimateID string          `json:"budget_estimate_id,omitempty"`
	FundSourceID     string          `json:"fund_source_id,omitempty"`
	FiscalYear       int             `json:"fiscal_year"`
	ThresholdPercent decimal.Decimal `json:"threshold_percent"`
	CurrentPercent   decimal.Decimal `json:"current_percent"`
	AllocatedAmount  decimal.Decimal `json:"allocated_amount"`
	CommittedAmount  decimal.Decimal `json:"committed_amount"`
	SpentAmount      decimal.Decimal `json:"spent_amount"`
	AvailableAmount  decimal.Decimal `json:"available_amount"`
	Message          string          `json:"message"`
	Status           AlertStatus     `json:"status"`
	CreatedBy        string          `json:"created_by"`
	CreatedAt        time.Time       `json:"created_at"`
	AcknowledgedBy   string          `json:"acknowledged_by,omitempty"`
	AcknowledgedAt   *time.Time      `json:"acknowledged_at,omitempty"`
	AcknowledgeNotes string          `json:"acknowledge_notes,omitempty"`
	ResolvedBy       string          `json:"resolved_by,omitempty"`
	ResolvedAt       *time.Time      `json:"resolved_at,omitempty"`
	ResolveNotes     string          `json:"resolve_notes,omitempty"`
}

// AlertTransition is applied by a status-guarded alert update.
type AlertTransition struct {
	From  []AlertStatus
	To    AlertStatus
	By    string
	At    time.Time
	Notes string
}

// AlertFilter narrows alert listings. Empty Statuses means unresolved.
type AlertFilter struct {
	BudgetEstimateID string
	FundSourceID     string
	FiscalYear       int
	AlertType        AlertType
	Severity         Severity
	Statuses         []AlertStatus
	Limit            int
}

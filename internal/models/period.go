package models

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

type PeriodStatus string

const (
	PeriodStatusOpen     PeriodStatus = "OPEN"
	PeriodStatusClosed   PeriodStatus = "CLOSED"
	PeriodStatusReopened PeriodStatus = "REOPENED"
)

const PeriodTypeMonthly = "MONTHLY"

// PeriodKey is the composite key of a budget period.
type PeriodKey struct {
	FiscalYear   int    `json:"fiscal_year" validate:"required,gte=1900,lte=9999"`
	PeriodNumber int    `json:"period_number" validate:"required,gte=1,lte=12"`
	CompanyID    string `json:"company_id"`
}

func (k PeriodKey) String() string {
	return fmt.Sprintf("%d-%02d@%s", k.FiscalYear, k.PeriodNumber, k.CompanyID)
}

// BudgetPeriod holds the lock state and the threshold policy of a period.
type BudgetPeriod struct {
	PeriodKey
	PeriodType       string          `json:"period_type"`
	IsLocked         bool            `json:"is_locked"`
	LockedBy         string          `json:"locked_by,omitempty"`
	LockedAt         *time.Time      `json:"locked_at,omitempty"`
	LockReason       string          `json:"lock_reason,omitempty"`
	UnlockedBy       string          `json:"unlocked_by,omitempty"`
	UnlockedAt       *time.Time      `json:"unlocked_at,omitempty"`
	UnlockReason     string          `json:"unlock_reason,omitempty"`
	Status           PeriodStatus    `json:"status"`
	WarningThreshold decimal.Decimal `json:"warning_threshold"`
	BlockThreshold   decimal.Decimal `json:"block_threshold"`
	AllowOverride    bool            `json:"allow_override"`
	CreatedAt        time.Time       `json:"created_at"`
	UpdatedAt        time.Time       `json:"updated_at"`
}

package models

import (
	"time"

	"github.com/shopspring/decimal"
)

type AuthorizationStatus string

const (
	AuthorizationPending  AuthorizationStatus = "PENDING"
	AuthorizationApproved AuthorizationStatus = "APPROVED"
	AuthorizationRejected AuthorizationStatus = "REJECTED"
	AuthorizationExpired  AuthorizationStatus = "EXPIRED"
)

// Terminal reports whether no further transition is possible.
func (s AuthorizationStatus) Terminal() bool {
	return s != AuthorizationPending
}

type ApprovalType string

const (
	ApprovalBudgetOverride  ApprovalType = "BUDGET_OVERRIDE"
	ApprovalBudgetThreshold ApprovalType = "BUDGET_THRESHOLD"
)

// SpendingAuthorization is an approval request for an over-threshold or
// over-budget spend.
type SpendingAuthorization struct {
	ID               string              `json:"id"`
	RequestType      ApprovalType        `json:"request_type"`
	RequestedBy      string              `json:"requested_by"`
	BudgetEstimateID string              `json:"budget_estimate_id,omitempty"`
	FundSourceID     string              `json:"fund_source_id,omitempty"`
	FiscalYear       int                 `json:"fiscal_year"`
	RequestedAmount  decimal.Decimal     `json:"requested_amount"`
	BudgetAvailable  decimal.Decimal     `json:"budget_available"`
	Purpose          string              `json:"purpose"`
	Justification    string              `json:"justification"`
	Status           AuthorizationStatus `json:"status"`
	RequiredLevel    int                 `json:"required_level"`
	ApprovedBy       string              `json:"approved_by,omitempty"`
	ApprovedAt       *time.Time          `json:"approved_at,omitempty"`
	ApprovedAmount   *decimal.Decimal    `json:"approved_amount,omitempty"`
	ApprovalNotes    string              `json:"approval_notes,omitempty"`
	RejectedBy       string              `json:"rejected_by,omitempty"`
	RejectedAt       *time.Time          `json:"rejected_at,omitempty"`
	RejectionReason  string              `json:"rejection_reason,omitempty"`
	ExpiresAt        time.Time           `json:"expires_at"`
	CreatedAt        time.Time           `json:"created_at"`
	UpdatedAt        time.Time           `json:"updated_at"`
}

// AuthorizationTransition is the set of fields written by a status-guarded
// update. Only non-zero fields for the target status are meaningful.
type AuthorizationTransition struct {
	To              AuthorizationStatus
	At              time.Time
	ApprovedBy      string
	ApprovedAmount  *decimal.Decimal
	ApprovalNotes   string
	RejectedBy      string
	RejectionReason string
}

// AuthorizationFilter narrows authorization listings. Statuses are matched
// against the stored status; readers apply the lazy-expiry rule afterwards.
type AuthorizationFilter struct {
	FiscalYear       int
	BudgetEstimateID string
	FundSourceID     string
	RequestedBy      string
	Statuses         []AuthorizationStatus
	Limit            int
	Offset           int
}

package models

import (
	"time"

	"github.com/shopspring/decimal"
)

type AuditAction string

const (
	AuditActionCreate      AuditAction = "CREATE"
	AuditActionUpdate      AuditAction = "UPDATE"
	AuditActionDelete      AuditAction = "DELETE"
	AuditActionLock        AuditAction = "LOCK"
	AuditActionUnlock      AuditAction = "UNLOCK"
	AuditActionApprove     AuditAction = "APPROVE"
	AuditActionReject      AuditAction = "REJECT"
	AuditActionExpire      AuditAction = "EXPIRE"
	AuditActionAcknowledge AuditAction = "ACKNOWLEDGE"
	AuditActionResolve     AuditAction = "RESOLVE"
	AuditActionPost        AuditAction = "POST"
)

// Entity types written by the engine itself.
const (
	EntityBudgetPeriod          = "BUDGET_PERIOD"
	EntitySpendingAuthorization = "SPENDING_AUTHORIZATION"
	EntityBudgetTransaction     = "BUDGET_TRANSACTION"
	EntityBudgetAlert           = "BUDGET_ALERT"
	EntityBudgetEstimate        = "BUDGET_ESTIMATE"
	EntityFundSource            = "FUND_SOURCE"
	EntityVoucher               = "VOUCHER"
	EntityAnomaly               = "ANOMALY"
	EntityPartner               = "PARTNER"
)

// Values is a JSON object snapshot of an entity.
type Values map[string]any

// AuditRecord is an immutable, checksummed change record.
type AuditRecord struct {
	ID             string           `json:"id"`
	EntityType     string           `json:"entity_type"`
	EntityID       string           `json:"entity_id"`
	DocNo          string           `json:"doc_no,omitempty"`
	Action         AuditAction      `json:"action"`
	Actor          Actor            `json:"actor"`
	Description    string           `json:"description,omitempty"`
	OldValues      Values           `json:"old_values,omitempty"`
	NewValues      Values           `json:"new_values,omitempty"`
	ChangedFields  []string         `json:"changed_fields"`
	CreatedAt      time.Time        `json:"created_at"`
	FiscalYear     int              `json:"fiscal_year,omitempty"`
	Period         int              `json:"period,omitempty"`
	Checksum       string           `json:"checksum"`
	ApprovalStatus string           `json:"approval_status,omitempty"`
	ApprovedBy     string           `json:"approved_by,omitempty"`
	ApprovedAt     *time.Time       `json:"approved_at,omitempty"`
	Amount         *decimal.Decimal `json:"amount,omitempty"`
	AccountCode    string           `json:"account_code,omitempty"`
}

// AuditEntry is what callers hand to the audit logger; the logger derives
// ID, ChangedFields, CreatedAt and Checksum.
type AuditEntry struct {
	EntityType     string `validate:"required"`
	EntityID       string `validate:"required"`
	DocNo          string
	Action         AuditAction `validate:"required"`
	Actor          Actor
	Description    string
	OldValues      Values
	NewValues      Values
	FiscalYear     int
	Period         int
	ApprovalStatus string
	ApprovedBy     string
	ApprovedAt     *time.Time
	Amount         *decimal.Decimal
	AccountCode    string
}

// AuditResult reports the outcome of a best-effort audit write.
type AuditResult struct {
	AuditID string
	Success bool
	Err     error
}

// AuditFilter narrows audit trail queries. Results are newest first.
type AuditFilter struct {
	EntityType     string
	EntityID       string
	DocNo          string
	Action         AuditAction
	UserID         string
	From           *time.Time
	To             *time.Time
	FiscalYear     int
	Period         int
	ApprovalStatus string
	Limit          int
	Offset         int
}

package models

import (
	"time"

	"github.com/shopspring/decimal"
)

type AnomalyType string

const (
	AnomalyBudgetOverrun     AnomalyType = "BUDGET_OVERRUN"
	AnomalyDuplicateDocument AnomalyType = "DUPLICATE_DOCUMENT"
	AnomalyRiskyPartner      AnomalyType = "RISKY_PARTNER"
)

type AnomalyStatus string

const (
	AnomalyOpen         AnomalyStatus = "OPEN"
	AnomalyAcknowledged AnomalyStatus = "ACKNOWLEDGED"
	AnomalyResolved     AnomalyStatus = "RESOLVED"
)

// Anomaly is an automatically detected irregular pattern.
type Anomaly struct {
	ID             string          `json:"id"`
	AnomalyType    AnomalyType     `json:"anomaly_type"`
	Severity       Severity        `json:"severity"`
	EntityType     string          `json:"entity_type"`
	EntityID       string          `json:"entity_id"`
	DocNo          string          `json:"doc_no,omitempty"`
	Description    string          `json:"description"`
	DetectedValue  string          `json:"detected_value"`
	ExpectedValue  string          `json:"expected_value"`
	ThresholdValue string          `json:"threshold_value"`
	DetectionRule  string          `json:"detection_rule"`
	FiscalYear     int             `json:"fiscal_year"`
	Status         AnomalyStatus   `json:"status"`
	RiskScore      int             `json:"risk_score"`
	AmountImpact   decimal.Decimal `json:"amount_impact"`
	DetectedAt     time.Time       `json:"detected_at"`
	ReviewedBy     string          `json:"reviewed_by,omitempty"`
	ReviewedAt     *time.Time      `json:"reviewed_at,omitempty"`
	ReviewNotes    string          `json:"review_notes,omitempty"`
}

// AnomalyFilter narrows anomaly listings; newest first.
type AnomalyFilter struct {
	FiscalYear  int
	AnomalyType AnomalyType
	Status      AnomalyStatus
	Limit       int
	Offset      int
}

// Posting is the read-only projection of a posted voucher line, owned by
// the general ledger.
type Posting struct {
	ID          string          `json:"id"`
	VoucherID   string          `json:"voucher_id"`
	DocNo       string          `json:"doc_no"`
	FiscalYear  int             `json:"fiscal_year"`
	Period      int             `json:"period"`
	PartnerCode string          `json:"partner_code"`
	PartnerName string          `json:"partner_name"`
	Amount      decimal.Decimal `json:"amount"`
	PostedAt    time.Time       `json:"posted_at"`
}

// AnomalyReview is applied by a status-guarded anomaly update.
type AnomalyReview struct {
	From  []AnomalyStatus
	To    AnomalyStatus
	By    string
	At    time.Time
	Notes string
}

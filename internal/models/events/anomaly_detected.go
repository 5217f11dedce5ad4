package events

import (
	"time"

	"github.com/shopspring/decimal"
)

type AnomalyDetected struct {
	AnomalyID    string          `json:"anomaly_id"`
	AnomalyType  string          `json:"anomaly_type"`
	Severity     string          `json:"severity"`
	EntityType   string          `json:"entity_type"`
	EntityID     string          `json:"entity_id"`
	RiskScore    int             `json:"risk_score"`
	AmountImpact decimal.Decimal `json:"amount_impact"`
	FiscalYear   int             `json:"fiscal_year"`
	OccurredAt   time.Time       `json:"occurred_at"`
}

package events

import (
	"time"

	"github.com/shopspring/decimal"
)

type AuthorizationDecided struct {
	AuthorizationID string           `json:"authorization_id"`
	Status          string           `json:"status"`
	DecidedBy       string           `json:"decided_by"`
	ApprovedAmount  *decimal.Decimal `json:"approved_amount,omitempty"`
	Reason          string           `json:"reason,omitempty"`
	OccurredAt      time.Time        `json:"occurred_at"`
}

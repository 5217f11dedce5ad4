package interfaces

import (
	"context"

	"github.com/sheikh-saqib/budget-compliance-engine/internal/models"
)

// AuditLogger is the best-effort side channel every mutating component
// writes to. It never returns an error; failures are reported in the result.
type AuditLogger interface {
	LogAudit(ctx context.Context, entry models.AuditEntry) models.AuditResult
}

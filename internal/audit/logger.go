package audit

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/sheikh-saqib/budget-compliance-engine/internal/clock"
	"github.com/sheikh-saqib/budget-compliance-engine/internal/config"
	interfaces "github.com/sheikh-saqib/budget-compliance-engine/internal/interfaces"
	"github.com/sheikh-saqib/budget-compliance-engine/internal/models"
	"github.com/sheikh-saqib/budget-compliance-engine/internal/validation"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
)

const (
	moduleName = "audit"

	DefaultQueryLimit = 50
	MaxQueryLimit     = 500
)

// Store is the persistence the audit logger needs: the append-only trail
// and the anomaly log.
type Store interface {
	interfaces.AuditStore
	interfaces.AnomalyStore
}

// Logger writes tamper-evident audit records. Writes are best effort: a
// failed write is logged and reported in the result, never returned as an
// error, so it cannot abort the business operation it accompanies.
type Logger struct {
	store  Store
	clock  clock.Clock
	logger *logrus.Logger
}

func NewLogger(store Store, clk clock.Clock, logger *logrus.Logger) *Logger {
	if clk == nil {
		clk = clock.System()
	}
	if logger == nil {
		logger = config.NewNopLogger()
	}
	return &Logger{store: store, clock: clk, logger: logger}
}

func (l *Logger) LogAudit(ctx context.Context, entry models.AuditEntry) models.AuditResult {
	record, err := l.buildRecord(entry)
	if err != nil {
		config.LogError(l.logger, moduleName, "LogAudit", "audit record rejected", auditData(entry), err)
		return models.AuditResult{Success: false, Err: err}
	}

	if err := l.store.InsertAuditRecord(ctx, record); err != nil {
		err = fmt.Errorf("insert audit record: %w", err)
		config.LogError(l.logger, moduleName, "LogAudit", "audit record not stored", auditData(entry), err)
		return models.AuditResult{Success: false, Err: err}
	}
	return models.AuditResult{AuditID: record.ID, Success: true}
}

func (l *Logger) buildRecord(entry models.AuditEntry) (models.AuditRecord, error) {
	if err := validation.Struct(entry); err != nil {
		return models.AuditRecord{}, err
	}
	oldValues, err := normalizeValues(entry.OldValues)
	if err != nil {
		return models.AuditRecord{}, fmt.Errorf("old values: %w", err)
	}
	newValues, err := normalizeValues(entry.NewValues)
	if err != nil {
		return models.AuditRecord{}, fmt.Errorf("new values: %w", err)
	}

	// storage keeps microseconds; truncate so the checksum survives a round trip
	createdAt := l.clock.Now().UTC().Truncate(time.Microsecond)

	record := models.AuditRecord{
		ID:             uuid.New().String(),
		EntityType:     entry.EntityType,
		EntityID:       entry.EntityID,
		DocNo:          entry.DocNo,
		Action:         entry.Action,
		Actor:          entry.Actor,
		Description:    entry.Description,
		OldValues:      oldValues,
		NewValues:      newValues,
		ChangedFields:  ChangedFields(oldValues, newValues),
		CreatedAt:      createdAt,
		FiscalYear:     entry.FiscalYear,
		Period:         entry.Period,
		ApprovalStatus: entry.ApprovalStatus,
		ApprovedBy:     entry.ApprovedBy,
		ApprovedAt:     entry.ApprovedAt,
		Amount:         entry.Amount,
		AccountCode:    entry.AccountCode,
	}
	record.Checksum, err = Checksum(record)
	if err != nil {
		return models.AuditRecord{}, fmt.Errorf("checksum: %w", err)
	}
	return record, nil
}

// VerifyResult is the outcome of an integrity check.
type VerifyResult struct {
	AuditID          string `json:"audit_id"`
	Valid            bool   `json:"valid"`
	Details          string `json:"details"`
	StoredChecksum   string `json:"stored_checksum"`
	ComputedChecksum string `json:"computed_checksum"`
}

// Err returns models.ErrTamperDetected for an invalid result.
func (r VerifyResult) Err() error {
	if r.Valid {
		return nil
	}
	return fmt.Errorf("audit record %s: %w", r.AuditID, models.ErrTamperDetected)
}

// VerifyAuditIntegrity recomputes the checksum of a stored record and
// compares it to the stored one. A mismatch is reported, not corrected.
func (l *Logger) VerifyAuditIntegrity(ctx context.Context, auditID string) (VerifyResult, error) {
	record, err := l.store.GetAuditRecord(ctx, auditID)
	if err != nil {
		return VerifyResult{}, err
	}
	computed, err := Checksum(record)
	if err != nil {
		return VerifyResult{}, fmt.Errorf("checksum: %w", err)
	}

	result := VerifyResult{
		AuditID:          auditID,
		StoredChecksum:   record.Checksum,
		ComputedChecksum: computed,
		Valid:            computed == record.Checksum,
	}
	if result.Valid {
		result.Details = "checksum verified"
	} else {
		result.Details = "possible tampering detected: stored checksum does not match record contents"
		config.LogError(l.logger, moduleName, "VerifyAuditIntegrity", "checksum mismatch", map[string]string{
			"audit_id":    auditID,
			"entity_type": record.EntityType,
			"entity_id":   record.EntityID,
		}, result.Err())
	}
	return result, nil
}

// QueryAuditTrail returns matching records newest first.
func (l *Logger) QueryAuditTrail(ctx context.Context, filter models.AuditFilter) ([]models.AuditRecord, error) {
	filter.Limit = clampLimit(filter.Limit)
	if filter.Offset < 0 {
		filter.Offset = 0
	}
	records, err := l.store.QueryAuditRecords(ctx, filter)
	if err != nil {
		return nil, fmt.Errorf("query audit trail: %w", err)
	}
	return records, nil
}

// VoucherAudit shapes an audit entry for a posted voucher.
type VoucherAudit struct {
	VoucherID      string
	DocNo          string
	Action         models.AuditAction
	Actor          models.Actor
	Description    string
	OldValues      models.Values
	NewValues      models.Values
	FiscalYear     int
	Period         int
	Amount         *decimal.Decimal
	AccountCode    string
	ApprovalStatus string
	ApprovedBy     string
	ApprovedAt     *time.Time
}

func (l *Logger) LogVoucherAudit(ctx context.Context, v VoucherAudit) models.AuditResult {
	return l.LogAudit(ctx, models.AuditEntry{
		EntityType:     models.EntityVoucher,
		EntityID:       v.VoucherID,
		DocNo:          v.DocNo,
		Action:         v.Action,
		Actor:          v.Actor,
		Description:    v.Description,
		OldValues:      v.OldValues,
		NewValues:      v.NewValues,
		FiscalYear:     v.FiscalYear,
		Period:         v.Period,
		Amount:         v.Amount,
		AccountCode:    v.AccountCode,
		ApprovalStatus: v.ApprovalStatus,
		ApprovedBy:     v.ApprovedBy,
		ApprovedAt:     v.ApprovedAt,
	})
}

// BudgetAudit shapes an audit entry for a fund source or budget estimate.
type BudgetAudit struct {
	Target      models.BudgetTarget
	Action      models.AuditAction
	Actor       models.Actor
	Description string
	OldValues   models.Values
	NewValues   models.Values
	FiscalYear  int
	Amount      *decimal.Decimal
}

func (l *Logger) LogBudgetAudit(ctx context.Context, b BudgetAudit) models.AuditResult {
	entityType := models.EntityBudgetEstimate
	if b.Target.Kind == models.TargetFundSource {
		entityType = models.EntityFundSource
	}
	return l.LogAudit(ctx, models.AuditEntry{
		EntityType:  entityType,
		EntityID:    b.Target.ID,
		Action:      b.Action,
		Actor:       b.Actor,
		Description: b.Description,
		OldValues:   b.OldValues,
		NewValues:   b.NewValues,
		FiscalYear:  b.FiscalYear,
		Amount:      b.Amount,
	})
}

func clampLimit(limit int) int {
	switch {
	case limit <= 0:
		return DefaultQueryLimit
	case limit > MaxQueryLimit:
		return MaxQueryLimit
	}
	return limit
}

func auditData(entry models.AuditEntry) map[string]string {
	return map[string]string{
		"entity_type": entry.EntityType,
		"entity_id":   entry.EntityID,
		"action":      string(entry.Action),
		"user_id":     entry.Actor.UserID,
	}
}

var _ interfaces.AuditLogger = (*Logger)(nil)

package period

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/sheikh-saqib/budget-compliance-engine/internal/availability"
	"github.com/sheikh-saqib/budget-compliance-engine/internal/clock"
	"github.com/sheikh-saqib/budget-compliance-engine/internal/config"
	interfaces "github.com/sheikh-saqib/budget-compliance-engine/internal/interfaces"
	"github.com/sheikh-saqib/budget-compliance-engine/internal/models"
	"github.com/sheikh-saqib/budget-compliance-engine/internal/validation"
	"github.com/sirupsen/logrus"
)

const moduleName = "period"

// LockStatus is the answer to IsPeriodLocked.
type LockStatus struct {
	Locked   bool       `json:"locked"`
	Reason   string     `json:"reason,omitempty"`
	LockedBy string     `json:"locked_by,omitempty"`
	LockedAt *time.Time `json:"locked_at,omitempty"`
}

// Manager locks and unlocks accounting periods. Every state change writes
// exactly one audit record.
type Manager struct {
	store  interfaces.PeriodStore
	audit  interfaces.AuditLogger
	clock  clock.Clock
	logger *logrus.Logger
}

func NewManager(store interfaces.PeriodStore, audit interfaces.AuditLogger, clk clock.Clock, logger *logrus.Logger) *Manager {
	if clk == nil {
		clk = clock.System()
	}
	if logger == nil {
		logger = config.NewNopLogger()
	}
	return &Manager{store: store, audit: audit, clock: clk, logger: logger}
}

// IsPeriodLocked treats a missing period row as unlocked.
func (m *Manager) IsPeriodLocked(ctx context.Context, key models.PeriodKey) (LockStatus, error) {
	p, err := m.store.GetPeriod(ctx, key)
	if errors.Is(err, models.ErrNotFound) {
		return LockStatus{}, nil
	}
	if err != nil {
		return LockStatus{}, err
	}
	if !p.IsLocked {
		return LockStatus{}, nil
	}
	return LockStatus{Locked: true, Reason: p.LockReason, LockedBy: p.LockedBy, LockedAt: p.LockedAt}, nil
}

// EnsurePeriod returns the period row, creating it OPEN with the default
// thresholds on first reference.
func (m *Manager) EnsurePeriod(ctx context.Context, key models.PeriodKey) (models.BudgetPeriod, error) {
	if err := validation.Struct(key); err != nil {
		return models.BudgetPeriod{}, err
	}
	now := m.clock.Now()
	return m.store.CreatePeriodIfAbsent(ctx, models.BudgetPeriod{
		PeriodKey:        key,
		PeriodType:       models.PeriodTypeMonthly,
		Status:           models.PeriodStatusOpen,
		WarningThreshold: availability.DefaultPolicy.WarningThreshold,
		BlockThreshold:   availability.DefaultPolicy.BlockThreshold,
		AllowOverride:    availability.DefaultPolicy.AllowOverride,
		CreatedAt:        now,
		UpdatedAt:        now,
	})
}

func (m *Manager) LockPeriod(ctx context.Context, key models.PeriodKey, actor models.Actor, reason string) error {
	p, err := m.store.GetPeriod(ctx, key)
	if err != nil {
		return err
	}
	before := snapshot(p)

	now := m.clock.Now()
	p.IsLocked = true
	p.Status = models.PeriodStatusClosed
	p.LockedBy = actor.UserID
	p.LockedAt = &now
	p.LockReason = reason
	p.UpdatedAt = now
	if err := m.store.UpdatePeriodLock(ctx, p); err != nil {
		return fmt.Errorf("lock period %s: %w", key, err)
	}

	m.logAudit(ctx, p, models.AuditActionLock, actor, before, reason)
	return nil
}

func (m *Manager) UnlockPeriod(ctx context.Context, key models.PeriodKey, actor models.Actor, reason string) error {
	if strings.TrimSpace(reason) == "" {
		return fmt.Errorf("unlock reason is required: %w", models.ErrValidation)
	}
	p, err := m.store.GetPeriod(ctx, key)
	if err != nil {
		return err
	}
	before := snapshot(p)

	now := m.clock.Now()
	p.IsLocked = false
	p.Status = models.PeriodStatusReopened
	p.LockedBy = ""
	p.LockedAt = nil
	p.LockReason = ""
	p.UnlockedBy = actor.UserID
	p.UnlockedAt = &now
	p.UnlockReason = reason
	p.UpdatedAt = now
	if err := m.store.UpdatePeriodLock(ctx, p); err != nil {
		return fmt.Errorf("unlock period %s: %w", key, err)
	}

	m.logAudit(ctx, p, models.AuditActionUnlock, actor, before, reason)
	return nil
}

// EnforcePostingGate returns models.ErrPeriodLocked when postings into the
// period must be refused.
func (m *Manager) EnforcePostingGate(ctx context.Context, key models.PeriodKey) error {
	status, err := m.IsPeriodLocked(ctx, key)
	if err != nil {
		return err
	}
	if status.Locked {
		return fmt.Errorf("period %s locked by %s (%s): %w", key, status.LockedBy, status.Reason, models.ErrPeriodLocked)
	}
	return nil
}

func (m *Manager) logAudit(ctx context.Context, p models.BudgetPeriod, action models.AuditAction, actor models.Actor, before models.Values, reason string) {
	res := m.audit.LogAudit(ctx, models.AuditEntry{
		EntityType:  models.EntityBudgetPeriod,
		EntityID:    p.PeriodKey.String(),
		Action:      action,
		Actor:       actor,
		Description: fmt.Sprintf("%s period %s: %s", strings.ToLower(string(action)), p.PeriodKey, reason),
		OldValues:   before,
		NewValues:   snapshot(p),
		FiscalYear:  p.FiscalYear,
		Period:      p.PeriodNumber,
	})
	if !res.Success {
		config.LogError(m.logger, moduleName, "logAudit", "period audit not written", p.PeriodKey.String(), res.Err)
	}
}

func snapshot(p models.BudgetPeriod) models.Values {
	v := models.Values{
		"is_locked":     p.IsLocked,
		"status":        string(p.Status),
		"locked_by":     p.LockedBy,
		"lock_reason":   p.LockReason,
		"unlocked_by":   p.UnlockedBy,
		"unlock_reason": p.UnlockReason,
	}
	if p.LockedAt != nil {
		v["locked_at"] = p.LockedAt.UTC().Format(time.RFC3339Nano)
	}
	if p.UnlockedAt != nil {
		v["unlocked_at"] = p.UnlockedAt.UTC().Format(time.RFC3339Nano)
	}
	return v
}

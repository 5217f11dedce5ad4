package alert

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/sheikh-saqib/budget-compliance-engine/internal/clock"
	"github.com/sheikh-saqib/budget-compliance-engine/internal/config"
	interfaces "github.com/sheikh-saqib/budget-compliance-engine/internal/interfaces"
	"github.com/sheikh-saqib/budget-compliance-engine/internal/models"
	"github.com/sheikh-saqib/budget-compliance-engine/internal/models/events"
	"github.com/sheikh-saqib/budget-compliance-engine/internal/validation"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
)

const moduleName = "alert"

// Engine stores threshold alerts and moves them through
// ACTIVE -> ACKNOWLEDGED -> RESOLVED (or ACTIVE -> RESOLVED).
type Engine struct {
	store     interfaces.AlertStore
	audit     interfaces.AuditLogger
	publisher interfaces.EventPublisher
	clock     clock.Clock
	logger    *logrus.Logger
}

func NewEngine(store interfaces.AlertStore, audit interfaces.AuditLogger, publisher interfaces.EventPublisher, clk clock.Clock, logger *logrus.Logger) *Engine {
	if clk == nil {
		clk = clock.System()
	}
	if logger == nil {
		logger = config.NewNopLogger()
	}
	return &Engine{store: store, audit: audit, publisher: publisher, clock: clk, logger: logger}
}

type CreateParams struct {
	AlertType        models.AlertType `json:"alert_type" validate:"required"`
	Severity         models.Severity  `json:"severity" validate:"required,oneof=LOW MEDIUM HIGH CRITICAL"`
	BudgetEstimateID string           `json:"budget_estimate_id"`
	FundSourceID     string           `json:"fund_source_id"`
	FiscalYear       int              `json:"fiscal_year"`
	ThresholdPercent decimal.Decimal  `json:"threshold_percent"`
	CurrentPercent   decimal.Decimal  `json:"current_percent"`
	AllocatedAmount  decimal.Decimal  `json:"allocated_amount"`
	CommittedAmount  decimal.Decimal  `json:"committed_amount"`
	SpentAmount      decimal.Decimal  `json:"spent_amount"`
	AvailableAmount  decimal.Decimal  `json:"available_amount"`
	Message          string           `json:"message"`
}

// CreateBudgetAlert stores an ACTIVE alert with the supplied metrics.
func (e *Engine) CreateBudgetAlert(ctx context.Context, actor models.Actor, p CreateParams) (string, error) {
	if err := validation.Struct(p); err != nil {
		return "", err
	}
	if _, ok := models.TargetOf(p.BudgetEstimateID, p.FundSourceID); !ok {
		return "", fmt.Errorf("alert target required: %w", models.ErrInvalidSelector)
	}

	a := models.BudgetAlert{
		ID:               uuid.New().String(),
		AlertType:        p.AlertType,
		Severity:         p.Severity,
		BudgetEstimateID: p.BudgetEstimateID,
		FundSourceID:     p.FundSourceID,
		FiscalYear:       p.FiscalYear,
		ThresholdPercent: p.ThresholdPercent,
		CurrentPercent:   p.CurrentPercent,
		AllocatedAmount:  p.AllocatedAmount,
		CommittedAmount:  p.CommittedAmount,
		SpentAmount:      p.SpentAmount,
		AvailableAmount:  p.AvailableAmount,
		Message:          p.Message,
		Status:           models.AlertActive,
		CreatedBy:        actor.UserID,
		CreatedAt:        e.clock.Now(),
	}
	if err := e.store.InsertAlert(ctx, a); err != nil {
		return "", fmt.Errorf("create alert: %w", err)
	}

	e.logAudit(ctx, a, models.AuditActionCreate, actor, nil)
	if e.publisher != nil {
		target, _ := models.TargetOf(a.BudgetEstimateID, a.FundSourceID)
		err := e.publisher.Publish(ctx, events.TopicAlertRaised, target.ID, events.AlertRaised{
			AlertID:          a.ID,
			AlertType:        string(a.AlertType),
			Severity:         string(a.Severity),
			BudgetEstimateID: a.BudgetEstimateID,
			FundSourceID:     a.FundSourceID,
			CurrentPercent:   a.CurrentPercent,
			ThresholdPercent: a.ThresholdPercent,
			Message:          a.Message,
			OccurredAt:       a.CreatedAt,
		})
		if err != nil {
			config.LogError(e.logger, moduleName, "CreateBudgetAlert", "alert event not published", a.ID, err)
		}
	}
	return a.ID, nil
}

// GetActiveAlerts returns unresolved alerts, most severe first, then newest.
func (e *Engine) GetActiveAlerts(ctx context.Context, filter models.AlertFilter) ([]models.BudgetAlert, error) {
	filter.Statuses = []models.AlertStatus{models.AlertActive, models.AlertAcknowledged}
	return e.store.ListAlerts(ctx, filter)
}

type Action string

const (
	ActionAcknowledge Action = "acknowledge"
	ActionResolve     Action = "resolve"
)

type ResolveParams struct {
	ID     string `json:"id" validate:"required"`
	Action Action `json:"action" validate:"required,oneof=acknowledge resolve"`
	Notes  string `json:"notes"`
}

// ResolveAlert acknowledges an ACTIVE alert or resolves an unresolved one.
// Anything else is models.ErrAlreadyProcessed.
func (e *Engine) ResolveAlert(ctx context.Context, actor models.Actor, p ResolveParams) (models.BudgetAlert, error) {
	if err := validation.Struct(p); err != nil {
		return models.BudgetAlert{}, err
	}

	t := models.AlertTransition{By: actor.UserID, At: e.clock.Now(), Notes: p.Notes}
	action := models.AuditActionAcknowledge
	if p.Action == ActionAcknowledge {
		t.From = []models.AlertStatus{models.AlertActive}
		t.To = models.AlertAcknowledged
	} else {
		t.From = []models.AlertStatus{models.AlertActive, models.AlertAcknowledged}
		t.To = models.AlertResolved
		action = models.AuditActionResolve
	}

	before, err := e.store.GetAlert(ctx, p.ID)
	if err != nil {
		return models.BudgetAlert{}, err
	}
	updated, err := e.store.TransitionAlert(ctx, p.ID, t)
	if err != nil {
		return models.BudgetAlert{}, err
	}

	e.logAudit(ctx, updated, action, actor, models.Values{"status": string(before.Status)})
	return updated, nil
}

func (e *Engine) logAudit(ctx context.Context, a models.BudgetAlert, action models.AuditAction, actor models.Actor, old models.Values) {
	newValues := models.Values{
		"status":          string(a.Status),
		"alert_type":      string(a.AlertType),
		"severity":        string(a.Severity),
		"current_percent": a.CurrentPercent.String(),
	}
	switch a.Status {
	case models.AlertAcknowledged:
		newValues["acknowledged_by"] = a.AcknowledgedBy
		newValues["acknowledge_notes"] = a.AcknowledgeNotes
	case models.AlertResolved:
		newValues["resolved_by"] = a.ResolvedBy
		newValues["resolve_notes"] = a.ResolveNotes
	}
	res := e.audit.LogAudit(ctx, models.AuditEntry{
		EntityType:  models.EntityBudgetAlert,
		EntityID:    a.ID,
		Action:      action,
		Actor:       actor,
		Description: a.Message,
		OldValues:   old,
		NewValues:   newValues,
		FiscalYear:  a.FiscalYear,
	})
	if !res.Success {
		config.LogError(e.logger, moduleName, "logAudit", "alert audit not written", a.ID, res.Err)
	}
}

package audit

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/sheikh-saqib/budget-compliance-engine/internal/config"
	"github.com/sheikh-saqib/budget-compliance-engine/internal/models"
	"github.com/sheikh-saqib/budget-compliance-engine/internal/validation"
)

// LogAnomaly stores a detected anomaly as OPEN. ID and DetectedAt are
// filled in when the detector left them empty.
func (l *Logger) LogAnomaly(ctx context.Context, a models.Anomaly) (models.Anomaly, error) {
	if a.ID == "" {
		a.ID = uuid.New().String()
	}
	if a.DetectedAt.IsZero() {
		a.DetectedAt = l.clock.Now().UTC()
	}
	a.Status = models.AnomalyOpen

	if err := l.store.InsertAnomaly(ctx, a); err != nil {
		err = fmt.Errorf("insert anomaly: %w", err)
		config.LogError(l.logger, moduleName, "LogAnomaly", "anomaly not stored", map[string]string{
			"anomaly_type": string(a.AnomalyType),
			"entity_id":    a.EntityID,
		}, err)
		return models.Anomaly{}, err
	}
	return a, nil
}

// QueryAnomalies lists stored anomalies newest first.
func (l *Logger) QueryAnomalies(ctx context.Context, filter models.AnomalyFilter) ([]models.Anomaly, error) {
	filter.Limit = clampLimit(filter.Limit)
	if filter.Offset < 0 {
		filter.Offset = 0
	}
	anomalies, err := l.store.ListAnomalies(ctx, filter)
	if err != nil {
		return nil, fmt.Errorf("query anomalies: %w", err)
	}
	return anomalies, nil
}

type ReviewAction string

const (
	ReviewAcknowledge ReviewAction = "acknowledge"
	ReviewResolve     ReviewAction = "resolve"
)

type ReviewParams struct {
	ID     string       `validate:"required"`
	Action ReviewAction `validate:"required,oneof=acknowledge resolve"`
	Notes  string
}

// ReviewAnomaly moves an OPEN anomaly to ACKNOWLEDGED, or an OPEN or
// ACKNOWLEDGED one to RESOLVED, and records who did it.
func (l *Logger) ReviewAnomaly(ctx context.Context, actor models.Actor, p ReviewParams) (models.Anomaly, error) {
	if err := validation.Struct(p); err != nil {
		return models.Anomaly{}, err
	}

	review := models.AnomalyReview{
		By:    actor.UserID,
		At:    l.clock.Now().UTC(),
		Notes: p.Notes,
	}
	action := models.AuditActionAcknowledge
	if p.Action == ReviewAcknowledge {
		review.From = []models.AnomalyStatus{models.AnomalyOpen}
		review.To = models.AnomalyAcknowledged
	} else {
		review.From = []models.AnomalyStatus{models.AnomalyOpen, models.AnomalyAcknowledged}
		review.To = models.AnomalyResolved
		action = models.AuditActionResolve
	}

	updated, err := l.store.ReviewAnomaly(ctx, p.ID, review)
	if err != nil {
		return models.Anomaly{}, err
	}

	l.LogAudit(ctx, models.AuditEntry{
		EntityType:  models.EntityAnomaly,
		EntityID:    updated.ID,
		DocNo:       updated.DocNo,
		Action:      action,
		Actor:       actor,
		Description: fmt.Sprintf("anomaly %s %s", updated.AnomalyType, updated.Status),
		NewValues: models.Values{
			"status":       string(updated.Status),
			"review_notes": updated.ReviewNotes,
		},
		FiscalYear: updated.FiscalYear,
	})
	return updated, nil
}

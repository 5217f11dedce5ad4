package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/sheikh-saqib/budget-compliance-engine/internal/models"

	"github.com/lib/pq"
)

const alertColumns = `id, alert_type, severity, budget_estimate_id, fund_source_id, fiscal_year,
	threshold_percent, current_percent, allocated_amount, committed_amount, spent_amount, available_amount,
	message, status, created_by, created_at,
	acknowledged_by, acknowledged_at, acknowledge_notes, resolved_by, resolved_at, resolve_notes`

// severityOrder mirrors models.Severity.Rank.
const severityOrder = `CASE severity WHEN 'CRITICAL' THEN 0 WHEN 'HIGH' THEN 1 WHEN 'MEDIUM' THEN 2 ELSE 3 END`

func scanAlert(row rowScanner) (models.BudgetAlert, error) {
	var a models.BudgetAlert
	var acknowledgedAt, resolvedAt sql.NullTime
	err := row.Scan(&a.ID, &a.AlertType, &a.Severity, &a.BudgetEstimateID, &a.FundSourceID, &a.FiscalYear,
		&a.ThresholdPercent, &a.CurrentPercent, &a.AllocatedAmount, &a.CommittedAmount, &a.SpentAmount, &a.AvailableAmount,
		&a.Message, &a.Status, &a.CreatedBy, &a.CreatedAt,
		&a.AcknowledgedBy, &acknowledgedAt, &a.AcknowledgeNotes, &a.ResolvedBy, &resolvedAt, &a.ResolveNotes)
	a.AcknowledgedAt = timePtr(acknowledgedAt)
	a.ResolvedAt = timePtr(resolvedAt)
	a.CreatedAt = a.CreatedAt.UTC()
	return a, err
}

func (p *PostgresLedgerStore) InsertAlert(ctx context.Context, a models.BudgetAlert) error {
	query := `INSERT INTO budget_alerts (` + alertColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19, $20, $21, $22)`

	_, err := p.db.ExecContext(ctx, query,
		a.ID, a.AlertType, a.Severity, a.BudgetEstimateID, a.FundSourceID, a.FiscalYear,
		a.ThresholdPercent, a.CurrentPercent, a.AllocatedAmount, a.CommittedAmount, a.SpentAmount, a.AvailableAmount,
		a.Message, a.Status, a.CreatedBy, a.CreatedAt,
		a.AcknowledgedBy, nullTime(a.AcknowledgedAt), a.AcknowledgeNotes,
		a.ResolvedBy, nullTime(a.ResolvedAt), a.ResolveNotes)
	if isUniqueViolation(err) {
		return fmt.Errorf("alert %s already exists: %w", a.ID, models.ErrStorageFailure)
	}
	if err != nil {
		return storageErr("insert alert", err)
	}
	return nil
}

func (p *PostgresLedgerStore) GetAlert(ctx context.Context, id string) (models.BudgetAlert, error) {
	query := `SELECT ` + alertColumns + ` FROM budget_alerts WHERE id = $1`

	a, err := scanAlert(p.db.QueryRowContext(ctx, query, id))
	if errors.Is(err, sql.ErrNoRows) {
		return models.BudgetAlert{}, fmt.Errorf("alert %s: %w", id, models.ErrNotFound)
	}
	if err != nil {
		return models.BudgetAlert{}, storageErr("get alert", err)
	}
	return a, nil
}

func (p *PostgresLedgerStore) ListAlerts(ctx context.Context, filter models.AlertFilter) ([]models.BudgetAlert, error) {
	statuses := filter.Statuses
	if len(statuses) == 0 {
		statuses = []models.AlertStatus{models.AlertActive, models.AlertAcknowledged}
	}

	var w where
	w.add("status = ANY($%d)", pq.Array(stringSlice(statuses)))
	if filter.BudgetEstimateID != "" {
		w.add("budget_estimate_id = $%d", filter.BudgetEstimateID)
	}
	if filter.FundSourceID != "" {
		w.add("fund_source_id = $%d", filter.FundSourceID)
	}
	if filter.FiscalYear != 0 {
		w.add("fiscal_year = $%d", filter.FiscalYear)
	}
	if filter.AlertType != "" {
		w.add("alert_type = $%d", filter.AlertType)
	}
	if filter.Severity != "" {
		w.add("severity = $%d", filter.Severity)
	}
	query := `SELECT ` + alertColumns + ` FROM budget_alerts` + w.String() +
		` ORDER BY ` + severityOrder + `, created_at DESC` + w.page(filter.Limit, 0)

	rows, err := p.db.QueryContext(ctx, query, w.args...)
	if err != nil {
		return nil, storageErr("list alerts", err)
	}
	defer rows.Close()

	var alerts []models.BudgetAlert
	for rows.Next() {
		a, err := scanAlert(rows)
		if err != nil {
			return nil, storageErr("scan alert", err)
		}
		alerts = append(alerts, a)
	}
	if err := rows.Err(); err != nil {
		return nil, storageErr("list alerts", err)
	}
	return alerts, nil
}

func (p *PostgresLedgerStore) TransitionAlert(ctx context.Context, id string, t models.AlertTransition) (models.BudgetAlert, error) {
	var set string
	switch t.To {
	case models.AlertAcknowledged:
		set = `acknowledged_by = $4, acknowledged_at = $5, acknowledge_notes = $6`
	case models.AlertResolved:
		set = `resolved_by = $4, resolved_at = $5, resolve_notes = $6`
	default:
		return models.BudgetAlert{}, fmt.Errorf("alert target status %q: %w", t.To, models.ErrValidation)
	}
	query := `UPDATE budget_alerts SET status = $3, ` + set + `
		WHERE id = $1 AND status = ANY($2) RETURNING ` + alertColumns

	a, err := scanAlert(p.db.QueryRowContext(ctx, query,
		id, pq.Array(stringSlice(t.From)), t.To, t.By, t.At, t.Notes))
	if err == nil {
		return a, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return models.BudgetAlert{}, storageErr("transition alert", err)
	}

	current, err := p.GetAlert(ctx, id)
	if err != nil {
		return models.BudgetAlert{}, err
	}
	return current, fmt.Errorf("alert %s is %s: %w", id, current.Status, models.ErrAlreadyProcessed)
}

package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/sheikh-saqib/budget-compliance-engine/internal/models"

	"github.com/lib/pq"
)

const anomalyColumns = `id, anomaly_type, severity, entity_type, entity_id, doc_no, description,
	detected_value, expected_value, threshold_value, detection_rule, fiscal_year, status,
	risk_score, amount_impact, detected_at, reviewed_by, reviewed_at, review_notes`

func scanAnomaly(row rowScanner) (models.Anomaly, error) {
	var a models.Anomaly
	var reviewedAt sql.NullTime
	err := row.Scan(&a.ID, &a.AnomalyType, &a.Severity, &a.EntityType, &a.EntityID, &a.DocNo, &a.Description,
		&a.DetectedValue, &a.ExpectedValue, &a.ThresholdValue, &a.DetectionRule, &a.FiscalYear, &a.Status,
		&a.RiskScore, &a.AmountImpact, &a.DetectedAt, &a.ReviewedBy, &reviewedAt, &a.ReviewNotes)
	a.ReviewedAt = timePtr(reviewedAt)
	a.DetectedAt = a.DetectedAt.UTC()
	return a, err
}

func (p *PostgresLedgerStore) InsertAnomaly(ctx context.Context, a models.Anomaly) error {
	query := `INSERT INTO anomalies (` + anomalyColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19)`

	_, err := p.db.ExecContext(ctx, query,
		a.ID, a.AnomalyType, a.Severity, a.EntityType, a.EntityID, a.DocNo, a.Description,
		a.DetectedValue, a.ExpectedValue, a.ThresholdValue, a.DetectionRule, a.FiscalYear, a.Status,
		a.RiskScore, a.AmountImpact, a.DetectedAt, a.ReviewedBy, nullTime(a.ReviewedAt), a.ReviewNotes)
	if err != nil {
		return storageErr("insert anomaly", err)
	}
	return nil
}

func (p *PostgresLedgerStore) ListAnomalies(ctx context.Context, filter models.AnomalyFilter) ([]models.Anomaly, error) {
	var w where
	if filter.FiscalYear != 0 {
		w.add("fiscal_year = $%d", filter.FiscalYear)
	}
	if filter.AnomalyType != "" {
		w.add("anomaly_type = $%d", filter.AnomalyType)
	}
	if filter.Status != "" {
		w.add("status = $%d", filter.Status)
	}
	query := `SELECT ` + anomalyColumns + ` FROM anomalies` + w.String() +
		` ORDER BY detected_at DESC, seq DESC` + w.page(filter.Limit, filter.Offset)

	rows, err := p.db.QueryContext(ctx, query, w.args...)
	if err != nil {
		return nil, storageErr("list anomalies", err)
	}
	defer rows.Close()

	var anomalies []models.Anomaly
	for rows.Next() {
		a, err := scanAnomaly(rows)
		if err != nil {
			return nil, storageErr("scan anomaly", err)
		}
		anomalies = append(anomalies, a)
	}
	if err := rows.Err(); err != nil {
		return nil, storageErr("list anomalies", err)
	}
	return anomalies, nil
}

func (p *PostgresLedgerStore) ReviewAnomaly(ctx context.Context, id string, r models.AnomalyReview) (models.Anomaly, error) {
	query := `UPDATE anomalies SET status = $3, reviewed_by = $4, reviewed_at = $5, review_notes = $6
		WHERE id = $1 AND status = ANY($2) RETURNING ` + anomalyColumns

	a, err := scanAnomaly(p.db.QueryRowContext(ctx, query,
		id, pq.Array(stringSlice(r.From)), r.To, r.By, r.At, r.Notes))
	if err == nil {
		return a, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return models.Anomaly{}, storageErr("review anomaly", err)
	}

	var status models.AnomalyStatus
	err = p.db.QueryRowContext(ctx, `SELECT status FROM anomalies WHERE id = $1`, id).Scan(&status)
	if errors.Is(err, sql.ErrNoRows) {
		return models.Anomaly{}, fmt.Errorf("anomaly %s: %w", id, models.ErrNotFound)
	}
	if err != nil {
		return models.Anomaly{}, storageErr("review anomaly", err)
	}
	return models.Anomaly{}, fmt.Errorf("anomaly %s is %s: %w", id, status, models.ErrAlreadyProcessed)
}

package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/sheikh-saqib/budget-compliance-engine/internal/models"

	"github.com/lib/pq"
	"github.com/shopspring/decimal"
)

const authorizationColumns = `id, request_type, requested_by, budget_estimate_id, fund_source_id, fiscal_year,
	requested_amount, budget_available, purpose, justification, status, required_level,
	approved_by, approved_at, approved_amount, approval_notes, rejected_by, rejected_at, rejection_reason,
	expires_at, created_at, updated_at`

func scanAuthorization(row rowScanner) (models.SpendingAuthorization, error) {
	var a models.SpendingAuthorization
	var approvedAt, rejectedAt sql.NullTime
	var approvedAmount decimal.NullDecimal
	err := row.Scan(&a.ID, &a.RequestType, &a.RequestedBy, &a.BudgetEstimateID, &a.FundSourceID, &a.FiscalYear,
		&a.RequestedAmount, &a.BudgetAvailable, &a.Purpose, &a.Justification, &a.Status, &a.RequiredLevel,
		&a.ApprovedBy, &approvedAt, &approvedAmount, &a.ApprovalNotes, &a.RejectedBy, &rejectedAt, &a.RejectionReason,
		&a.ExpiresAt, &a.CreatedAt, &a.UpdatedAt)
	a.ApprovedAt = timePtr(approvedAt)
	a.RejectedAt = timePtr(rejectedAt)
	if approvedAmount.Valid {
		a.ApprovedAmount = &approvedAmount.Decimal
	}
	a.ExpiresAt = a.ExpiresAt.UTC()
	a.CreatedAt = a.CreatedAt.UTC()
	a.UpdatedAt = a.UpdatedAt.UTC()
	return a, err
}

func nullDecimal(d *decimal.Decimal) decimal.NullDecimal {
	if d == nil {
		return decimal.NullDecimal{}
	}
	return decimal.NullDecimal{Decimal: *d, Valid: true}
}

func (p *PostgresLedgerStore) InsertAuthorization(ctx context.Context, a models.SpendingAuthorization) error {
	query := `INSERT INTO spending_authorizations (` + authorizationColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19, $20, $21, $22)`

	_, err := p.db.ExecContext(ctx, query,
		a.ID, a.RequestType, a.RequestedBy, a.BudgetEstimateID, a.FundSourceID, a.FiscalYear,
		a.RequestedAmount, a.BudgetAvailable, a.Purpose, a.Justification, a.Status, a.RequiredLevel,
		a.ApprovedBy, nullTime(a.ApprovedAt), nullDecimal(a.ApprovedAmount), a.ApprovalNotes,
		a.RejectedBy, nullTime(a.RejectedAt), a.RejectionReason,
		a.ExpiresAt, a.CreatedAt, a.UpdatedAt)
	if isUniqueViolation(err) {
		return fmt.Errorf("authorization %s already exists: %w", a.ID, models.ErrStorageFailure)
	}
	if err != nil {
		return storageErr("insert authorization", err)
	}
	return nil
}

func (p *PostgresLedgerStore) GetAuthorization(ctx context.Context, id string) (models.SpendingAuthorization, error) {
	query := `SELECT ` + authorizationColumns + ` FROM spending_authorizations WHERE id = $1`

	a, err := scanAuthorization(p.db.QueryRowContext(ctx, query, id))
	if errors.Is(err, sql.ErrNoRows) {
		return models.SpendingAuthorization{}, fmt.Errorf("authorization %s: %w", id, models.ErrNotFound)
	}
	if err != nil {
		return models.SpendingAuthorization{}, storageErr("get authorization", err)
	}
	return a, nil
}

func (p *PostgresLedgerStore) ListAuthorizations(ctx context.Context, filter models.AuthorizationFilter) ([]models.SpendingAuthorization, error) {
	var w where
	if filter.FiscalYear != 0 {
		w.add("fiscal_year = $%d", filter.FiscalYear)
	}
	if filter.BudgetEstimateID != "" {
		w.add("budget_estimate_id = $%d", filter.BudgetEstimateID)
	}
	if filter.FundSourceID != "" {
		w.add("fund_source_id = $%d", filter.FundSourceID)
	}
	if filter.RequestedBy != "" {
		w.add("requested_by = $%d", filter.RequestedBy)
	}
	if len(filter.Statuses) > 0 {
		w.add("status = ANY($%d)", pq.Array(stringSlice(filter.Statuses)))
	}
	query := `SELECT ` + authorizationColumns + ` FROM spending_authorizations` + w.String() +
		` ORDER BY created_at DESC, id DESC` + w.page(filter.Limit, filter.Offset)

	rows, err := p.db.QueryContext(ctx, query, w.args...)
	if err != nil {
		return nil, storageErr("list authorizations", err)
	}
	defer rows.Close()

	var authorizations []models.SpendingAuthorization
	for rows.Next() {
		a, err := scanAuthorization(rows)
		if err != nil {
			return nil, storageErr("scan authorization", err)
		}
		authorizations = append(authorizations, a)
	}
	if err := rows.Err(); err != nil {
		return nil, storageErr("list authorizations", err)
	}
	return authorizations, nil
}

// TransitionAuthorization is a single UPDATE guarded on the current
// status; of two concurrent deciders exactly one matches a row.
func (p *PostgresLedgerStore) TransitionAuthorization(ctx context.Context, id string, from models.AuthorizationStatus, t models.AuthorizationTransition) (models.SpendingAuthorization, error) {
	var query string
	var args []any
	switch t.To {
	case models.AuthorizationApproved:
		query = `UPDATE spending_authorizations SET status = $3, updated_at = $4,
			approved_by = $5, approved_at = $4, approved_amount = $6, approval_notes = $7
			WHERE id = $1 AND status = $2 RETURNING ` + authorizationColumns
		args = []any{id, from, t.To, t.At, t.ApprovedBy, nullDecimal(t.ApprovedAmount), t.ApprovalNotes}
	case models.AuthorizationRejected:
		query = `UPDATE spending_authorizations SET status = $3, updated_at = $4,
			rejected_by = $5, rejected_at = $4, rejection_reason = $6
			WHERE id = $1 AND status = $2 RETURNING ` + authorizationColumns
		args = []any{id, from, t.To, t.At, t.RejectedBy, t.RejectionReason}
	default:
		query = `UPDATE spending_authorizations SET status = $3, updated_at = $4
			WHERE id = $1 AND status = $2 RETURNING ` + authorizationColumns
		args = []any{id, from, t.To, t.At}
	}

	a, err := scanAuthorization(p.db.QueryRowContext(ctx, query, args...))
	if err == nil {
		return a, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return models.SpendingAuthorization{}, storageErr("transition authorization", err)
	}

	current, err := p.GetAuthorization(ctx, id)
	if err != nil {
		return models.SpendingAuthorization{}, err
	}
	return current, fmt.Errorf("authorization %s is %s: %w", id, current.Status, models.ErrAlreadyProcessed)
}

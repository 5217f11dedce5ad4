package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/sheikh-saqib/budget-compliance-engine/internal/models"
)

const periodColumns = `fiscal_year, period_number, company_id, period_type, is_locked,
	locked_by, locked_at, lock_reason, unlocked_by, unlocked_at, unlock_reason, status,
	warning_threshold, block_threshold, allow_override, created_at, updated_at`

func scanPeriod(row rowScanner) (models.BudgetPeriod, error) {
	var p models.BudgetPeriod
	var lockedAt, unlockedAt sql.NullTime
	err := row.Scan(&p.FiscalYear, &p.PeriodNumber, &p.CompanyID, &p.PeriodType, &p.IsLocked,
		&p.LockedBy, &lockedAt, &p.LockReason, &p.UnlockedBy, &unlockedAt, &p.UnlockReason, &p.Status,
		&p.WarningThreshold, &p.BlockThreshold, &p.AllowOverride, &p.CreatedAt, &p.UpdatedAt)
	p.LockedAt = timePtr(lockedAt)
	p.UnlockedAt = timePtr(unlockedAt)
	p.CreatedAt = p.CreatedAt.UTC()
	p.UpdatedAt = p.UpdatedAt.UTC()
	return p, err
}

func (p *PostgresLedgerStore) GetPeriod(ctx context.Context, key models.PeriodKey) (models.BudgetPeriod, error) {
	query := `SELECT ` + periodColumns + ` FROM budget_periods
		WHERE fiscal_year = $1 AND period_number = $2 AND company_id = $3 AND period_type = $4`

	period, err := scanPeriod(p.db.QueryRowContext(ctx, query,
		key.FiscalYear, key.PeriodNumber, key.CompanyID, models.PeriodTypeMonthly))
	if errors.Is(err, sql.ErrNoRows) {
		return models.BudgetPeriod{}, fmt.Errorf("period %s: %w", key, models.ErrNotFound)
	}
	if err != nil {
		return models.BudgetPeriod{}, storageErr("get period", err)
	}
	return period, nil
}

// CreatePeriodIfAbsent relies on the primary key: a concurrent insert of
// the same period loses quietly and the winner's row is returned.
func (p *PostgresLedgerStore) CreatePeriodIfAbsent(ctx context.Context, period models.BudgetPeriod) (models.BudgetPeriod, error) {
	if period.PeriodType == "" {
		period.PeriodType = models.PeriodTypeMonthly
	}
	query := `INSERT INTO budget_periods (` + periodColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17)
		ON CONFLICT (fiscal_year, period_number, company_id, period_type) DO NOTHING`

	_, err := p.db.ExecContext(ctx, query,
		period.FiscalYear, period.PeriodNumber, period.CompanyID, period.PeriodType, period.IsLocked,
		period.LockedBy, nullTime(period.LockedAt), period.LockReason,
		period.UnlockedBy, nullTime(period.UnlockedAt), period.UnlockReason, period.Status,
		period.WarningThreshold, period.BlockThreshold, period.AllowOverride, period.CreatedAt, period.UpdatedAt)
	if err != nil {
		return models.BudgetPeriod{}, storageErr("insert period", err)
	}
	return p.GetPeriod(ctx, period.PeriodKey)
}

func (p *PostgresLedgerStore) UpdatePeriodLock(ctx context.Context, period models.BudgetPeriod) error {
	query := `UPDATE budget_periods SET
		is_locked = $5, locked_by = $6, locked_at = $7, lock_reason = $8,
		unlocked_by = $9, unlocked_at = $10, unlock_reason = $11, status = $12, updated_at = $13
		WHERE fiscal_year = $1 AND period_number = $2 AND company_id = $3 AND period_type = $4`

	res, err := p.db.ExecContext(ctx, query,
		period.FiscalYear, period.PeriodNumber, period.CompanyID, models.PeriodTypeMonthly,
		period.IsLocked, period.LockedBy, nullTime(period.LockedAt), period.LockReason,
		period.UnlockedBy, nullTime(period.UnlockedAt), period.UnlockReason, period.Status, period.UpdatedAt)
	if err != nil {
		return storageErr("update period lock", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return storageErr("update period lock", err)
	}
	if n == 0 {
		return fmt.Errorf("period %s: %w", period.PeriodKey, models.ErrNotFound)
	}
	return nil
}

func (p *PostgresLedgerStore) FirstPeriodOfYear(ctx context.Context, fiscalYear int, companyID string) (models.BudgetPeriod, error) {
	query := `SELECT ` + periodColumns + ` FROM budget_periods
		WHERE fiscal_year = $1 AND company_id = $2
		ORDER BY period_number LIMIT 1`

	period, err := scanPeriod(p.db.QueryRowContext(ctx, query, fiscalYear, companyID))
	if errors.Is(err, sql.ErrNoRows) {
		return models.BudgetPeriod{}, fmt.Errorf("periods of %d@%s: %w", fiscalYear, companyID, models.ErrNotFound)
	}
	if err != nil {
		return models.BudgetPeriod{}, storageErr("first period of year", err)
	}
	return period, nil
}

package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	interfaces "github.com/sheikh-saqib/budget-compliance-engine/internal/interfaces"
	"github.com/sheikh-saqib/budget-compliance-engine/internal/models"

	"github.com/lib/pq"
	"github.com/shopspring/decimal"
)

const estimateColumns = `id, item_code, item_name, budget_type, fund_source_id, fiscal_year,
	allocated_amount, committed_amount, spent_amount, status, updated_at`

const fundSourceColumns = `id, code, name, type, fiscal_year,
	allocated_amount, spent_amount, remaining_amount, status, updated_at`

const transactionColumns = `id, budget_estimate_id, fund_source_id, transaction_type, transaction_date,
	voucher_id, doc_no, amount, budget_allocated, budget_committed, budget_spent, budget_available,
	authorization_id, fiscal_year, period, description, created_by, created_at`

func scanEstimate(row rowScanner) (models.BudgetEstimate, error) {
	var e models.BudgetEstimate
	err := row.Scan(&e.ID, &e.ItemCode, &e.ItemName, &e.BudgetType, &e.FundSourceID, &e.FiscalYear,
		&e.AllocatedAmount, &e.CommittedAmount, &e.SpentAmount, &e.Status, &e.UpdatedAt)
	e.UpdatedAt = e.UpdatedAt.UTC()
	return e, err
}

func scanFundSource(row rowScanner) (models.FundSource, error) {
	var f models.FundSource
	err := row.Scan(&f.ID, &f.Code, &f.Name, &f.Type, &f.FiscalYear,
		&f.AllocatedAmount, &f.SpentAmount, &f.RemainingAmount, &f.Status, &f.UpdatedAt)
	f.UpdatedAt = f.UpdatedAt.UTC()
	return f, err
}

func scanTransaction(row rowScanner) (models.BudgetTransaction, error) {
	var t models.BudgetTransaction
	err := row.Scan(&t.ID, &t.BudgetEstimateID, &t.FundSourceID, &t.TransactionType, &t.TransactionDate,
		&t.VoucherID, &t.DocNo, &t.Amount, &t.BudgetAllocated, &t.BudgetCommitted, &t.BudgetSpent, &t.BudgetAvailable,
		&t.AuthorizationID, &t.FiscalYear, &t.Period, &t.Description, &t.CreatedBy, &t.CreatedAt)
	t.TransactionDate = t.TransactionDate.UTC()
	t.CreatedAt = t.CreatedAt.UTC()
	return t, err
}

func (p *PostgresLedgerStore) GetBudgetEstimate(ctx context.Context, id string) (models.BudgetEstimate, error) {
	query := `SELECT ` + estimateColumns + ` FROM budget_estimates WHERE id = $1`

	e, err := scanEstimate(p.db.QueryRowContext(ctx, query, id))
	if errors.Is(err, sql.ErrNoRows) {
		return models.BudgetEstimate{}, fmt.Errorf("budget estimate %s: %w", id, models.ErrNotFound)
	}
	if err != nil {
		return models.BudgetEstimate{}, storageErr("get budget estimate", err)
	}
	return e, nil
}

func (p *PostgresLedgerStore) FindBudgetEstimateByItemCode(ctx context.Context, fiscalYear int, itemCode string) (models.BudgetEstimate, error) {
	query := `SELECT ` + estimateColumns + ` FROM budget_estimates WHERE fiscal_year = $1 AND item_code = $2`

	e, err := scanEstimate(p.db.QueryRowContext(ctx, query, fiscalYear, itemCode))
	if errors.Is(err, sql.ErrNoRows) {
		return models.BudgetEstimate{}, fmt.Errorf("budget estimate %d/%s: %w", fiscalYear, itemCode, models.ErrNotFound)
	}
	if err != nil {
		return models.BudgetEstimate{}, storageErr("find budget estimate", err)
	}
	return e, nil
}

func (p *PostgresLedgerStore) GetFundSource(ctx context.Context, id string) (models.FundSource, error) {
	query := `SELECT ` + fundSourceColumns + ` FROM fund_sources WHERE id = $1`

	f, err := scanFundSource(p.db.QueryRowContext(ctx, query, id))
	if errors.Is(err, sql.ErrNoRows) {
		return models.FundSource{}, fmt.Errorf("fund source %s: %w", id, models.ErrNotFound)
	}
	if err != nil {
		return models.FundSource{}, storageErr("get fund source", err)
	}
	return f, nil
}

func (p *PostgresLedgerStore) ListBudgetEstimates(ctx context.Context, filter models.EstimateFilter) ([]models.BudgetEstimate, error) {
	var w where
	if filter.FiscalYear != 0 {
		w.add("fiscal_year = $%d", filter.FiscalYear)
	}
	if len(filter.Statuses) > 0 {
		w.add("status = ANY($%d)", pq.Array(stringSlice(filter.Statuses)))
	}
	query := `SELECT ` + estimateColumns + ` FROM budget_estimates` + w.String() + ` ORDER BY item_code`

	rows, err := p.db.QueryContext(ctx, query, w.args...)
	if err != nil {
		return nil, storageErr("list budget estimates", err)
	}
	defer rows.Close()

	var estimates []models.BudgetEstimate
	for rows.Next() {
		e, err := scanEstimate(rows)
		if err != nil {
			return nil, storageErr("scan budget estimate", err)
		}
		estimates = append(estimates, e)
	}
	if err := rows.Err(); err != nil {
		return nil, storageErr("list budget estimates", err)
	}
	return estimates, nil
}

// ApplyBudgetTransaction locks the target row with SELECT ... FOR UPDATE,
// so concurrent writers to the same row queue inside the database even
// when no external locker is configured.
func (p *PostgresLedgerStore) ApplyBudgetTransaction(ctx context.Context, target models.BudgetTarget, fn interfaces.ApplyFunc) (result models.BudgetTransaction, err error) {
	// Start a DB transaction; the insert and the balance update commit together
	tx, err := p.db.BeginTx(ctx, nil)
	if err != nil {
		return models.BudgetTransaction{}, storageErr("begin transaction", err)
	}
	// Rollback if anything below fails
	defer func() {
		if err != nil {
			tx.Rollback()
		}
	}()

	// Read the balances and lock the row until commit
	var current models.Balances
	switch target.Kind {
	case models.TargetBudgetEstimate:
		err = tx.QueryRowContext(ctx,
			`SELECT allocated_amount, committed_amount, spent_amount FROM budget_estimates WHERE id = $1 FOR UPDATE`,
			target.ID).Scan(&current.Allocated, &current.Committed, &current.Spent)
	case models.TargetFundSource:
		current.Committed = decimal.Zero
		err = tx.QueryRowContext(ctx,
			`SELECT allocated_amount, spent_amount FROM fund_sources WHERE id = $1 FOR UPDATE`,
			target.ID).Scan(&current.Allocated, &current.Spent)
	default:
		return models.BudgetTransaction{}, fmt.Errorf("unknown target kind %q: %w", target.Kind, models.ErrInvalidTransaction)
	}
	if errors.Is(err, sql.ErrNoRows) {
		err = fmt.Errorf("%s: %w", target, models.ErrNotFound)
		return models.BudgetTransaction{}, err
	}
	if err != nil {
		err = storageErr("lock budget row", err)
		return models.BudgetTransaction{}, err
	}

	// Let the caller compute the transaction row and the new balances
	record, next, err := fn(current)
	if err != nil {
		return models.BudgetTransaction{}, err
	}

	// Append the transaction row
	insertQuery := `INSERT INTO budget_transactions (` + transactionColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18)`
	_, err = tx.ExecContext(ctx, insertQuery,
		record.ID, record.BudgetEstimateID, record.FundSourceID, record.TransactionType, record.TransactionDate,
		record.VoucherID, record.DocNo, record.Amount, record.BudgetAllocated, record.BudgetCommitted,
		record.BudgetSpent, record.BudgetAvailable, record.AuthorizationID, record.FiscalYear, record.Period,
		record.Description, record.CreatedBy, record.CreatedAt)
	if err != nil {
		err = storageErr("insert budget transaction", err)
		return models.BudgetTransaction{}, err
	}

	// Write the new balances back to the locked row
	switch target.Kind {
	case models.TargetBudgetEstimate:
		_, err = tx.ExecContext(ctx,
			`UPDATE budget_estimates SET allocated_amount = $2, committed_amount = $3, spent_amount = $4, updated_at = $5 WHERE id = $1`,
			target.ID, next.Allocated, next.Committed, next.Spent, record.CreatedAt)
	case models.TargetFundSource:
		if !next.Committed.IsZero() {
			err = fmt.Errorf("fund source %s cannot carry commitments: %w", target.ID, models.ErrInvalidTransaction)
			return models.BudgetTransaction{}, err
		}
		_, err = tx.ExecContext(ctx,
			`UPDATE fund_sources SET allocated_amount = $2, spent_amount = $3, remaining_amount = $4, updated_at = $5 WHERE id = $1`,
			target.ID, next.Allocated, next.Spent, next.Allocated.Sub(next.Spent), record.CreatedAt)
	}
	if err != nil {
		err = storageErr("update budget row", err)
		return models.BudgetTransaction{}, err
	}

	// Commit releases the row lock
	if err = tx.Commit(); err != nil {
		err = storageErr("commit budget transaction", err)
		return models.BudgetTransaction{}, err
	}
	return record, nil
}

func (p *PostgresLedgerStore) ListBudgetTransactions(ctx context.Context, filter models.TransactionFilter) ([]models.BudgetTransaction, error) {
	var w where
	if filter.BudgetEstimateID != "" {
		w.add("budget_estimate_id = $%d", filter.BudgetEstimateID)
	}
	if filter.FundSourceID != "" {
		w.add("fund_source_id = $%d", filter.FundSourceID)
	}
	if filter.FiscalYear != 0 {
		w.add("fiscal_year = $%d", filter.FiscalYear)
	}
	query := `SELECT ` + transactionColumns + ` FROM budget_transactions` + w.String() + ` ORDER BY seq` +
		w.page(filter.Limit, filter.Offset)

	rows, err := p.db.QueryContext(ctx, query, w.args...)
	if err != nil {
		return nil, storageErr("list budget transactions", err)
	}
	defer rows.Close()

	var transactions []models.BudgetTransaction
	for rows.Next() {
		t, err := scanTransaction(rows)
		if err != nil {
			return nil, storageErr("scan budget transaction", err)
		}
		transactions = append(transactions, t)
	}
	if err := rows.Err(); err != nil {
		return nil, storageErr("list budget transactions", err)
	}
	return transactions, nil
}

// ListPostings reads the general ledger's voucher postings of one year.
func (p *PostgresLedgerStore) ListPostings(ctx context.Context, fiscalYear int) ([]models.Posting, error) {
	query := `SELECT id, voucher_id, doc_no, fiscal_year, period, partner_code, partner_name, amount, posted_at
		FROM voucher_postings WHERE fiscal_year = $1 ORDER BY posted_at, id`

	rows, err := p.db.QueryContext(ctx, query, fiscalYear)
	if err != nil {
		return nil, storageErr("list postings", err)
	}
	defer rows.Close()

	var postings []models.Posting
	for rows.Next() {
		var ps models.Posting
		if err := rows.Scan(&ps.ID, &ps.VoucherID, &ps.DocNo, &ps.FiscalYear, &ps.Period,
			&ps.PartnerCode, &ps.PartnerName, &ps.Amount, &ps.PostedAt); err != nil {
			return nil, storageErr("scan posting", err)
		}
		ps.PostedAt = ps.PostedAt.UTC()
		postings = append(postings, ps)
	}
	if err := rows.Err(); err != nil {
		return nil, storageErr("list postings", err)
	}
	return postings, nil
}

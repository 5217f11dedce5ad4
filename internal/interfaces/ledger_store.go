package interfaces

import (
	"context"

	"github.com/sheikh-saqib/budget-compliance-engine/internal/models"
)

// ApplyFunc computes the transaction row and the new balances from the
// balances read inside the store's atomic unit.
type ApplyFunc func(current models.Balances) (models.BudgetTransaction, models.Balances, error)

// BudgetStore owns fund sources, budget estimates and their transactions.
// Lookups of missing rows return models.ErrNotFound.
type BudgetStore interface {
	GetBudgetEstimate(ctx context.Context, id string) (models.BudgetEstimate, error)
	FindBudgetEstimateByItemCode(ctx context.Context, fiscalYear int, itemCode string) (models.BudgetEstimate, error)
	GetFundSource(ctx context.Context, id string) (models.FundSource, error)
	ListBudgetEstimates(ctx context.Context, filter models.EstimateFilter) ([]models.BudgetEstimate, error)

	// ApplyBudgetTransaction reads the target row, calls fn, appends the
	// returned transaction and writes the returned balances as one atomic
	// unit. Either both writes happen or neither does.
	ApplyBudgetTransaction(ctx context.Context, target models.BudgetTarget, fn ApplyFunc) (models.BudgetTransaction, error)
	ListBudgetTransactions(ctx context.Context, filter models.TransactionFilter) ([]models.BudgetTransaction, error)
}

type PeriodStore interface {
	GetPeriod(ctx context.Context, key models.PeriodKey) (models.BudgetPeriod, error)
	// CreatePeriodIfAbsent inserts p unless a row with the same key exists,
	// and returns the stored row either way.
	CreatePeriodIfAbsent(ctx context.Context, p models.BudgetPeriod) (models.BudgetPeriod, error)
	UpdatePeriodLock(ctx context.Context, p models.BudgetPeriod) error
	// FirstPeriodOfYear returns the lowest-numbered period row of a
	// fiscal year and company; it carries the year's threshold policy.
	FirstPeriodOfYear(ctx context.Context, fiscalYear int, companyID string) (models.BudgetPeriod, error)
}

type AuthorizationStore interface {
	InsertAuthorization(ctx context.Context, a models.SpendingAuthorization) error
	GetAuthorization(ctx context.Context, id string) (models.SpendingAuthorization, error)
	ListAuthorizations(ctx context.Context, filter models.AuthorizationFilter) ([]models.SpendingAuthorization, error)
	// TransitionAuthorization applies t only while the stored status equals
	// from, in the same atomic update. A status mismatch returns
	// models.ErrAlreadyProcessed, a missing row models.ErrNotFound.
	TransitionAuthorization(ctx context.Context, id string, from models.AuthorizationStatus, t models.AuthorizationTransition) (models.SpendingAuthorization, error)
}

type AlertStore interface {
	InsertAlert(ctx context.Context, a models.BudgetAlert) error
	GetAlert(ctx context.Context, id string) (models.BudgetAlert, error)
	ListAlerts(ctx context.Context, filter models.AlertFilter) ([]models.BudgetAlert, error)
	TransitionAlert(ctx context.Context, id string, t models.AlertTransition) (models.BudgetAlert, error)
}

// AuditStore is append-only; records are never updated.
type AuditStore interface {
	InsertAuditRecord(ctx context.Context, r models.AuditRecord) error
	GetAuditRecord(ctx context.Context, id string) (models.AuditRecord, error)
	QueryAuditRecords(ctx context.Context, filter models.AuditFilter) ([]models.AuditRecord, error)
}

type AnomalyStore interface {
	InsertAnomaly(ctx context.Context, a models.Anomaly) error
	ListAnomalies(ctx context.Context, filter models.AnomalyFilter) ([]models.Anomaly, error)
	ReviewAnomaly(ctx context.Context, id string, r models.AnomalyReview) (models.Anomaly, error)
}

// PostingStore reads voucher postings owned by the general ledger.
type PostingStore interface {
	ListPostings(ctx context.Context, fiscalYear int) ([]models.Posting, error)
}

// Store is the full persistence surface of the engine.
type Store interface {
	BudgetStore
	PeriodStore
	AuthorizationStore
	AlertStore
	AuditStore
	AnomalyStore
	PostingStore
}

package ledger

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/sheikh-saqib/budget-compliance-engine/internal/clock"
	"github.com/sheikh-saqib/budget-compliance-engine/internal/config"
	interfaces "github.com/sheikh-saqib/budget-compliance-engine/internal/interfaces"
	"github.com/sheikh-saqib/budget-compliance-engine/internal/locking"
	"github.com/sheikh-saqib/budget-compliance-engine/internal/models"
	"github.com/sheikh-saqib/budget-compliance-engine/internal/models/events"
	"github.com/sheikh-saqib/budget-compliance-engine/internal/validation"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
)

const moduleName = "ledger"

// Observer is notified after a transaction has committed.
type Observer interface {
	TransactionRecorded(ctx context.Context, tx models.BudgetTransaction)
}

// PostingGate refuses postings into locked periods.
type PostingGate interface {
	EnforcePostingGate(ctx context.Context, key models.PeriodKey) error
}

// ApprovalChecker confirms a referenced authorization is approved.
type ApprovalChecker interface {
	RequireApproved(ctx context.Context, id string) (models.SpendingAuthorization, error)
}

// Ledger is the only writer of fund source and budget estimate balances.
// Each call applies one transaction to one row.
type Ledger struct {
	store     interfaces.BudgetStore
	locker    interfaces.Locker
	gate      PostingGate
	approvals ApprovalChecker
	audit     interfaces.AuditLogger
	publisher interfaces.EventPublisher
	clock     clock.Clock
	logger    *logrus.Logger
	companyID string
	observers []Observer
}

type Deps struct {
	Store     interfaces.BudgetStore
	Locker    interfaces.Locker
	Gate      PostingGate
	Approvals ApprovalChecker
	Audit     interfaces.AuditLogger
	Publisher interfaces.EventPublisher
	Clock     clock.Clock
	Logger    *logrus.Logger
	CompanyID string
}

// NewLedger wires a ledger. Gate and Approvals are optional; without a
// Locker an in-process mutex map is used.
func NewLedger(d Deps) *Ledger {
	if d.Locker == nil {
		d.Locker = locking.NewMutexLocker()
	}
	if d.Clock == nil {
		d.Clock = clock.System()
	}
	if d.Logger == nil {
		d.Logger = config.NewNopLogger()
	}
	return &Ledger{
		store:     d.Store,
		locker:    d.Locker,
		gate:      d.Gate,
		approvals: d.Approvals,
		audit:     d.Audit,
		publisher: d.Publisher,
		clock:     d.Clock,
		logger:    d.Logger,
		companyID: d.CompanyID,
	}
}

// RegisterObserver is not safe to call concurrently with RecordBudgetTransaction.
func (l *Ledger) RegisterObserver(o Observer) {
	l.observers = append(l.observers, o)
}

type RecordParams struct {
	BudgetEstimateID string                 `json:"budget_estimate_id"`
	FundSourceID     string                 `json:"fund_source_id"`
	TransactionType  models.TransactionType `json:"transaction_type" validate:"required,oneof=COMMITMENT SPENDING REVERSAL TRANSFER_IN TRANSFER_OUT"`
	Amount           decimal.Decimal        `json:"amount"`
	TransactionDate  time.Time              `json:"transaction_date"`
	VoucherID        string                 `json:"voucher_id"`
	DocNo            string                 `json:"doc_no"`
	AuthorizationID  string                 `json:"authorization_id"`
	FiscalYear       int                    `json:"fiscal_year" validate:"required,gte=1900,lte=9999"`
	Period           int                    `json:"period" validate:"required,gte=1,lte=12"`
	Description      string                 `json:"description"`
}

type Result struct {
	TransactionID string          `json:"transaction_id"`
	Balances      models.Balances `json:"balances"`
	Available     decimal.Decimal `json:"available"`
}

// Apply computes the balances after one transaction. Available may go
// negative; authorization has already happened by the time a transaction
// is recorded.
func Apply(current models.Balances, typ models.TransactionType, amount decimal.Decimal) (models.Balances, error) {
	next := current
	switch typ {
	case models.TransactionCommitment:
		next.Committed = current.Committed.Add(amount)
	case models.TransactionSpending:
		next.Spent = current.Spent.Add(amount)
		// spending releases the commitment it settles
		next.Committed = decimal.Max(decimal.Zero, current.Committed.Sub(amount))
	case models.TransactionReversal:
		next.Spent = current.Spent.Sub(amount)
	case models.TransactionTransferOut:
		next.Spent = current.Spent.Add(amount)
	case models.TransactionTransferIn:
		next.Allocated = current.Allocated.Add(amount)
	default:
		return current, fmt.Errorf("transaction type %q: %w", typ, models.ErrInvalidTransaction)
	}
	return next, nil
}

// RecordBudgetTransaction appends one immutable transaction and updates
// the row it targets in a single atomic store unit. Storage errors are
// returned; audit, event and observer failures are only logged.
func (l *Ledger) RecordBudgetTransaction(ctx context.Context, actor models.Actor, p RecordParams) (Result, error) {
	// Basic validation: type, fiscal year and period come from the struct tags,
	// the amount must be positive
	if err := validation.Struct(p); err != nil {
		return Result{}, err
	}
	if !p.Amount.IsPositive() {
		return Result{}, fmt.Errorf("amount must be positive: %w", models.ErrValidation)
	}
	// Resolve the one row this transaction moves
	target, err := singleTarget(p.BudgetEstimateID, p.FundSourceID)
	if err != nil {
		return Result{}, err
	}
	if target.Kind == models.TargetFundSource && p.TransactionType == models.TransactionCommitment {
		return Result{}, fmt.Errorf("fund sources carry no commitments: %w", models.ErrInvalidTransaction)
	}

	// Refuse postings into a locked period
	if l.gate != nil {
		key := models.PeriodKey{FiscalYear: p.FiscalYear, PeriodNumber: p.Period, CompanyID: l.companyID}
		if err := l.gate.EnforcePostingGate(ctx, key); err != nil {
			return Result{}, err
		}
	}
	// A referenced authorization must be approved and cover this same row
	if p.AuthorizationID != "" {
		if err := l.checkAuthorization(ctx, p.AuthorizationID, target); err != nil {
			return Result{}, err
		}
	}

	// Get the lock for the row; writers of one row queue up here
	unlock, err := l.locker.Lock(ctx, target.String())
	if err != nil {
		return Result{}, fmt.Errorf("lock %s: %w", target, err)
	}
	defer unlock()

	// CreatedAt is commit time, TransactionDate is the business date
	now := l.clock.Now()
	txDate := p.TransactionDate
	if txDate.IsZero() {
		txDate = now
	}

	// The store reads the current balances, we compute the new ones, and the
	// store appends the transaction row and updates the balances as one unit
	tx, err := l.store.ApplyBudgetTransaction(ctx, target, func(current models.Balances) (models.BudgetTransaction, models.Balances, error) {
		next, err := Apply(current, p.TransactionType, p.Amount)
		if err != nil {
			return models.BudgetTransaction{}, current, err
		}
		return models.BudgetTransaction{
			ID:               uuid.New().String(),
			BudgetEstimateID: p.BudgetEstimateID,
			FundSourceID:     p.FundSourceID,
			TransactionType:  p.TransactionType,
			TransactionDate:  txDate,
			VoucherID:        p.VoucherID,
			DocNo:            p.DocNo,
			Amount:           p.Amount,
			BudgetAllocated:  next.Allocated,
			BudgetCommitted:  next.Committed,
			BudgetSpent:      next.Spent,
			BudgetAvailable:  next.Available(),
			AuthorizationID:  p.AuthorizationID,
			FiscalYear:       p.FiscalYear,
			Period:           p.Period,
			Description:      p.Description,
			CreatedBy:        actor.UserID,
			CreatedAt:        now,
		}, next, nil
	})
	if err != nil {
		return Result{}, fmt.Errorf("record %s on %s: %w", p.TransactionType, target, err)
	}

	// Audit, event and observers run after commit; their failures are only logged
	l.afterCommit(ctx, actor, tx)
	return Result{TransactionID: tx.ID, Balances: tx.BalancesAfter(), Available: tx.BudgetAvailable}, nil
}

func (l *Ledger) checkAuthorization(ctx context.Context, id string, target models.BudgetTarget) error {
	if l.approvals == nil {
		return nil
	}
	a, err := l.approvals.RequireApproved(ctx, id)
	if err != nil {
		return err
	}
	covered, _ := models.TargetOf(a.BudgetEstimateID, a.FundSourceID)
	if covered != target {
		return fmt.Errorf("authorization %s covers %s, not %s: %w", id, covered, target, models.ErrNotApproved)
	}
	return nil
}

func (l *Ledger) afterCommit(ctx context.Context, actor models.Actor, tx models.BudgetTransaction) {
	amount := tx.Amount
	res := l.audit.LogAudit(ctx, models.AuditEntry{
		EntityType:  models.EntityBudgetTransaction,
		EntityID:    tx.ID,
		DocNo:       tx.DocNo,
		Action:      models.AuditActionCreate,
		Actor:       actor,
		Description: fmt.Sprintf("%s of %s on %s", tx.TransactionType, amount.StringFixed(2), tx.Target()),
		NewValues:   transactionValues(tx),
		FiscalYear:  tx.FiscalYear,
		Period:      tx.Period,
		Amount:      &amount,
	})
	if !res.Success {
		config.LogError(l.logger, moduleName, "RecordBudgetTransaction", "transaction audit not written", tx.ID, res.Err)
	}

	// Publish the event keyed by row id so one row's events stay in order
	if l.publisher != nil {
		event := events.TransactionRecorded{
			TransactionID:    tx.ID,
			BudgetEstimateID: tx.BudgetEstimateID,
			FundSourceID:     tx.FundSourceID,
			TransactionType:  string(tx.TransactionType),
			Amount:           tx.Amount,
			Allocated:        tx.BudgetAllocated,
			Committed:        tx.BudgetCommitted,
			Spent:            tx.BudgetSpent,
			Available:        tx.BudgetAvailable,
			AuthorizationID:  tx.AuthorizationID,
			FiscalYear:       tx.FiscalYear,
			Period:           tx.Period,
			OccurredAt:       tx.CreatedAt,
		}
		if err := l.publisher.Publish(ctx, events.TopicTransactionRecorded, tx.Target().ID, event); err != nil {
			config.LogError(l.logger, moduleName, "RecordBudgetTransaction", "transaction event not published", tx.ID, err)
		}
	}

	// Notify observers (the alert monitor) with the committed row
	for _, o := range l.observers {
		o.TransactionRecorded(ctx, tx)
	}
}

type TransferParams struct {
	FromBudgetEstimateID string          `json:"from_budget_estimate_id"`
	FromFundSourceID     string          `json:"from_fund_source_id"`
	ToBudgetEstimateID   string          `json:"to_budget_estimate_id"`
	ToFundSourceID       string          `json:"to_fund_source_id"`
	Amount               decimal.Decimal `json:"amount"`
	DocNo                string          `json:"doc_no"`
	AuthorizationID      string          `json:"authorization_id"`
	FiscalYear           int             `json:"fiscal_year"`
	Period               int             `json:"period"`
	Description          string          `json:"description"`
}

type TransferResult struct {
	Out Result `json:"out"`
	In  Result `json:"in"`
}

// TransferBudget records TRANSFER_OUT on the source row, then TRANSFER_IN
// on the receiving row. If the second call fails the first is undone with
// a REVERSAL on the source row.
func (l *Ledger) TransferBudget(ctx context.Context, actor models.Actor, p TransferParams) (TransferResult, error) {
	from, err := singleTarget(p.FromBudgetEstimateID, p.FromFundSourceID)
	if err != nil {
		return TransferResult{}, fmt.Errorf("transfer source: %w", err)
	}
	to, err := singleTarget(p.ToBudgetEstimateID, p.ToFundSourceID)
	if err != nil {
		return TransferResult{}, fmt.Errorf("transfer destination: %w", err)
	}
	if from == to {
		return TransferResult{}, fmt.Errorf("transfer within %s: %w", from, models.ErrInvalidTransaction)
	}

	side := func(t models.BudgetTarget, typ models.TransactionType, authorizationID string) RecordParams {
		rp := RecordParams{
			TransactionType: typ,
			Amount:          p.Amount,
			DocNo:           p.DocNo,
			AuthorizationID: authorizationID,
			FiscalYear:      p.FiscalYear,
			Period:          p.Period,
			Description:     p.Description,
		}
		if t.Kind == models.TargetFundSource {
			rp.FundSourceID = t.ID
		} else {
			rp.BudgetEstimateID = t.ID
		}
		return rp
	}

	out, err := l.RecordBudgetTransaction(ctx, actor, side(from, models.TransactionTransferOut, p.AuthorizationID))
	if err != nil {
		return TransferResult{}, err
	}
	in, err := l.RecordBudgetTransaction(ctx, actor, side(to, models.TransactionTransferIn, ""))
	if err != nil {
		comp := side(from, models.TransactionReversal, "")
		comp.Description = "reversal of failed transfer " + out.TransactionID
		if _, cerr := l.RecordBudgetTransaction(ctx, actor, comp); cerr != nil {
			config.LogError(l.logger, moduleName, "TransferBudget", "compensating reversal failed", out.TransactionID, cerr)
			return TransferResult{}, errors.Join(err, cerr)
		}
		return TransferResult{}, err
	}
	return TransferResult{Out: out, In: in}, nil
}

// ListTransactions returns transactions in commit order.
func (l *Ledger) ListTransactions(ctx context.Context, filter models.TransactionFilter) ([]models.BudgetTransaction, error) {
	return l.store.ListBudgetTransactions(ctx, filter)
}

// singleTarget resolves the one row a transaction moves. A transaction row
// stores both ids verbatim, so naming an estimate and a fund source at once
// would file it under a fund source whose balances it never touched.
func singleTarget(budgetEstimateID, fundSourceID string) (models.BudgetTarget, error) {
	if budgetEstimateID != "" && fundSourceID != "" {
		return models.BudgetTarget{}, fmt.Errorf("budget estimate %s and fund source %s both given: %w",
			budgetEstimateID, fundSourceID, models.ErrInvalidSelector)
	}
	target, ok := models.TargetOf(budgetEstimateID, fundSourceID)
	if !ok {
		return models.BudgetTarget{}, fmt.Errorf("budget estimate or fund source required: %w", models.ErrInvalidSelector)
	}
	return target, nil
}

func transactionValues(tx models.BudgetTransaction) models.Values {
	return models.Values{
		"transaction_type": string(tx.TransactionType),
		"target":           tx.Target().String(),
		"amount":           tx.Amount.String(),
		"budget_allocated": tx.BudgetAllocated.String(),
		"budget_committed": tx.BudgetCommitted.String(),
		"budget_spent":     tx.BudgetSpent.String(),
		"budget_available": tx.BudgetAvailable.String(),
		"authorization_id": tx.AuthorizationID,
		"voucher_id":       tx.VoucherID,
		"doc_no":           tx.DocNo,
	}
}

package ledger

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/sheikh-saqib/budget-compliance-engine/internal/audit"
	"github.com/sheikh-saqib/budget-compliance-engine/internal/authorization"
	"github.com/sheikh-saqib/budget-compliance-engine/internal/clock"
	"github.com/sheikh-saqib/budget-compliance-engine/internal/models"
	"github.com/sheikh-saqib/budget-compliance-engine/internal/period"
	"github.com/sheikh-saqib/budget-compliance-engine/internal/storage/memory"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	start  = time.Date(2025, 6, 2, 8, 0, 0, 0, time.UTC)
	poster = models.Actor{UserID: "u-post", Username: "dewi", Role: "ACCOUNTANT", IPAddress: "10.1.1.1"}
)

func d(v string) decimal.Decimal { return decimal.RequireFromString(v) }

type recordingObserver struct {
	mu  sync.Mutex
	txs []models.BudgetTransaction
}

func (o *recordingObserver) TransactionRecorded(_ context.Context, tx models.BudgetTransaction) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.txs = append(o.txs, tx)
}

type fixture struct {
	ledger  *Ledger
	store   *memory.MemoryLedgerStore
	periods *period.Manager
	authz   *authorization.Service
	clock   *clock.Fixed
}

func newFixture() fixture {
	store := memory.NewMemoryLedgerStore()
	store.PutBudgetEstimate(models.BudgetEstimate{
		ID: "be-1", ItemCode: "5.2.01", FiscalYear: 2025,
		AllocatedAmount: d("1000"), Status: models.EstimateStatusExecuting,
	})
	store.PutBudgetEstimate(models.BudgetEstimate{
		ID: "be-2", ItemCode: "5.2.02", FiscalYear: 2025,
		AllocatedAmount: d("400"), Status: models.EstimateStatusExecuting,
	})
	store.PutFundSource(models.FundSource{ID: "fs-1", Code: "APBD", FiscalYear: 2025, AllocatedAmount: d("5000")})

	clk := clock.NewFixed(start)
	auditLog := audit.NewLogger(store, clk, nil)
	periods := period.NewManager(store, auditLog, clk, nil)
	authz := authorization.NewService(authorization.Deps{
		Store: store, Budgets: store, Periods: store, Audit: auditLog, Clock: clk, CompanyID: "C1",
	})
	l := NewLedger(Deps{
		Store:     store,
		Gate:      periods,
		Approvals: authz,
		Audit:     auditLog,
		Clock:     clk,
		CompanyID: "C1",
	})
	return fixture{ledger: l, store: store, periods: periods, authz: authz, clock: clk}
}

func record(typ models.TransactionType, amount string) RecordParams {
	return RecordParams{
		BudgetEstimateID: "be-1",
		TransactionType:  typ,
		Amount:           d(amount),
		FiscalYear:       2025,
		Period:           6,
	}
}

func TestApply(t *testing.T) {
	b := models.Balances{Allocated: d("100"), Committed: d("30"), Spent: d("10")}

	next, err := Apply(b, models.TransactionCommitment, d("5"))
	require.NoError(t, err)
	assert.True(t, next.Committed.Equal(d("35")))

	next, err = Apply(b, models.TransactionSpending, d("50"))
	require.NoError(t, err)
	assert.True(t, next.Spent.Equal(d("60")))
	assert.True(t, next.Committed.IsZero())

	next, err = Apply(b, models.TransactionSpending, d("20"))
	require.NoError(t, err)
	assert.True(t, next.Committed.Equal(d("10")))

	next, err = Apply(b, models.TransactionReversal, d("4"))
	require.NoError(t, err)
	assert.True(t, next.Spent.Equal(d("6")))

	next, err = Apply(b, models.TransactionTransferOut, d("4"))
	require.NoError(t, err)
	assert.True(t, next.Spent.Equal(d("14")))

	next, err = Apply(b, models.TransactionTransferIn, d("25"))
	require.NoError(t, err)
	assert.True(t, next.Allocated.Equal(d("125")))
	assert.True(t, next.Spent.Equal(d("10")))

	_, err = Apply(b, "ADJUST", d("1"))
	assert.True(t, errors.Is(err, models.ErrInvalidTransaction))
}

func TestRecordBudgetTransaction_BalanceConservation(t *testing.T) {
	f := newFixture()
	ctx := context.Background()

	steps := []RecordParams{
		record(models.TransactionCommitment, "300"),
		record(models.TransactionSpending, "200"),
		record(models.TransactionSpending, "250"),
		record(models.TransactionReversal, "50"),
		record(models.TransactionTransferIn, "100"),
		record(models.TransactionTransferOut, "900"),
	}
	for _, step := range steps {
		res, err := f.ledger.RecordBudgetTransaction(ctx, poster, step)
		require.NoError(t, err)
		assert.True(t, res.Available.Equal(res.Balances.Available()), step.TransactionType)

		e, err := f.store.GetBudgetEstimate(ctx, "be-1")
		require.NoError(t, err)
		assert.Equal(t, res.Balances.Allocated.String(), e.AllocatedAmount.String())
		assert.Equal(t, res.Balances.Committed.String(), e.CommittedAmount.String())
		assert.Equal(t, res.Balances.Spent.String(), e.SpentAmount.String())
	}

	e, err := f.store.GetBudgetEstimate(ctx, "be-1")
	require.NoError(t, err)
	assert.True(t, e.AllocatedAmount.Equal(d("1100")))
	assert.True(t, e.CommittedAmount.IsZero())
	assert.True(t, e.SpentAmount.Equal(d("1300")))
	assert.True(t, e.Balances().Available().Equal(d("-200")))

	txs, err := f.ledger.ListTransactions(ctx, models.TransactionFilter{BudgetEstimateID: "be-1"})
	require.NoError(t, err)
	require.Len(t, txs, len(steps))
	for i, tx := range txs {
		assert.Equal(t, steps[i].TransactionType, tx.TransactionType)
		assert.True(t, tx.BudgetAvailable.Equal(tx.BalancesAfter().Available()))
		assert.Equal(t, "u-post", tx.CreatedBy)
	}
}

func TestRecordBudgetTransaction_WritesAuditAndNotifiesObservers(t *testing.T) {
	f := newFixture()
	obs := &recordingObserver{}
	f.ledger.RegisterObserver(obs)
	ctx := context.Background()

	p := record(models.TransactionSpending, "120")
	p.DocNo = "PV-2025-0101"
	res, err := f.ledger.RecordBudgetTransaction(ctx, poster, p)
	require.NoError(t, err)

	trail, err := f.store.QueryAuditRecords(ctx, models.AuditFilter{EntityType: models.EntityBudgetTransaction, EntityID: res.TransactionID})
	require.NoError(t, err)
	require.Len(t, trail, 1)
	assert.Equal(t, models.AuditActionCreate, trail[0].Action)
	assert.Equal(t, "PV-2025-0101", trail[0].DocNo)
	assert.Equal(t, poster, trail[0].Actor)
	assert.Equal(t, "880", trail[0].NewValues["budget_available"])

	require.Len(t, obs.txs, 1)
	assert.Equal(t, res.TransactionID, obs.txs[0].ID)
}

func TestRecordBudgetTransaction_FundSource(t *testing.T) {
	f := newFixture()
	ctx := context.Background()

	res, err := f.ledger.RecordBudgetTransaction(ctx, poster, RecordParams{
		FundSourceID: "fs-1", TransactionType: models.TransactionSpending, Amount: d("750"), FiscalYear: 2025, Period: 6,
	})
	require.NoError(t, err)
	assert.True(t, res.Available.Equal(d("4250")))

	fs, err := f.store.GetFundSource(ctx, "fs-1")
	require.NoError(t, err)
	assert.True(t, fs.RemainingAmount.Equal(d("4250")))

	_, err = f.ledger.RecordBudgetTransaction(ctx, poster, RecordParams{
		FundSourceID: "fs-1", TransactionType: models.TransactionCommitment, Amount: d("1"), FiscalYear: 2025, Period: 6,
	})
	assert.True(t, errors.Is(err, models.ErrInvalidTransaction))
}

func TestRecordBudgetTransaction_RejectsEstimateAndFundSourceTogether(t *testing.T) {
	f := newFixture()
	ctx := context.Background()

	both := record(models.TransactionSpending, "100")
	both.FundSourceID = "fs-1"
	_, err := f.ledger.RecordBudgetTransaction(ctx, poster, both)
	assert.True(t, errors.Is(err, models.ErrInvalidSelector))

	_, err = f.ledger.TransferBudget(ctx, poster, TransferParams{
		FromBudgetEstimateID: "be-1", FromFundSourceID: "fs-1", ToBudgetEstimateID: "be-2",
		Amount: d("10"), FiscalYear: 2025, Period: 6,
	})
	assert.True(t, errors.Is(err, models.ErrInvalidSelector))

	// nothing was filed under either row
	for _, filter := range []models.TransactionFilter{{BudgetEstimateID: "be-1"}, {FundSourceID: "fs-1"}} {
		txs, err := f.ledger.ListTransactions(ctx, filter)
		require.NoError(t, err)
		assert.Empty(t, txs)
	}
	e, err := f.store.GetBudgetEstimate(ctx, "be-1")
	require.NoError(t, err)
	assert.True(t, e.SpentAmount.IsZero())
}

func TestRecordBudgetTransaction_Rejections(t *testing.T) {
	f := newFixture()
	ctx := context.Background()

	_, err := f.ledger.RecordBudgetTransaction(ctx, poster, record(models.TransactionSpending, "0"))
	assert.True(t, errors.Is(err, models.ErrValidation))

	bad := record(models.TransactionSpending, "1")
	bad.Period = 13
	_, err = f.ledger.RecordBudgetTransaction(ctx, poster, bad)
	assert.True(t, errors.Is(err, models.ErrValidation))

	missing := record(models.TransactionSpending, "1")
	missing.BudgetEstimateID = "nope"
	_, err = f.ledger.RecordBudgetTransaction(ctx, poster, missing)
	assert.True(t, errors.Is(err, models.ErrNotFound))

	none := record(models.TransactionSpending, "1")
	none.BudgetEstimateID = ""
	_, err = f.ledger.RecordBudgetTransaction(ctx, poster, none)
	assert.True(t, errors.Is(err, models.ErrInvalidSelector))

	txs, err := f.ledger.ListTransactions(ctx, models.TransactionFilter{})
	require.NoError(t, err)
	assert.Empty(t, txs)
}

func TestRecordBudgetTransaction_LockedPeriod(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	key := models.PeriodKey{FiscalYear: 2025, PeriodNumber: 6, CompanyID: "C1"}

	_, err := f.periods.EnsurePeriod(ctx, key)
	require.NoError(t, err)
	require.NoError(t, f.periods.LockPeriod(ctx, key, poster, "june close"))

	_, err = f.ledger.RecordBudgetTransaction(ctx, poster, record(models.TransactionSpending, "10"))
	assert.True(t, errors.Is(err, models.ErrPeriodLocked))

	require.NoError(t, f.periods.UnlockPeriod(ctx, key, poster, "correction"))
	_, err = f.ledger.RecordBudgetTransaction(ctx, poster, record(models.TransactionSpending, "10"))
	assert.NoError(t, err)
}

func TestRecordBudgetTransaction_RequiresApprovedAuthorization(t *testing.T) {
	f := newFixture()
	ctx := context.Background()

	req, err := f.authz.CreateSpendingAuthorization(ctx, poster, authorization.CreateParams{
		RequestType:      models.ApprovalBudgetOverride,
		BudgetEstimateID: "be-1",
		FiscalYear:       2025,
		RequestedAmount:  d("1500"),
		Purpose:          "emergency repair",
	})
	require.NoError(t, err)

	p := record(models.TransactionSpending, "1500")
	p.AuthorizationID = req.AuthorizationID
	_, err = f.ledger.RecordBudgetTransaction(ctx, poster, p)
	assert.True(t, errors.Is(err, models.ErrNotApproved))

	_, err = f.authz.ApproveAuthorization(ctx, models.Actor{UserID: "u-mgr"}, authorization.ApproveParams{ID: req.AuthorizationID})
	require.NoError(t, err)

	other := p
	other.BudgetEstimateID = "be-2"
	_, err = f.ledger.RecordBudgetTransaction(ctx, poster, other)
	assert.True(t, errors.Is(err, models.ErrNotApproved))

	res, err := f.ledger.RecordBudgetTransaction(ctx, poster, p)
	require.NoError(t, err)
	assert.True(t, res.Available.Equal(d("-500")))
}

func TestRecordBudgetTransaction_ConcurrentWritersOnOneRow(t *testing.T) {
	f := newFixture()
	ctx := context.Background()

	const writers = 40
	var wg sync.WaitGroup
	for i := 0; i < writers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := f.ledger.RecordBudgetTransaction(ctx, poster, record(models.TransactionSpending, "10"))
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	e, err := f.store.GetBudgetEstimate(ctx, "be-1")
	require.NoError(t, err)
	assert.True(t, e.SpentAmount.Equal(d("400")))

	txs, err := f.ledger.ListTransactions(ctx, models.TransactionFilter{BudgetEstimateID: "be-1"})
	require.NoError(t, err)
	require.Len(t, txs, writers)
	// snapshots follow commit order
	for i, tx := range txs {
		assert.True(t, tx.BudgetSpent.Equal(decimal.NewFromInt(int64(10*(i+1)))))
	}
}

func TestTransferBudget(t *testing.T) {
	f := newFixture()
	ctx := context.Background()

	res, err := f.ledger.TransferBudget(ctx, poster, TransferParams{
		FromBudgetEstimateID: "be-1",
		ToBudgetEstimateID:   "be-2",
		Amount:               d("150"),
		DocNo:                "BT-7",
		FiscalYear:           2025,
		Period:               6,
	})
	require.NoError(t, err)
	assert.True(t, res.Out.Available.Equal(d("850")))
	assert.True(t, res.In.Balances.Allocated.Equal(d("550")))

	_, err = f.ledger.TransferBudget(ctx, poster, TransferParams{
		FromBudgetEstimateID: "be-1", ToBudgetEstimateID: "be-1", Amount: d("1"), FiscalYear: 2025, Period: 6,
	})
	assert.True(t, errors.Is(err, models.ErrInvalidTransaction))
}

func TestTransferBudget_CompensatesFailedReceivingSide(t *testing.T) {
	f := newFixture()
	ctx := context.Background()

	_, err := f.ledger.TransferBudget(ctx, poster, TransferParams{
		FromBudgetEstimateID: "be-1",
		ToBudgetEstimateID:   "missing",
		Amount:               d("150"),
		FiscalYear:           2025,
		Period:               6,
	})
	assert.True(t, errors.Is(err, models.ErrNotFound))

	e, err := f.store.GetBudgetEstimate(ctx, "be-1")
	require.NoError(t, err)
	assert.True(t, e.SpentAmount.IsZero())

	txs, err := f.ledger.ListTransactions(ctx, models.TransactionFilter{BudgetEstimateID: "be-1"})
	require.NoError(t, err)
	require.Len(t, txs, 2)
	assert.Equal(t, models.TransactionTransferOut, txs[0].TransactionType)
	assert.Equal(t, models.TransactionReversal, txs[1].TransactionType)
}

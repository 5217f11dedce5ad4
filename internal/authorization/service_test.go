package authorization

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/sheikh-saqib/budget-compliance-engine/internal/audit"
	"github.com/sheikh-saqib/budget-compliance-engine/internal/availability"
	"github.com/sheikh-saqib/budget-compliance-engine/internal/clock"
	"github.com/sheikh-saqib/budget-compliance-engine/internal/models"
	"github.com/sheikh-saqib/budget-compliance-engine/internal/models/events"
	"github.com/sheikh-saqib/budget-compliance-engine/internal/storage/memory"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	now       = time.Date(2025, 5, 1, 10, 0, 0, 0, time.UTC)
	requester = models.Actor{UserID: "u-req", Username: "budi", Role: "STAFF"}
	approver  = models.Actor{UserID: "u-mgr", Username: "sari", Role: "MANAGER"}
)

type capturePublisher struct {
	mu     sync.Mutex
	events []any
}

func (p *capturePublisher) Publish(_ context.Context, topic, key string, event any) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, event)
	return nil
}

type fixture struct {
	svc   *Service
	store *memory.MemoryLedgerStore
	clock *clock.Fixed
	pub   *capturePublisher
}

func newFixture() fixture {
	store := memory.NewMemoryLedgerStore()
	store.PutBudgetEstimate(models.BudgetEstimate{
		ID:              "be-1",
		ItemCode:        "5.2.01",
		FiscalYear:      2025,
		AllocatedAmount: d("100"),
		SpentAmount:     d("70"),
		Status:          models.EstimateStatusExecuting,
	})
	clk := clock.NewFixed(now)
	pub := &capturePublisher{}
	svc := NewService(Deps{
		Store:     store,
		Budgets:   store,
		Periods:   store,
		Audit:     audit.NewLogger(store, clk, nil),
		Publisher: pub,
		Clock:     clk,
		CompanyID: "C1",
	})
	return fixture{svc: svc, store: store, clock: clk, pub: pub}
}

func (f fixture) create(t *testing.T, amount string) CreateResult {
	t.Helper()
	res, err := f.svc.CreateSpendingAuthorization(context.Background(), requester, CreateParams{
		RequestType:      models.ApprovalBudgetOverride,
		BudgetEstimateID: "be-1",
		FiscalYear:       2025,
		RequestedAmount:  d(amount),
		Purpose:          "server replacement",
	})
	require.NoError(t, err)
	return res
}

func (f fixture) trail(t *testing.T, id string) []models.AuditRecord {
	t.Helper()
	recs, err := f.store.QueryAuditRecords(context.Background(), models.AuditFilter{EntityType: models.EntitySpendingAuthorization, EntityID: id})
	require.NoError(t, err)
	return recs
}

func TestCheckBudgetForSpending(t *testing.T) {
	f := newFixture()
	ctx := context.Background()

	got, err := f.svc.CheckBudgetForSpending(ctx, SpendingCheck{Selector: availability.ByEstimate{ID: "be-1"}, Amount: d("15")})
	require.NoError(t, err)
	assert.Equal(t, StatusWarning, got.Status)

	got, err = f.svc.CheckBudgetForSpending(ctx, SpendingCheck{Selector: availability.ByEstimate{ID: "missing"}, Amount: d("1")})
	require.NoError(t, err)
	assert.Equal(t, StatusNoBudget, got.Status)

	f.store.PutPeriod(models.BudgetPeriod{
		PeriodKey:        models.PeriodKey{FiscalYear: 2025, PeriodNumber: 1, CompanyID: "C1"},
		WarningThreshold: d("70"),
		BlockThreshold:   d("80"),
	})
	got, err = f.svc.CheckBudgetForSpending(ctx, SpendingCheck{Selector: availability.ByEstimate{ID: "be-1"}, Amount: d("15")})
	require.NoError(t, err)
	assert.Equal(t, StatusThresholdExceeded, got.Status)

	got, err = f.svc.CheckBudgetForSpending(ctx, SpendingCheck{Selector: availability.ByEstimate{ID: "be-1"}, Amount: d("35")})
	require.NoError(t, err)
	assert.Equal(t, StatusOverBudget, got.Status)
	assert.True(t, errors.Is(got.Err(), models.ErrBudgetBlocked))

	// the check never writes
	e, err := f.store.GetBudgetEstimate(ctx, "be-1")
	require.NoError(t, err)
	assert.True(t, e.SpentAmount.Equal(d("70")))
	assert.True(t, e.CommittedAmount.IsZero())
}

func TestCreateSpendingAuthorization(t *testing.T) {
	f := newFixture()

	res := f.create(t, "35")
	assert.Equal(t, models.AuthorizationPending, res.Status)
	assert.Equal(t, 1, res.RequiredLevel)
	assert.Equal(t, now.Add(48*time.Hour), res.ExpiresAt)

	stored, err := f.store.GetAuthorization(context.Background(), res.AuthorizationID)
	require.NoError(t, err)
	assert.True(t, stored.BudgetAvailable.Equal(d("30")))
	assert.Equal(t, "u-req", stored.RequestedBy)

	trail := f.trail(t, res.AuthorizationID)
	require.Len(t, trail, 1)
	assert.Equal(t, models.AuditActionCreate, trail[0].Action)

	big := f.create(t, "50000001")
	assert.Equal(t, 2, big.RequiredLevel)
}

func TestCreateSpendingAuthorization_Validation(t *testing.T) {
	f := newFixture()
	ctx := context.Background()

	_, err := f.svc.CreateSpendingAuthorization(ctx, requester, CreateParams{
		RequestType: models.ApprovalBudgetOverride, FiscalYear: 2025, RequestedAmount: d("1"), Purpose: "x",
	})
	assert.True(t, errors.Is(err, models.ErrInvalidSelector))

	_, err = f.svc.CreateSpendingAuthorization(ctx, requester, CreateParams{
		RequestType: models.ApprovalBudgetOverride, BudgetEstimateID: "be-1", FiscalYear: 2025, RequestedAmount: d("-1"), Purpose: "x",
	})
	assert.True(t, errors.Is(err, models.ErrValidation))

	_, err = f.svc.CreateSpendingAuthorization(ctx, requester, CreateParams{
		RequestType: "OTHER", BudgetEstimateID: "be-1", FiscalYear: 2025, RequestedAmount: d("1"), Purpose: "x",
	})
	assert.True(t, errors.Is(err, models.ErrValidation))

	_, err = f.svc.CreateSpendingAuthorization(ctx, requester, CreateParams{
		RequestType: models.ApprovalBudgetOverride, BudgetEstimateID: "missing", FiscalYear: 2025, RequestedAmount: d("1"), Purpose: "x",
	})
	assert.True(t, errors.Is(err, models.ErrNotFound))
}

func TestApproveAuthorization(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	res := f.create(t, "35")

	f.clock.Advance(2 * time.Hour)
	a, err := f.svc.ApproveAuthorization(ctx, approver, ApproveParams{ID: res.AuthorizationID, Notes: "ok"})
	require.NoError(t, err)
	assert.Equal(t, models.AuthorizationApproved, a.Status)
	assert.Equal(t, "u-mgr", a.ApprovedBy)
	require.NotNil(t, a.ApprovedAmount)
	assert.True(t, a.ApprovedAmount.Equal(d("35")))
	require.NotNil(t, a.ApprovedAt)
	assert.Equal(t, now.Add(2*time.Hour), *a.ApprovedAt)

	trail := f.trail(t, res.AuthorizationID)
	require.Len(t, trail, 2)
	assert.Equal(t, models.AuditActionApprove, trail[0].Action)
	assert.Equal(t, "PENDING", trail[0].OldValues["status"])
	assert.Equal(t, "APPROVED", trail[0].NewValues["status"])
	assert.Equal(t, approver, trail[0].Actor)

	require.Len(t, f.pub.events, 1)
	decided := f.pub.events[0].(events.AuthorizationDecided)
	assert.Equal(t, "APPROVED", decided.Status)

	_, err = f.svc.ApproveAuthorization(ctx, approver, ApproveParams{ID: res.AuthorizationID})
	assert.True(t, errors.Is(err, models.ErrAlreadyProcessed))
	_, err = f.svc.RejectAuthorization(ctx, approver, RejectParams{ID: res.AuthorizationID, Reason: "late"})
	assert.True(t, errors.Is(err, models.ErrAlreadyProcessed))

	// expiry does not touch terminal rows
	f.clock.Advance(100 * time.Hour)
	got, err := f.svc.GetAuthorization(ctx, res.AuthorizationID)
	require.NoError(t, err)
	assert.Equal(t, models.AuthorizationApproved, got.Status)
}

func TestApproveAuthorization_PartialAmount(t *testing.T) {
	f := newFixture()
	res := f.create(t, "35")

	amount := d("20")
	a, err := f.svc.ApproveAuthorization(context.Background(), approver, ApproveParams{ID: res.AuthorizationID, ApprovedAmount: &amount})
	require.NoError(t, err)
	assert.True(t, a.ApprovedAmount.Equal(d("20")))
}

func TestApproveAuthorization_NotFound(t *testing.T) {
	f := newFixture()

	_, err := f.svc.ApproveAuthorization(context.Background(), approver, ApproveParams{ID: "missing"})
	assert.True(t, errors.Is(err, models.ErrNotFound))
}

func TestApproveAuthorization_Expired(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	res := f.create(t, "35")

	f.clock.Advance(48*time.Hour + time.Second)

	got, err := f.svc.GetAuthorization(ctx, res.AuthorizationID)
	require.NoError(t, err)
	assert.Equal(t, models.AuthorizationExpired, got.Status)

	stored, err := f.store.GetAuthorization(ctx, res.AuthorizationID)
	require.NoError(t, err)
	assert.Equal(t, models.AuthorizationPending, stored.Status)

	_, err = f.svc.ApproveAuthorization(ctx, approver, ApproveParams{ID: res.AuthorizationID})
	assert.True(t, errors.Is(err, models.ErrExpired))

	stored, err = f.store.GetAuthorization(ctx, res.AuthorizationID)
	require.NoError(t, err)
	assert.Equal(t, models.AuthorizationExpired, stored.Status)

	// the row is now stored EXPIRED, so later decisions see a processed request
	_, err = f.svc.RejectAuthorization(ctx, approver, RejectParams{ID: res.AuthorizationID, Reason: "too late"})
	assert.True(t, errors.Is(err, models.ErrAlreadyProcessed))
	assert.False(t, errors.Is(err, models.ErrExpired))

	_, err = f.svc.ApproveAuthorization(ctx, approver, ApproveParams{ID: res.AuthorizationID})
	assert.True(t, errors.Is(err, models.ErrAlreadyProcessed))

	trail := f.trail(t, res.AuthorizationID)
	require.Len(t, trail, 2)
	assert.Equal(t, models.AuditActionExpire, trail[0].Action)
	assert.Equal(t, models.SystemActor, trail[0].Actor)
}

// staleReadStore serves the authorization as it was at creation, the way a
// reader racing a concurrent expiry would see it.
type staleReadStore struct {
	*memory.MemoryLedgerStore
	snapshot models.SpendingAuthorization
}

func (s staleReadStore) GetAuthorization(context.Context, string) (models.SpendingAuthorization, error) {
	return s.snapshot, nil
}

func TestApproveAuthorization_ExpiryLostToConcurrentWriter(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	res := f.create(t, "35")

	snapshot, err := f.store.GetAuthorization(ctx, res.AuthorizationID)
	require.NoError(t, err)

	f.clock.Advance(48*time.Hour + time.Second)
	_, err = f.svc.ApproveAuthorization(ctx, approver, ApproveParams{ID: res.AuthorizationID})
	require.True(t, errors.Is(err, models.ErrExpired))

	stale := NewService(Deps{
		Store:     staleReadStore{MemoryLedgerStore: f.store, snapshot: snapshot},
		Budgets:   f.store,
		Periods:   f.store,
		Audit:     audit.NewLogger(f.store, f.clock, nil),
		Clock:     f.clock,
		CompanyID: "C1",
	})
	_, err = stale.RejectAuthorization(ctx, approver, RejectParams{ID: res.AuthorizationID, Reason: "late"})
	assert.True(t, errors.Is(err, models.ErrAlreadyProcessed))

	// the losing call writes no second EXPIRE record
	assert.Len(t, f.trail(t, res.AuthorizationID), 2)
}

func TestRejectAuthorization(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	res := f.create(t, "35")

	_, err := f.svc.RejectAuthorization(ctx, approver, RejectParams{ID: res.AuthorizationID})
	assert.True(t, errors.Is(err, models.ErrValidation))

	a, err := f.svc.RejectAuthorization(ctx, approver, RejectParams{ID: res.AuthorizationID, Reason: "not in plan"})
	require.NoError(t, err)
	assert.Equal(t, models.AuthorizationRejected, a.Status)
	assert.Equal(t, "not in plan", a.RejectionReason)

	_, err = f.svc.ApproveAuthorization(ctx, approver, ApproveParams{ID: res.AuthorizationID})
	assert.True(t, errors.Is(err, models.ErrAlreadyProcessed))

	_, err = f.svc.RequireApproved(ctx, res.AuthorizationID)
	assert.True(t, errors.Is(err, models.ErrNotApproved))
}

func TestConcurrentDecisionsYieldOneSuccess(t *testing.T) {
	f := newFixture()
	res := f.create(t, "35")

	const workers = 16
	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		successes int
		processed int
	)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			var err error
			if i%2 == 0 {
				_, err = f.svc.ApproveAuthorization(context.Background(), approver, ApproveParams{ID: res.AuthorizationID})
			} else {
				_, err = f.svc.RejectAuthorization(context.Background(), approver, RejectParams{ID: res.AuthorizationID, Reason: "race"})
			}
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				successes++
			case errors.Is(err, models.ErrAlreadyProcessed):
				processed++
			}
		}(i)
	}
	wg.Wait()

	assert.Equal(t, 1, successes)
	assert.Equal(t, workers-1, processed)
}

func TestListAuthorizations_UsesEffectiveStatus(t *testing.T) {
	f := newFixture()
	ctx := context.Background()

	stale := f.create(t, "10")
	f.clock.Advance(49 * time.Hour)
	fresh := f.create(t, "20")

	expired, err := f.svc.ListAuthorizations(ctx, models.AuthorizationFilter{Statuses: []models.AuthorizationStatus{models.AuthorizationExpired}})
	require.NoError(t, err)
	require.Len(t, expired, 1)
	assert.Equal(t, stale.AuthorizationID, expired[0].ID)

	pending, err := f.svc.ListAuthorizations(ctx, models.AuthorizationFilter{Statuses: []models.AuthorizationStatus{models.AuthorizationPending}})
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, fresh.AuthorizationID, pending[0].ID)

	all, err := f.svc.ListAuthorizations(ctx, models.AuthorizationFilter{FiscalYear: 2025})
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.Equal(t, fresh.AuthorizationID, all[0].ID)
	assert.Equal(t, models.AuthorizationExpired, all[1].Status)
}

func TestRequireApproved(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	res := f.create(t, "35")

	_, err := f.svc.RequireApproved(ctx, res.AuthorizationID)
	assert.True(t, errors.Is(err, models.ErrNotApproved))

	_, err = f.svc.ApproveAuthorization(ctx, approver, ApproveParams{ID: res.AuthorizationID})
	require.NoError(t, err)

	a, err := f.svc.RequireApproved(ctx, res.AuthorizationID)
	require.NoError(t, err)
	assert.Equal(t, res.AuthorizationID, a.ID)
}

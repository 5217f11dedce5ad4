package alert

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/sheikh-saqib/budget-compliance-engine/internal/audit"
	"github.com/sheikh-saqib/budget-compliance-engine/internal/availability"
	"github.com/sheikh-saqib/budget-compliance-engine/internal/clock"
	"github.com/sheikh-saqib/budget-compliance-engine/internal/ledger"
	"github.com/sheikh-saqib/budget-compliance-engine/internal/models"
	"github.com/sheikh-saqib/budget-compliance-engine/internal/storage/memory"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	start    = time.Date(2025, 7, 1, 9, 0, 0, 0, time.UTC)
	operator = models.Actor{UserID: "u-ops", Username: "rina", Role: "BUDGET_OFFICER"}
)

func d(v string) decimal.Decimal { return decimal.RequireFromString(v) }

func newEngine() (*Engine, *memory.MemoryLedgerStore, *clock.Fixed) {
	store := memory.NewMemoryLedgerStore()
	clk := clock.NewFixed(start)
	return NewEngine(store, audit.NewLogger(store, clk, nil), nil, clk, nil), store, clk
}

func alertParams(t models.AlertType, s models.Severity, estimateID string) CreateParams {
	return CreateParams{
		AlertType:        t,
		Severity:         s,
		BudgetEstimateID: estimateID,
		FiscalYear:       2025,
		ThresholdPercent: d("80"),
		CurrentPercent:   d("85"),
		Message:          "utilization above warning",
	}
}

func TestCreateBudgetAlert(t *testing.T) {
	e, store, _ := newEngine()
	ctx := context.Background()

	id, err := e.CreateBudgetAlert(ctx, operator, alertParams(models.AlertWarningThreshold, models.SeverityMedium, "be-1"))
	require.NoError(t, err)

	a, err := store.GetAlert(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, models.AlertActive, a.Status)
	assert.True(t, a.CurrentPercent.Equal(d("85")))
	assert.Equal(t, "u-ops", a.CreatedBy)

	_, err = e.CreateBudgetAlert(ctx, operator, alertParams(models.AlertWarningThreshold, "URGENT", "be-1"))
	assert.True(t, errors.Is(err, models.ErrValidation))

	_, err = e.CreateBudgetAlert(ctx, operator, alertParams(models.AlertWarningThreshold, models.SeverityLow, ""))
	assert.True(t, errors.Is(err, models.ErrInvalidSelector))
}

func TestGetActiveAlerts_Ordering(t *testing.T) {
	e, _, clk := newEngine()
	ctx := context.Background()

	ids := map[string]string{}
	for _, c := range []struct {
		name string
		sev  models.Severity
	}{
		{"low", models.SeverityLow},
		{"medium-old", models.SeverityMedium},
		{"critical", models.SeverityCritical},
		{"medium-new", models.SeverityMedium},
		{"high", models.SeverityHigh},
	} {
		clk.Advance(time.Minute)
		id, err := e.CreateBudgetAlert(ctx, operator, alertParams(models.AlertWarningThreshold, c.sev, "be-"+c.name))
		require.NoError(t, err)
		ids[c.name] = id
	}

	_, err := e.ResolveAlert(ctx, operator, ResolveParams{ID: ids["high"], Action: ActionResolve})
	require.NoError(t, err)
	_, err = e.ResolveAlert(ctx, operator, ResolveParams{ID: ids["low"], Action: ActionAcknowledge})
	require.NoError(t, err)

	active, err := e.GetActiveAlerts(ctx, models.AlertFilter{})
	require.NoError(t, err)
	got := make([]string, 0, len(active))
	for _, a := range active {
		got = append(got, a.ID)
	}
	assert.Equal(t, []string{ids["critical"], ids["medium-new"], ids["medium-old"], ids["low"]}, got)
}

func TestResolveAlert_Transitions(t *testing.T) {
	e, store, clk := newEngine()
	ctx := context.Background()

	id, err := e.CreateBudgetAlert(ctx, operator, alertParams(models.AlertBlockThreshold, models.SeverityHigh, "be-1"))
	require.NoError(t, err)

	clk.Advance(time.Hour)
	a, err := e.ResolveAlert(ctx, operator, ResolveParams{ID: id, Action: ActionAcknowledge, Notes: "seen"})
	require.NoError(t, err)
	assert.Equal(t, models.AlertAcknowledged, a.Status)
	assert.Equal(t, "u-ops", a.AcknowledgedBy)
	assert.Equal(t, "seen", a.AcknowledgeNotes)
	require.NotNil(t, a.AcknowledgedAt)

	_, err = e.ResolveAlert(ctx, operator, ResolveParams{ID: id, Action: ActionAcknowledge})
	assert.True(t, errors.Is(err, models.ErrAlreadyProcessed))

	clk.Advance(time.Hour)
	a, err = e.ResolveAlert(ctx, operator, ResolveParams{ID: id, Action: ActionResolve, Notes: "budget revised"})
	require.NoError(t, err)
	assert.Equal(t, models.AlertResolved, a.Status)
	assert.Equal(t, "budget revised", a.ResolveNotes)
	assert.Equal(t, "seen", a.AcknowledgeNotes)

	_, err = e.ResolveAlert(ctx, operator, ResolveParams{ID: id, Action: ActionResolve})
	assert.True(t, errors.Is(err, models.ErrAlreadyProcessed))

	_, err = e.ResolveAlert(ctx, operator, ResolveParams{ID: "missing", Action: ActionResolve})
	assert.True(t, errors.Is(err, models.ErrNotFound))

	_, err = e.ResolveAlert(ctx, operator, ResolveParams{ID: id, Action: "dismiss"})
	assert.True(t, errors.Is(err, models.ErrValidation))

	trail, err := store.QueryAuditRecords(ctx, models.AuditFilter{EntityType: models.EntityBudgetAlert, EntityID: id})
	require.NoError(t, err)
	require.Len(t, trail, 3)
	assert.Equal(t, models.AuditActionResolve, trail[0].Action)
	assert.Equal(t, "ACKNOWLEDGED", trail[0].OldValues["status"])
}

func TestClassify(t *testing.T) {
	policy := availability.DefaultPolicy

	_, _, _, ok := Classify(availability.Compute(d("100"), d("0"), d("50")), policy)
	assert.False(t, ok)

	typ, sev, threshold, ok := Classify(availability.Compute(d("100"), d("10"), d("75")), policy)
	require.True(t, ok)
	assert.Equal(t, models.AlertWarningThreshold, typ)
	assert.Equal(t, models.SeverityMedium, sev)
	assert.True(t, threshold.Equal(d("80")))

	typ, sev, _, ok = Classify(availability.Compute(d("100"), d("0"), d("100")), policy)
	require.True(t, ok)
	assert.Equal(t, models.AlertBlockThreshold, typ)
	assert.Equal(t, models.SeverityHigh, sev)

	typ, sev, _, ok = Classify(availability.Compute(d("100"), d("0"), d("101")), policy)
	require.True(t, ok)
	assert.Equal(t, models.AlertOverBudget, typ)
	assert.Equal(t, models.SeverityCritical, sev)
}

func TestMonitor_RaisesDeduplicatedAlerts(t *testing.T) {
	e, store, clk := newEngine()
	ctx := context.Background()
	store.PutBudgetEstimate(models.BudgetEstimate{
		ID: "be-1", ItemCode: "5.3.01", FiscalYear: 2025, AllocatedAmount: d("100"), Status: models.EstimateStatusExecuting,
	})

	l := ledger.NewLedger(ledger.Deps{Store: store, Audit: audit.NewLogger(store, clk, nil), Clock: clk})
	l.RegisterObserver(NewMonitor(e, availability.NewPolicyResolver(store), "C1"))

	spend := func(amount string) {
		_, err := l.RecordBudgetTransaction(ctx, operator, ledger.RecordParams{
			BudgetEstimateID: "be-1",
			TransactionType:  models.TransactionSpending,
			Amount:           d(amount),
			FiscalYear:       2025,
			Period:           7,
		})
		require.NoError(t, err)
	}

	spend("50")
	active, err := e.GetActiveAlerts(ctx, models.AlertFilter{BudgetEstimateID: "be-1"})
	require.NoError(t, err)
	assert.Empty(t, active)

	spend("35") // 85%
	spend("5")  // 90%, same warning still open
	active, err = e.GetActiveAlerts(ctx, models.AlertFilter{BudgetEstimateID: "be-1"})
	require.NoError(t, err)
	require.Len(t, active, 1)
	assert.Equal(t, models.AlertWarningThreshold, active[0].AlertType)
	assert.Equal(t, models.SystemActor.UserID, active[0].CreatedBy)

	spend("20") // 110%
	active, err = e.GetActiveAlerts(ctx, models.AlertFilter{BudgetEstimateID: "be-1"})
	require.NoError(t, err)
	require.Len(t, active, 2)
	assert.Equal(t, models.AlertOverBudget, active[0].AlertType)
	assert.Equal(t, models.SeverityCritical, active[0].Severity)
	assert.True(t, active[0].AvailableAmount.Equal(d("-10")))
	assert.Contains(t, active[0].Message, "over budget by 10.00")
}

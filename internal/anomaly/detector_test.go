package anomaly

import (
	"context"
	"testing"
	"time"

	"github.com/sheikh-saqib/budget-compliance-engine/internal/audit"
	"github.com/sheikh-saqib/budget-compliance-engine/internal/clock"
	"github.com/sheikh-saqib/budget-compliance-engine/internal/models"
	"github.com/sheikh-saqib/budget-compliance-engine/internal/storage/memory"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var postedAt = time.Date(2025, 8, 15, 14, 0, 0, 0, time.UTC)

func d(v string) decimal.Decimal { return decimal.RequireFromString(v) }

func posting(id, voucher, docNo, partnerCode, partnerName, amount string) models.Posting {
	return models.Posting{
		ID:          id,
		VoucherID:   voucher,
		DocNo:       docNo,
		FiscalYear:  2025,
		Period:      8,
		PartnerCode: partnerCode,
		PartnerName: partnerName,
		Amount:      d(amount),
		PostedAt:    postedAt,
	}
}

func newDetector(store *memory.MemoryLedgerStore) (*Detector, *audit.Logger) {
	log := audit.NewLogger(store, clock.NewFixed(postedAt.Add(time.Hour)), nil)
	return NewDetector(store, store, log, nil, nil, nil), log
}

func TestDuplicateDocuments_TwoVouchersOneAnomaly(t *testing.T) {
	store := memory.NewMemoryLedgerStore()
	store.AddPosting(posting("p1", "v1", "INV-001", "S1", "PT Maju", "100"))
	store.AddPosting(posting("p2", "v1", "INV-001", "S1", "PT Maju", "-100"))
	store.AddPosting(posting("p3", "v2", "INV-001", "S1", "PT Maju", "100"))
	store.AddPosting(posting("p4", "v3", "INV-002", "S2", "CV Jaya", "40"))
	det, _ := newDetector(store)

	found, err := det.Run(context.Background(), 2025)
	require.NoError(t, err)
	require.Len(t, found, 1)

	a := found[0]
	assert.Equal(t, models.AnomalyDuplicateDocument, a.AnomalyType)
	assert.Equal(t, models.SeverityMedium, a.Severity)
	assert.Equal(t, "2", a.DetectedValue)
	assert.Equal(t, "1", a.ExpectedValue)
	assert.Equal(t, 50, a.RiskScore)
	assert.Equal(t, "INV-001", a.DocNo)
	assert.Equal(t, models.AnomalyOpen, a.Status)
	assert.NotEmpty(t, a.ID)
}

func TestDuplicateDocuments_OtherYearsIgnored(t *testing.T) {
	p := posting("p9", "v9", "INV-001", "S1", "PT Maju", "5")
	p.FiscalYear = 2024
	got := DuplicateDocuments([]models.Posting{
		posting("p1", "v1", "INV-001", "S1", "PT Maju", "5"),
		p,
	}, 2025)
	assert.Empty(t, got)
}

func TestBudgetOverruns(t *testing.T) {
	got := BudgetOverruns([]models.BudgetEstimate{
		{ID: "be-2", ItemCode: "5.1", Status: models.EstimateStatusExecuting, AllocatedAmount: d("100"), SpentAmount: d("130"), FiscalYear: 2025},
		{ID: "be-1", ItemCode: "5.2", Status: models.EstimateStatusExecuting, AllocatedAmount: d("100"), SpentAmount: d("100"), FiscalYear: 2025},
		{ID: "be-3", ItemCode: "5.3", Status: models.EstimateStatusClosed, AllocatedAmount: d("100"), SpentAmount: d("500"), FiscalYear: 2025},
	})
	require.Len(t, got, 1)
	assert.Equal(t, "be-2", got[0].EntityID)
	assert.Equal(t, models.SeverityHigh, got[0].Severity)
	assert.Equal(t, 80, got[0].RiskScore)
	assert.True(t, got[0].AmountImpact.Equal(d("30")))
}

func TestRiskyPartners(t *testing.T) {
	got := RiskyPartners([]models.Posting{
		posting("p1", "v1", "A", "S9", "Suspect Trading Ltd", "250"),
		posting("p2", "v2", "B", "S9", "Suspect Trading Ltd", "-50"),
		posting("p3", "v3", "C", "S1", "PT Maju", "1000"),
		posting("p4", "v4", "D", "S7", "blacklist supplies", "10"),
	}, 2025, DefaultRiskMarkers)
	require.Len(t, got, 2)

	assert.Equal(t, "S7", got[0].EntityID)
	assert.Equal(t, "S9", got[1].EntityID)
	assert.True(t, got[1].AmountImpact.Equal(d("300")))
	assert.Equal(t, 90, got[1].RiskScore)
	assert.Equal(t, models.SeverityHigh, got[1].Severity)
}

func TestRun_AllChecksPersisted(t *testing.T) {
	store := memory.NewMemoryLedgerStore()
	store.PutBudgetEstimate(models.BudgetEstimate{
		ID: "be-1", ItemCode: "5.1", FiscalYear: 2025, Status: models.EstimateStatusExecuting,
		AllocatedAmount: d("100"), SpentAmount: d("150"),
	})
	store.AddPosting(posting("p1", "v1", "INV-7", "S1", "Unknown Vendor", "20"))
	store.AddPosting(posting("p2", "v2", "INV-7", "S1", "Unknown Vendor", "30"))
	det, log := newDetector(store)
	ctx := context.Background()

	found, err := det.Run(ctx, 2025)
	require.NoError(t, err)
	require.Len(t, found, 3)
	assert.Equal(t, models.AnomalyBudgetOverrun, found[0].AnomalyType)
	assert.Equal(t, models.AnomalyDuplicateDocument, found[1].AnomalyType)
	assert.Equal(t, models.AnomalyRiskyPartner, found[2].AnomalyType)

	stored, err := log.QueryAnomalies(ctx, models.AnomalyFilter{FiscalYear: 2025})
	require.NoError(t, err)
	assert.Len(t, stored, 3)

	// not deduplicated across runs
	_, err = det.Run(ctx, 2025)
	require.NoError(t, err)
	stored, err = log.QueryAnomalies(ctx, models.AnomalyFilter{FiscalYear: 2025})
	require.NoError(t, err)
	assert.Len(t, stored, 6)
}

func TestNewDetector_CustomMarkers(t *testing.T) {
	store := memory.NewMemoryLedgerStore()
	store.AddPosting(posting("p1", "v1", "X-1", "S5", "Shadow Corp", "70"))
	log := audit.NewLogger(store, clock.NewFixed(postedAt), nil)
	det := NewDetector(store, store, log, nil, nil, []string{" shadow "})

	found, err := det.Run(context.Background(), 2025)
	require.NoError(t, err)
	require.Len(t, found, 1)
	assert.Equal(t, models.AnomalyRiskyPartner, found[0].AnomalyType)
}
